//go:build !dev

package api

import "github.com/go-chi/chi/v5"

func registerPprof(chi.Router) {}
