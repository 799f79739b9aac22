//go:build dev

package api

import (
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
)

// registerPprof exposes the runtime profiles in dev builds.
func registerPprof(r chi.Router) {
	r.Route("/debug/pprof", func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		// session goroutines and pipe buffers are what usually matter here
		for _, name := range []string{"goroutine", "heap", "allocs", "block", "mutex"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})
}
