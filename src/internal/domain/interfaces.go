// Package domain defines the types shared by the interceptor components and
// the interfaces that let them be replaced in tests.
package domain

import (
	"context"
	"net/netip"

	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
)

// CaptureHandle is the OS resource that diverts DNS and TCP traffic to the
// local listeners. Only one holder may own it at a time.
type CaptureHandle interface {
	// Acquire installs the interception. It fails with a capture error when
	// permissions are missing or the handle is already held.
	Acquire(ctx context.Context) error

	// Release removes the interception. Releasing a handle that is not held is a no-op.
	Release() error

	// Refresh re-installs the interception after network changes. It must only
	// be called while the handle is held.
	Refresh() error

	// Active reports whether the handle is currently held.
	Active() bool
}

// RuleSource provides the current rule snapshot.
type RuleSource interface {
	Current() *rules.RuleSet
}

// HostResolver maps an IP address seen on the wire back to the host name that
// resolved to it.
type HostResolver interface {
	HostFor(addr netip.Addr) (string, bool)
}
