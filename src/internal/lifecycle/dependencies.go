package lifecycle

import (
	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/dnsproxy"
	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/networking"
	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
)

// Dependencies holds the long-lived components shared by every start of the
// interceptor: the rule store, the session registry, the address book and
// the capture handle.
//
// Usage:
//
//	deps, err := lifecycle.NewDependencies(cfg)
//	ctrl, err := lifecycle.NewController(cfg, deps)
//
// Tests pass their own capture handle with NewDependenciesWithCapture.
type Dependencies struct {
	capture  domain.CaptureHandle
	store    *rules.Store
	sessions *domain.Registry
	book     *dnsproxy.AddressBook
}

// NewDependencies creates the production components for cfg.
func NewDependencies(cfg *config.Config) (*Dependencies, error) {
	capture, err := networking.NewCapture(cfg)
	if err != nil {
		return nil, err
	}
	return NewDependenciesWithCapture(capture), nil
}

func NewDependenciesWithCapture(capture domain.CaptureHandle) *Dependencies {
	return &Dependencies{
		capture:  capture,
		store:    rules.NewStore(nil),
		sessions: domain.NewRegistry(),
		book:     dnsproxy.NewAddressBook(0),
	}
}

func (d *Dependencies) Capture() domain.CaptureHandle {
	return d.capture
}

func (d *Dependencies) Store() *rules.Store {
	return d.store
}

func (d *Dependencies) Sessions() *domain.Registry {
	return d.sessions
}

func (d *Dependencies) AddressBook() *dnsproxy.AddressBook {
	return d.book
}
