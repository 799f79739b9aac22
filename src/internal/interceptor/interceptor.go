// Package interceptor owns the capture handle and the listeners that receive
// the captured traffic, and moves them through a strict start/stop cycle.
package interceptor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

// ErrInvalidState is matched by every illegal transition error.
var ErrInvalidState = errors.ErrState

type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Stopped, Starting, Running, Stopping} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// DNSServer answers captured DNS queries.
type DNSServer interface {
	Start() error
	Stop() error
}

// SessionRouter routes captured TCP connections.
type SessionRouter interface {
	Start() error
	Stop(ctx context.Context) error
}

// Listeners are the servers receiving captured traffic. Router may be nil
// when no TCP ports are captured.
type Listeners struct {
	DNS    DNSServer
	Router SessionRouter
}

// ListenerFactory builds a fresh set of listeners for every start, stopped
// servers are not reused.
type ListenerFactory func() (*Listeners, error)

// Interceptor ties the capture handle to the listeners.
type Interceptor struct {
	mu    sync.Mutex
	state State

	capture   domain.CaptureHandle
	build     ListenerFactory
	listeners *Listeners
}

func New(capture domain.CaptureHandle, build ListenerFactory) *Interceptor {
	return &Interceptor{capture: capture, build: build}
}

func (i *Interceptor) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// transition moves from one state to another, failing when the interceptor is elsewhere.
func (i *Interceptor) transition(from, to State) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != from {
		return errors.NewStateError("cannot move to " + to.String() + ": interceptor is " + i.state.String())
	}
	i.state = to
	return nil
}

func (i *Interceptor) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// Start acquires the capture handle and starts the listeners. Any failure
// leaves the interceptor Stopped with the handle released. A capture
// failure is returned as a capture error and is not retried.
func (i *Interceptor) Start(ctx context.Context) error {
	if err := i.transition(Stopped, Starting); err != nil {
		return err
	}

	if err := i.capture.Acquire(ctx); err != nil {
		i.setState(Stopped)
		if !stderrors.Is(err, errors.ErrCapture) {
			err = errors.NewCaptureError("failed to acquire capture handle", err)
		}
		return err
	}

	listeners, err := i.startListeners()
	if err != nil {
		if rerr := i.capture.Release(); rerr != nil {
			log.Errorf("Failed to release capture handle: %v", rerr)
		}
		i.setState(Stopped)
		return err
	}

	i.mu.Lock()
	i.listeners = listeners
	i.state = Running
	i.mu.Unlock()

	log.Infof("Interceptor is running")
	return nil
}

func (i *Interceptor) startListeners() (*Listeners, error) {
	listeners, err := i.build()
	if err != nil {
		return nil, err
	}

	if err := listeners.DNS.Start(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to start DNS proxy", err)
	}

	if listeners.Router != nil {
		if err := listeners.Router.Start(); err != nil {
			listeners.DNS.Stop()
			return nil, errors.Wrap(errors.ErrCodeInternal, "failed to start session router", err)
		}
	}

	return listeners, nil
}

// Stop drains the router, stops the DNS proxy and releases the capture
// handle. The handle is released even when a listener fails to stop.
func (i *Interceptor) Stop(ctx context.Context) error {
	if err := i.transition(Running, Stopping); err != nil {
		return err
	}

	i.mu.Lock()
	listeners := i.listeners
	i.listeners = nil
	i.mu.Unlock()

	var errs []error
	if listeners != nil {
		if listeners.Router != nil {
			if err := listeners.Router.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := listeners.DNS.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := i.capture.Release(); err != nil {
		errs = append(errs, err)
	}

	i.setState(Stopped)
	log.Infof("Interceptor stopped")

	return stderrors.Join(errs...)
}

// Refresh re-installs the capture after a network change. It does nothing
// unless the interceptor is running.
func (i *Interceptor) Refresh() error {
	if i.State() != Running {
		return nil
	}
	return i.capture.Refresh()
}
