package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

// RunnerConfig configures a RestartableRunner. Zero durations take defaults.
type RunnerConfig struct {
	Name string
	// MaxRestarts stops restarting after this many failures, 0 is unlimited.
	MaxRestarts    int
	RestartBackoff time.Duration // 1s
	MaxBackoff     time.Duration // 30s
	StopTimeout    time.Duration // 30s
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
	return c
}

// RestartableRunner keeps a long-running function alive: a returned error or
// a panic restarts it after a doubling backoff. A nil return ends the run.
type RestartableRunner struct {
	cfg RunnerConfig
	fn  func(ctx context.Context) error

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastErr  error
	restarts int
}

func NewRestartableRunner(cfg RunnerConfig, fn func(ctx context.Context) error) *RestartableRunner {
	return &RestartableRunner{cfg: cfg.withDefaults(), fn: fn}
}

func (r *RestartableRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("%s is already running", r.cfg.Name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	r.restarts = 0
	r.lastErr = nil

	go r.supervise(runCtx, r.done)
	return nil
}

// Stop cancels the run and waits up to StopTimeout for it to return.
func (r *RestartableRunner) Stop() error {
	r.mu.RLock()
	running, cancel, done := r.running, r.cancel, r.done
	r.mu.RUnlock()

	if !running {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-time.After(r.cfg.StopTimeout):
		return fmt.Errorf("%s: timeout waiting for stop", r.cfg.Name)
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

func (r *RestartableRunner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *RestartableRunner) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func (r *RestartableRunner) RestartCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.restarts
}

func (r *RestartableRunner) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := r.cfg.RestartBackoff
	for ctx.Err() == nil {
		err := r.runOnce(ctx)

		r.mu.Lock()
		r.lastErr = err
		if err != nil && ctx.Err() == nil {
			r.restarts++
		}
		restarts := r.restarts
		r.mu.Unlock()

		switch {
		case ctx.Err() != nil:
			log.Debugf("%s: stopped", r.cfg.Name)
			return
		case err == nil:
			log.Debugf("%s: exited cleanly", r.cfg.Name)
			return
		case r.cfg.MaxRestarts > 0 && restarts >= r.cfg.MaxRestarts:
			log.Errorf("%s: failed %d times, giving up: %v", r.cfg.Name, restarts, err)
			return
		}

		log.Errorf("%s: %v, restarting in %v (attempt %d)", r.cfg.Name, err, backoff, restarts)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff = min(backoff*2, r.cfg.MaxBackoff)
	}
}

func (r *RestartableRunner) runOnce(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.fn(ctx)
}
