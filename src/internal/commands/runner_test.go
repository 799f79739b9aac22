package commands

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRestartableRunner_RestartsOnError(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})

	r := NewRestartableRunner(RunnerConfig{
		Name:           "test",
		RestartBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return stderrors.New("boom")
		}
		close(done)
		<-ctx.Done()
		return nil
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not restarted")
	}

	if got := r.RestartCount(); got != 2 {
		t.Errorf("Expected 2 restarts, got %d", got)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if r.IsRunning() {
		t.Error("Expected runner to be stopped")
	}
}

func TestRestartableRunner_RecoversPanic(t *testing.T) {
	var calls atomic.Int32

	r := NewRestartableRunner(RunnerConfig{
		Name:           "panicky",
		MaxRestarts:    2,
		RestartBackoff: time.Millisecond,
	}, func(ctx context.Context) error {
		calls.Add(1)
		panic("unexpected")
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.RestartCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	if got := calls.Load(); got != 2 {
		t.Errorf("Expected 2 runs before giving up, got %d", got)
	}
	if err := r.LastError(); err == nil {
		t.Error("Expected the panic to be recorded as an error")
	}
}

func TestRestartableRunner_StartTwice(t *testing.T) {
	r := NewRestartableRunner(RunnerConfig{Name: "twice"}, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	if err := r.Start(context.Background()); err == nil {
		t.Error("Expected second Start to fail")
	}
}
