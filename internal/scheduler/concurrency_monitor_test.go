package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/log/logtest"

	"github.com/sourcegraph/repo-converter/internal/concurrency"
)

func TestConcurrencyMonitorStopsOnContextCancellation(t *testing.T) {
	gate := concurrency.New(4, 4)
	clock := clockwork.NewFakeClock()
	m := NewConcurrencyMonitor(gate, time.Minute, logtest.Scoped(t)).WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run should have returned once ctx was cancelled")
	}
}

func TestConcurrencyMonitorSamplesOnEachTick(t *testing.T) {
	gate := concurrency.New(4, 4)
	tokens, ok := gate.TryAcquire("server-a")
	if !ok {
		t.Fatal("expected to acquire a token")
	}
	defer tokens.Release()

	clock := clockwork.NewFakeClock()
	m := NewConcurrencyMonitor(gate, time.Minute, logtest.Scoped(t)).WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// Two advances means Run has sampled at least twice without panicking
	// or deadlocking against the gate's mutex.
	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	clock.BlockUntil(1)

	cancel()
	<-done
}
