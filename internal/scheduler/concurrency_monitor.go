package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/log"

	"github.com/sourcegraph/repo-converter/internal/concurrency"
)

// ConcurrencyMonitor is the Concurrency Monitor promoted to a first-class
// periodic task alongside the Main Loop: it logs gate occupancy on its
// own interval so operators can see slot pressure even on a long
// REPO_CONVERTER_INTERVAL_SECONDS between ticks.
type ConcurrencyMonitor struct {
	gate     *concurrency.Gate
	logger   log.Logger
	clock    clockwork.Clock
	interval time.Duration
}

// NewConcurrencyMonitor constructs a ConcurrencyMonitor sampling gate on
// interval.
func NewConcurrencyMonitor(gate *concurrency.Gate, interval time.Duration, logger log.Logger) *ConcurrencyMonitor {
	return &ConcurrencyMonitor{
		gate:     gate,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		interval: interval,
	}
}

// WithClock overrides the monitor's clock, for deterministic tests.
func (m *ConcurrencyMonitor) WithClock(clock clockwork.Clock) *ConcurrencyMonitor {
	m.clock = clock
	return m
}

// Run samples gate occupancy on a fixed interval until ctx is cancelled.
func (m *ConcurrencyMonitor) Run(ctx context.Context) {
	for {
		global, perServer := m.gate.Holders()
		fields := []log.Field{
			log.Int("global_held", global),
			log.Int("global_cap", m.gate.GlobalCap()),
		}
		for serverKey, held := range perServer {
			fields = append(fields, log.Int("held_"+serverKey, held))
		}
		m.logger.Debug("concurrency gate occupancy", fields...)

		select {
		case <-m.clock.After(m.interval):
		case <-ctx.Done():
			return
		}
	}
}
