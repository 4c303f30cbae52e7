// Package monitor turns a master account's polled open-order snapshots into
// a deduplicated stream of lifecycle events. The exchange offers no usable
// push feed for fills and cancellations across restarts, so transitions are
// inferred by diffing successive snapshots.
package monitor

import (
	"context"
	"fmt"
	"time"

	"copytrade/internal/gateway/exchange"
	"copytrade/internal/logger"
	"copytrade/internal/pkg/circuit"
)

// SnapshotSource provides the open-order snapshot for one account. It is
// the only exchange surface the diff logic needs, so tests can feed
// synthetic snapshots.
type SnapshotSource interface {
	GetOpenOrders(ctx context.Context, accountID int64) ([]exchange.OrderSummary, error)
}

// Handler consumes the synthesized events. Opened fires once per new
// propagation-eligible order; Updated on status changes; Closed when an
// order leaves the open book, carrying its last-known fields.
type Handler interface {
	HandleOpened(ctx context.Context, masterID int64, order exchange.OrderSummary) error
	HandleUpdated(ctx context.Context, masterID int64, order exchange.OrderSummary) error
	HandleClosed(ctx context.Context, masterID int64, order exchange.OrderSummary) error
}

// Options tunes one monitor. Zero values fall back to the defaults below.
type Options struct {
	Interval      time.Duration // poll cadence
	FailureSleep  time.Duration // extra sleep after a failed tick
	StartupWindow time.Duration // max age of orders propagated on the first tick

	BreakerThreshold int
	BreakerTimeout   time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.FailureSleep <= 0 {
		o.FailureSleep = 5 * time.Second
	}
	if o.StartupWindow <= 0 {
		o.StartupWindow = 5 * time.Minute
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Monitor polls one master account. Not safe for concurrent Tick calls; the
// supervisor runs exactly one goroutine per monitor.
type Monitor struct {
	masterID int64
	source   SnapshotSource
	handler  Handler
	opts     Options
	breaker  *circuit.Breaker

	serviceStart    time.Time
	startupComplete bool
	last            map[string]exchange.OrderSummary
}

func New(masterID int64, source SnapshotSource, handler Handler, opts Options) *Monitor {
	final := opts.withDefaults()
	breaker := circuit.NewBreaker(fmt.Sprintf("monitor-%d", masterID), final.BreakerThreshold, final.BreakerTimeout)
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("[monitor] master %d snapshot breaker %s -> %s", masterID, from, to)
	})
	return &Monitor{
		masterID:     masterID,
		source:       source,
		handler:      handler,
		opts:         final,
		breaker:      breaker,
		serviceStart: final.Clock(),
		last:         make(map[string]exchange.OrderSummary),
	}
}

// Run polls until ctx is cancelled. Tick failures are logged and retried
// after a bounded sleep; nothing here terminates the loop early.
func (m *Monitor) Run(ctx context.Context) {
	logger.Infof("[monitor] master %d started, interval %s", m.masterID, m.opts.Interval)
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("[monitor] master %d stopped", m.masterID)
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				logger.Warnf("[monitor] master %d tick failed: %v", m.masterID, err)
				if !sleepWithContext(ctx, m.opts.FailureSleep) {
					return
				}
			}
		}
	}
}

// Tick fetches one snapshot and emits the diff. Exported so tests can drive
// the inference logic without the timer loop.
func (m *Monitor) Tick(ctx context.Context) error {
	if !m.breaker.Allow() {
		logger.Debugf("[monitor] master %d tick skipped, breaker open", m.masterID)
		return nil
	}
	orders, err := m.source.GetOpenOrders(ctx, m.masterID)
	if err != nil {
		m.breaker.RecordFailure()
		return err
	}
	m.breaker.RecordSuccess()

	current := make(map[string]exchange.OrderSummary, len(orders))
	for _, order := range orders {
		current[order.ExchangeOrderID] = order
	}

	cutoff := m.startupCutoff()
	for id, order := range current {
		prev, seen := m.last[id]
		if !seen {
			if !m.startupComplete && order.OpenedAt.Before(cutoff) {
				// Pre-existing book on restart: track it so a later
				// disappearance still reconciles, but never propagate.
				logger.Debugf("[monitor] master %d order %s predates startup window, not propagated",
					m.masterID, id)
				continue
			}
			if err := m.handler.HandleOpened(ctx, m.masterID, order); err != nil {
				logger.Errorf("[monitor] master %d opened handler failed for %s: %v", m.masterID, id, err)
			}
			continue
		}
		if prev.Status != order.Status {
			if err := m.handler.HandleUpdated(ctx, m.masterID, order); err != nil {
				logger.Errorf("[monitor] master %d updated handler failed for %s: %v", m.masterID, id, err)
			}
		}
	}
	for id, prev := range m.last {
		if _, still := current[id]; still {
			continue
		}
		if err := m.handler.HandleClosed(ctx, m.masterID, prev); err != nil {
			logger.Errorf("[monitor] master %d closed handler failed for %s: %v", m.masterID, id, err)
		}
	}

	m.last = current
	m.startupComplete = true
	return nil
}

// startupCutoff is max(serviceStart, now-StartupWindow); it only gates the
// first tick.
func (m *Monitor) startupCutoff() time.Time {
	windowStart := m.opts.Clock().Add(-m.opts.StartupWindow)
	if m.serviceStart.After(windowStart) {
		return m.serviceStart
	}
	return windowStart
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
