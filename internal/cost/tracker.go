// Package cost accumulates provider spend per operation type and raises
// budget threshold events. Per-call cost also lands in the ledger's
// code_generation facts; this tracker covers the in-process window.
package cost

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Key tags one spend bucket.
type Key struct {
	Provider      string
	OperationType string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Provider, k.OperationType)
}

// Entry is the accumulated spend for one bucket.
type Entry struct {
	CostUSD     float64
	Tokens      int
	Calls       int
	LastSpendAt time.Time
}

// ThresholdFunc is called once per crossed threshold per window.
type ThresholdFunc func(threshold float64, total float64)

// Tracker accumulates spend within a budget window.
type Tracker struct {
	mu          sync.Mutex
	entries     map[Key]Entry
	total       float64
	window      time.Duration
	windowStart time.Time
	thresholds  []float64
	crossed     map[float64]bool
	onThreshold ThresholdFunc
	logger      *slog.Logger
}

// New creates a tracker. thresholds are USD amounts within the budget
// window, checked in ascending order; onThreshold may be nil. A positive
// window rolls the buckets and crossed thresholds over automatically once
// it elapses; window <= 0 never rolls.
func New(thresholds []float64, window time.Duration, onThreshold ThresholdFunc, logger *slog.Logger) *Tracker {
	sorted := append([]float64{}, thresholds...)
	sort.Float64s(sorted)
	return &Tracker{
		entries:     make(map[Key]Entry),
		window:      window,
		windowStart: time.Now(),
		thresholds:  sorted,
		crossed:     make(map[float64]bool),
		onThreshold: onThreshold,
		logger:      logger,
	}
}

// Record adds one call's spend to its bucket and fires any newly crossed
// thresholds.
func (t *Tracker) Record(provider, operationType string, costUSD float64, tokens int) {
	t.mu.Lock()
	if t.window > 0 && time.Since(t.windowStart) >= t.window {
		t.resetLocked()
	}
	key := Key{Provider: provider, OperationType: operationType}
	e := t.entries[key]
	e.CostUSD += costUSD
	e.Tokens += tokens
	e.Calls++
	e.LastSpendAt = time.Now()
	t.entries[key] = e
	t.total += costUSD

	var fired []float64
	for _, th := range t.thresholds {
		if t.total >= th && !t.crossed[th] {
			t.crossed[th] = true
			fired = append(fired, th)
		}
	}
	total := t.total
	cb := t.onThreshold
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Debug("cost recorded", "provider", provider,
			"operation_type", operationType, "cost_usd", costUSD, "window_total", total)
	}
	for _, th := range fired {
		if t.logger != nil {
			t.logger.Warn("cost threshold crossed", "threshold_usd", th, "window_total", total)
		}
		if cb != nil {
			cb(th, total)
		}
	}
}

// Total returns the window's accumulated spend in USD.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ByBucket returns a copy of the per-bucket entries.
func (t *Tracker) ByBucket() map[Key]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Key]Entry, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// ProjectedSpend extrapolates the window's spend rate over horizon. It
// returns zero until the window has at least a minute of history.
func (t *Tracker) ProjectedSpend(horizon time.Duration) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.windowStart)
	if elapsed < time.Minute {
		return 0
	}
	return t.total / elapsed.Hours() * horizon.Hours()
}

// ResetWindow starts a new budget window, clearing buckets and crossed
// thresholds.
func (t *Tracker) ResetWindow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	t.entries = make(map[Key]Entry)
	t.total = 0
	t.crossed = make(map[float64]bool)
	t.windowStart = time.Now()
	if t.logger != nil {
		t.logger.Info("cost window reset")
	}
}
