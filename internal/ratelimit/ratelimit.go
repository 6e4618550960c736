// Package ratelimit tracks per-API quota windows and applies exponential
// backoff across consecutive failures. State survives restarts through a
// JSON file next to the ledger.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Usage ratio thresholds.
const (
	warnRatio     = 0.80
	criticalRatio = 0.95

	warnSleep     = 1 * time.Second
	criticalSleep = 5 * time.Second

	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
)

// State is one API's quota window. Used + Remaining == Limit always holds.
type State struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	ResetTime time.Time `json:"reset_time"`
}

// ExceededError reports an exhausted quota and how long until it resets.
type ExceededError struct {
	API        string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("ratelimit: %s quota exhausted, resets in %ds", e.API, int(e.RetryAfter.Seconds()))
}

// persisted is the on-disk shape. Backoff delays are stored in seconds.
type persisted struct {
	RateLimits    map[string]State   `json:"rate_limits"`
	BackoffDelays map[string]float64 `json:"backoff_delays"`
}

// Limiter guards outbound API calls. All methods are safe for concurrent
// use; every mutation is persisted before returning.
type Limiter struct {
	mu        sync.Mutex
	states    map[string]State
	backoffs  map[string]time.Duration
	statePath string
	logger    *slog.Logger
	sleep     func(time.Duration)
}

// New creates a limiter persisting to statePath. A missing or corrupt state
// file starts the limiter empty.
func New(statePath string, logger *slog.Logger) *Limiter {
	l := &Limiter{
		states:    make(map[string]State),
		backoffs:  make(map[string]time.Duration),
		statePath: statePath,
		logger:    logger,
		sleep:     time.Sleep,
	}
	l.load()
	return l
}

func (l *Limiter) load() {
	data, err := os.ReadFile(l.statePath)
	if err != nil {
		return
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		if l.logger != nil {
			l.logger.Warn("rate limit state corrupt, starting empty", "path", l.statePath, "error", err)
		}
		return
	}
	if p.RateLimits != nil {
		l.states = p.RateLimits
	}
	for api, seconds := range p.BackoffDelays {
		l.backoffs[api] = time.Duration(seconds * float64(time.Second))
	}
}

func (l *Limiter) saveLocked() error {
	delays := make(map[string]float64, len(l.backoffs))
	for api, d := range l.backoffs {
		delays[api] = d.Seconds()
	}
	p := persisted{RateLimits: l.states, BackoffDelays: delays}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("ratelimit: marshal state: %w", err)
	}
	tmp := l.statePath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(l.statePath), 0755); err != nil {
		return fmt.Errorf("ratelimit: state dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("ratelimit: write state: %w", err)
	}
	if err := os.Rename(tmp, l.statePath); err != nil {
		return fmt.Errorf("ratelimit: replace state: %w", err)
	}
	return nil
}

// Update records fresh quota numbers for an API, typically parsed from
// response headers. Used is derived so the window invariant holds.
func (l *Limiter) Update(api string, limit, remaining int, reset time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if remaining > limit {
		remaining = limit
	}
	if remaining < 0 {
		remaining = 0
	}
	l.states[api] = State{
		Limit:     limit,
		Remaining: remaining,
		Used:      limit - remaining,
		ResetTime: reset,
	}
	if l.logger != nil {
		l.logger.Debug("rate limit updated", "api", api, "remaining", remaining, "limit", limit)
	}
	return l.saveLocked()
}

// Acquire reserves capacity for a call needing n units. It sleeps at the
// warning and critical thresholds and returns ExceededError when the window
// cannot cover the request. An unknown API is unconstrained.
func (l *Limiter) Acquire(api string, n int) error {
	l.mu.Lock()
	st, ok := l.states[api]
	if !ok {
		l.mu.Unlock()
		return nil
	}

	if !st.ResetTime.IsZero() && time.Now().After(st.ResetTime) {
		st.Remaining = st.Limit
		st.Used = 0
	}

	if st.Remaining < n {
		retry := time.Until(st.ResetTime)
		if retry < 0 {
			retry = 0
		}
		l.mu.Unlock()
		if l.logger != nil {
			l.logger.Warn("rate limit exhausted", "api", api, "needed", n, "remaining", st.Remaining)
		}
		return &ExceededError{API: api, RetryAfter: retry}
	}

	st.Remaining -= n
	st.Used += n
	l.states[api] = st
	if err := l.saveLocked(); err != nil && l.logger != nil {
		l.logger.Warn("rate limit state save failed", "error", err)
	}

	ratio := 0.0
	if st.Limit > 0 {
		ratio = float64(st.Used) / float64(st.Limit)
	}
	l.mu.Unlock()

	switch {
	case ratio >= criticalRatio:
		if l.logger != nil {
			l.logger.Warn("rate limit critical", "api", api, "used_ratio", ratio)
		}
		l.sleep(criticalSleep)
	case ratio >= warnRatio:
		if l.logger != nil {
			l.logger.Info("rate limit warning", "api", api, "used_ratio", ratio)
		}
		l.sleep(warnSleep)
	}
	return nil
}

// RecordFailure doubles the API's backoff delay, starting at one second and
// capping at sixty, and returns the delay the caller should wait.
func (l *Limiter) RecordFailure(api string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.backoffs[api]
	if d == 0 {
		d = initialBackoff
	} else {
		d *= 2
		if d > maxBackoff {
			d = maxBackoff
		}
	}
	l.backoffs[api] = d
	if err := l.saveLocked(); err != nil && l.logger != nil {
		l.logger.Warn("rate limit state save failed", "error", err)
	}
	if l.logger != nil {
		l.logger.Info("backoff increased", "api", api, "delay", d)
	}
	return d
}

// RecordSuccess resets the API's backoff.
func (l *Limiter) RecordSuccess(api string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.backoffs[api]; !ok {
		return
	}
	delete(l.backoffs, api)
	if err := l.saveLocked(); err != nil && l.logger != nil {
		l.logger.Warn("rate limit state save failed", "error", err)
	}
}

// Backoff returns the current delay for an API without changing it.
func (l *Limiter) Backoff(api string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoffs[api]
}

// Snapshot returns a copy of the API's window state.
func (l *Limiter) Snapshot(api string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[api]
	return st, ok
}
