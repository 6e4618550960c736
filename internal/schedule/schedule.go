// Package schedule decides when periodic cycles are due. State survives
// restarts through a small JSON file next to the ledger.
package schedule

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Frequency names how often a cycle should run.
type Frequency string

const (
	Manual  Frequency = "manual"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// ParseFrequency validates a configured frequency string.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case Manual, Daily, Weekly, Monthly:
		return Frequency(s), nil
	case "":
		return Manual, nil
	default:
		return "", fmt.Errorf("schedule: unknown frequency %q", s)
	}
}

func (f Frequency) interval() time.Duration {
	switch f {
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// state is the on-disk document.
type state struct {
	LastGenerationTime time.Time `json:"last_generation_time"`
	GenerationCount    int       `json:"generation_count"`
	LastFailure        string    `json:"last_failure,omitempty"`
}

// Status is a read-only snapshot for the dashboard.
type Status struct {
	Frequency          Frequency
	LastGenerationTime time.Time
	GenerationCount    int
	LastFailure        string
	NextDue            time.Time // zero for manual
}

// Scheduler gates cycle generation on a named frequency.
type Scheduler struct {
	mu        sync.Mutex
	path      string
	frequency Frequency
	state     state
	logger    *slog.Logger
	now       func() time.Time
}

// Open loads scheduler state from path, starting fresh when the file is
// missing or unreadable.
func Open(path string, frequency Frequency, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{path: path, frequency: frequency, logger: logger, now: time.Now}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("schedule: read state: %w", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		logger.Warn("scheduler state unreadable, starting fresh", "path", path, "error", err)
		s.state = state{}
	}
	return s, nil
}

// ShouldGenerate reports whether a cycle is due. force bypasses the
// frequency gate; a manual frequency only ever generates when forced.
func (s *Scheduler) ShouldGenerate(force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if force {
		return true
	}
	interval := s.frequency.interval()
	if interval == 0 {
		return false
	}
	if s.state.LastGenerationTime.IsZero() {
		return true
	}
	return s.now().Sub(s.state.LastGenerationTime) >= interval
}

// MarkComplete records a finished cycle and clears any failure note.
func (s *Scheduler) MarkComplete(cycleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.LastGenerationTime = at
	s.state.GenerationCount++
	s.state.LastFailure = ""
	s.logger.Info("cycle marked complete", "cycle", cycleID, "count", s.state.GenerationCount)
	return s.saveLocked()
}

// MarkFailed records why the last attempt failed. The generation clock is
// not advanced, so the next check retries.
func (s *Scheduler) MarkFailed(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.LastFailure = fmt.Sprintf("%s: %s", s.now().Format(time.RFC3339), reason)
	return s.saveLocked()
}

// GetStatus returns the current schedule state.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Frequency:          s.frequency,
		LastGenerationTime: s.state.LastGenerationTime,
		GenerationCount:    s.state.GenerationCount,
		LastFailure:        s.state.LastFailure,
	}
	if interval := s.frequency.interval(); interval > 0 && !s.state.LastGenerationTime.IsZero() {
		st.NextDue = s.state.LastGenerationTime.Add(interval)
	}
	return st
}

func (s *Scheduler) saveLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("schedule: encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("schedule: state dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("schedule: write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("schedule: replace state: %w", err)
	}
	return nil
}
