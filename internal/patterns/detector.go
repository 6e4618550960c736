// Package patterns mines the operation ledger for recurring failure
// clusters. A pattern is the set of failed operations sharing (kind,
// error kind) within a rolling window; severity follows failure density.
package patterns

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/antigravity-dev/reflex/internal/store"
)

// Severity orders pattern urgency.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Density thresholds (failures per day).
const (
	criticalPerDay = 5.0
	highPerDay     = 2.0
	mediumPerDay   = 0.5
)

const (
	maxFailureExamples = 10
	maxSuccessExamples = 5
	persistentSpanDays = 3
)

// FailurePattern is a derived cluster of failures, never stored.
type FailurePattern struct {
	Kind             store.Kind
	ErrorKind        store.ErrorKind
	OccurrenceCount  int
	FirstSeen        time.Time
	LastSeen         time.Time
	FailureExamples  []store.Operation
	SuccessExamples  []store.Operation
	Severity         Severity
	CommonAttributes map[string]string
}

// ID is the stable pattern identity within a window.
func (p *FailurePattern) ID() string {
	return fmt.Sprintf("%s/%s", p.Kind, p.ErrorKind)
}

// Detector groups window failures into patterns.
type Detector struct {
	store          *store.Store
	minOccurrences int
	lookbackDays   int
	logger         *slog.Logger
}

// NewDetector creates a detector with the given thresholds; zero values fall
// back to the defaults (3 occurrences, 30 days).
func NewDetector(s *store.Store, minOccurrences, lookbackDays int, logger *slog.Logger) *Detector {
	if minOccurrences <= 0 {
		minOccurrences = 3
	}
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &Detector{store: s, minOccurrences: minOccurrences, lookbackDays: lookbackDays, logger: logger}
}

type groupKey struct {
	kind      store.Kind
	errorKind store.ErrorKind
}

// DetectPatterns fetches window failures, groups them by (kind, error kind),
// and returns qualifying patterns ordered by severity then occurrence count,
// breaking ties by the later LastSeen.
func (d *Detector) DetectPatterns() ([]FailurePattern, error) {
	failed, err := d.store.FailedOperations(d.lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("patterns: fetch failures: %w", err)
	}

	groups := make(map[groupKey][]store.Operation)
	for _, op := range failed {
		key := groupKey{kind: op.Kind, errorKind: op.ErrorKind}
		if key.kind == "" {
			key.kind = "unknown"
		}
		if key.errorKind == "" {
			key.errorKind = "unknown"
		}
		groups[key] = append(groups[key], op)
	}

	var out []FailurePattern
	for key, ops := range groups {
		if len(ops) < d.minOccurrences {
			continue
		}
		out = append(out, d.buildPattern(key, ops))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		if out[i].OccurrenceCount != out[j].OccurrenceCount {
			return out[i].OccurrenceCount > out[j].OccurrenceCount
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})

	if d.logger != nil && len(out) > 0 {
		d.logger.Info("failure patterns detected", "patterns", len(out), "window_days", d.lookbackDays)
	}
	return out, nil
}

// buildPattern assembles one FailurePattern from its failure group. ops are
// ordered oldest first by the ledger query.
func (d *Detector) buildPattern(key groupKey, ops []store.Operation) FailurePattern {
	p := FailurePattern{
		Kind:            key.kind,
		ErrorKind:       key.errorKind,
		OccurrenceCount: len(ops),
		FirstSeen:       ops[0].StartedAt,
		LastSeen:        ops[len(ops)-1].StartedAt,
	}

	for _, op := range ops {
		if op.StartedAt.Before(p.FirstSeen) {
			p.FirstSeen = op.StartedAt
		}
		if op.StartedAt.After(p.LastSeen) {
			p.LastSeen = op.StartedAt
		}
	}

	n := len(ops)
	if n > maxFailureExamples {
		// Keep the most recent failures.
		p.FailureExamples = append(p.FailureExamples, ops[n-maxFailureExamples:]...)
	} else {
		p.FailureExamples = append(p.FailureExamples, ops...)
	}

	if successes, err := d.store.SuccessfulOperations(key.kind, d.lookbackDays, maxSuccessExamples); err == nil {
		p.SuccessExamples = successes
	} else if d.logger != nil {
		d.logger.Warn("success contrast fetch failed", "kind", key.kind, "error", err)
	}

	p.CommonAttributes = commonAttributes(ops)
	p.Severity = severityForDensity(p.OccurrenceCount, p.FirstSeen, p.LastSeen)
	return p
}

// severityForDensity derives severity from failures per day spanned, with
// the span floored at 0.1 days so bursts register as critical.
func severityForDensity(count int, first, last time.Time) Severity {
	days := last.Sub(first).Hours() / 24
	if days < 0.1 {
		days = 0.1
	}
	density := float64(count) / days
	switch {
	case density >= criticalPerDay:
		return SeverityCritical
	case density >= highPerDay:
		return SeverityHigh
	case density >= mediumPerDay:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// commonAttributes extracts the modal 10-word error prefix and the mean
// retry count across the group.
func commonAttributes(ops []store.Operation) map[string]string {
	attrs := make(map[string]string)

	prefixCounts := make(map[string]int)
	totalRetries := 0
	for _, op := range ops {
		totalRetries += op.RetryCount
		if op.ErrorMessage == "" {
			continue
		}
		words := strings.Fields(op.ErrorMessage)
		if len(words) > 10 {
			words = words[:10]
		}
		prefixCounts[strings.Join(words, " ")]++
	}

	best, bestCount := "", 0
	for prefix, count := range prefixCounts {
		if count > bestCount || (count == bestCount && prefix < best) {
			best, bestCount = prefix, count
		}
	}
	if best != "" {
		attrs["error_prefix"] = best
	}
	attrs["mean_retry_count"] = fmt.Sprintf("%.2f", float64(totalRetries)/float64(len(ops)))
	return attrs
}

// ShouldTriggerLearning reports whether a pattern warrants a learning pass:
// high or critical severity, or persistence (spanning at least three days
// with at least the minimum occurrences).
func (d *Detector) ShouldTriggerLearning(p *FailurePattern) bool {
	if p.Severity >= SeverityHigh {
		return true
	}
	spanDays := p.LastSeen.Sub(p.FirstSeen).Hours() / 24
	return spanDays >= persistentSpanDays && p.OccurrenceCount >= d.minOccurrences
}
