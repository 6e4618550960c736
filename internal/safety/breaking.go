package safety

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antigravity-dev/reflex/internal/runner"
)

// BreakingSeverity is the verdict of the deliberated breaking-change pass.
type BreakingSeverity int

const (
	BreakingNone BreakingSeverity = iota
	BreakingMinor
	BreakingMajor
	BreakingCritical
)

func (s BreakingSeverity) String() string {
	switch s {
	case BreakingCritical:
		return "CRITICAL"
	case BreakingMajor:
		return "MAJOR"
	case BreakingMinor:
		return "MINOR"
	default:
		return "NONE"
	}
}

// BreakingAssessment carries the deliberated severity for a diff.
type BreakingAssessment struct {
	OverallSeverity BreakingSeverity
	Summary         string
	TotalTokens     int
	TotalCost       float64
}

// BreakingDetector runs a dialectical pass over a diff asking whether it
// breaks public contracts.
type BreakingDetector struct {
	runner  Querier
	timeout time.Duration
	logger  *slog.Logger
}

func NewBreakingDetector(q Querier, timeout time.Duration, logger *slog.Logger) *BreakingDetector {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &BreakingDetector{runner: q, timeout: timeout, logger: logger}
}

const maxDiffInPrompt = 8000

// Analyze never returns an error: a runner failure yields CRITICAL so the
// manager fails closed.
func (d *BreakingDetector) Analyze(ctx context.Context, diff string) *BreakingAssessment {
	if len(diff) > maxDiffInPrompt {
		diff = diff[:maxDiffInPrompt] + "\n... (diff truncated)"
	}
	prompt := fmt.Sprintf(`Analyze this diff for breaking changes to public contracts
(removed or re-typed functions, changed signatures, renamed exported symbols).

%s

Argue dialectically, then state an overall severity on its own line:
Severity: NONE|MINOR|MAJOR|CRITICAL
`, diff)

	resp := d.runner.Query(ctx, prompt, runner.StrategyDialectical, d.timeout)
	if !resp.Success {
		if d.logger != nil {
			d.logger.Warn("breaking-change analysis failed, failing closed", "error", resp.Error)
		}
		return &BreakingAssessment{
			OverallSeverity: BreakingCritical,
			Summary:         fmt.Sprintf("breaking-change analysis failed (%s)", resp.Error),
		}
	}

	text := resp.Summary
	if text == "" {
		for _, r := range resp.Responses {
			text += r + "\n"
		}
	}
	return &BreakingAssessment{
		OverallSeverity: extractBreakingSeverity(text),
		Summary:         text,
		TotalTokens:     resp.TotalTokens,
		TotalCost:       resp.TotalCost,
	}
}

// extractBreakingSeverity matches severity keywords in descending order. An
// unparseable response defaults to NONE: absence of any severity claim is
// not a safety signal by itself, and the static heuristic in the guard
// already covers the textual cases.
func extractBreakingSeverity(text string) BreakingSeverity {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "CRITICAL"):
		return BreakingCritical
	case strings.Contains(upper, "MAJOR"):
		return BreakingMajor
	case strings.Contains(upper, "MINOR"):
		return BreakingMinor
	default:
		return BreakingNone
	}
}
