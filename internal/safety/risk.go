package safety

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/antigravity-dev/reflex/internal/runner"
)

// RiskLevel orders assessed risk. The decision matrix consumes the highest
// level any provider returned.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskCritical:
		return "CRITICAL"
	case RiskHigh:
		return "HIGH"
	case RiskMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Querier is the runner surface the assessor needs.
type Querier interface {
	Query(ctx context.Context, prompt string, strategy runner.Strategy, timeout time.Duration) *runner.Response
}

// Assessment is the consensus risk verdict for one operation.
type Assessment struct {
	Level             RiskLevel
	ProviderLevels    map[string]RiskLevel
	ConsensusStrength float64
	Unanimous         bool
	Rationale         string
	TotalTokens       int
	TotalCost         float64
}

// Assessor asks every provider for a risk level and keeps the highest.
type Assessor struct {
	runner  Querier
	timeout time.Duration
	logger  *slog.Logger
}

// NewAssessor creates an assessor; timeout <= 0 falls back to 180 s.
func NewAssessor(q Querier, timeout time.Duration, logger *slog.Logger) *Assessor {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Assessor{runner: q, timeout: timeout, logger: logger}
}

// Assess never returns an error: a runner failure yields a CRITICAL
// assessment so callers fail closed.
func (a *Assessor) Assess(ctx context.Context, operation string, opCtx map[string]string) *Assessment {
	resp := a.runner.Query(ctx, buildRiskPrompt(operation, opCtx), runner.StrategyAll, a.timeout)
	if !resp.Success {
		if a.logger != nil {
			a.logger.Warn("risk assessment failed, failing closed", "error", resp.Error)
		}
		return &Assessment{
			Level:             RiskCritical,
			ConsensusStrength: 1,
			Unanimous:         true,
			Rationale:         fmt.Sprintf("risk assessment failed (%s); treating as critical", resp.Error),
		}
	}

	levels := make(map[string]RiskLevel, len(resp.ProviderIDs))
	highest := RiskLow
	for _, id := range resp.ProviderIDs {
		level := extractRiskLevel(resp.Responses[id])
		levels[id] = level
		if level > highest {
			highest = level
		}
	}
	if len(levels) == 0 {
		return &Assessment{
			Level:             RiskCritical,
			ConsensusStrength: 1,
			Unanimous:         true,
			Rationale:         "no provider responses; treating as critical",
			TotalTokens:       resp.TotalTokens,
			TotalCost:         resp.TotalCost,
		}
	}

	votes := 0
	for _, level := range levels {
		if level == highest {
			votes++
		}
	}
	strength := float64(votes) / float64(len(levels))

	as := &Assessment{
		Level:             highest,
		ProviderLevels:    levels,
		ConsensusStrength: strength,
		Unanimous:         strength == 1.0,
		Rationale:         fmt.Sprintf("%d of %d providers assessed %s", votes, len(levels), highest),
		TotalTokens:       resp.TotalTokens,
		TotalCost:         resp.TotalCost,
	}
	if a.logger != nil {
		a.logger.Info("risk assessed", "level", highest.String(),
			"consensus", strength, "providers", len(levels))
	}
	return as
}

// extractRiskLevel pulls the risk keyword from a free-form response. Matched
// in descending order; "dangerous" counts as critical. An unparseable
// response is treated as critical.
func extractRiskLevel(text string) RiskLevel {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "CRITICAL"), strings.Contains(upper, "DANGEROUS"):
		return RiskCritical
	case strings.Contains(upper, "HIGH"):
		return RiskHigh
	case strings.Contains(upper, "MEDIUM"):
		return RiskMedium
	case strings.Contains(upper, "LOW"):
		return RiskLow
	default:
		return RiskCritical
	}
}

func buildRiskPrompt(operation string, opCtx map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assess the risk of the following proposed operation.\n\nOperation: %s\n", operation)
	if len(opCtx) > 0 {
		b.WriteString("\nContext:\n")
		keys := make([]string, 0, len(opCtx))
		for k := range opCtx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, opCtx[k])
		}
	}
	b.WriteString(`
Answer each of the following:
1. Risk level: LOW, MEDIUM, HIGH, or CRITICAL.
2. Potential impacts.
3. Blast radius.
4. Hidden dependencies.
5. Rollback complexity: EASY, MODERATE, DIFFICULT, or IRREVERSIBLE.
6. Reasoning.
`)
	return b.String()
}
