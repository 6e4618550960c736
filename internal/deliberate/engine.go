// Package deliberate implements the multi-agent deliberation engine: root
// cause analysis, dialectical lesson synthesis, improvement generation, and
// effectiveness validation, all through the provider runner.
package deliberate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/antigravity-dev/reflex/internal/patterns"
	"github.com/antigravity-dev/reflex/internal/runner"
)

// Querier is the runner surface the engine needs.
type Querier interface {
	Query(ctx context.Context, prompt string, strategy runner.Strategy, timeout time.Duration) *runner.Response
}

// RootCauseAnalysis is the result of the ALL-strategy root cause pass.
type RootCauseAnalysis struct {
	PatternID   string
	Responses   map[string]string
	Confidence  float64
	TotalTokens int
	TotalCost   float64
}

// LearningLesson is the parsed result of the dialectical lesson pass.
type LearningLesson struct {
	PatternID       string
	Thesis          string
	Antithesis      string
	Synthesis       string
	ActionableItems []string
	Confidence      float64
	TotalTokens     int
	TotalCost       float64
}

// ImprovementRecommendations carries the four improvement buckets.
type ImprovementRecommendations struct {
	PatternID             string
	PromptImprovements    map[string]string
	ValidationRules       []string
	ComplexityAdjustments map[string]string
	ContextAdditions      []string
	Confidence            float64
	TotalTokens           int
	TotalCost             float64
}

// EffectivenessValidation is the verdict on applied improvements.
type EffectivenessValidation struct {
	PatternID      string
	Recommendation string // keep, refine, revert
	SideEffects    []string
	Confidence     float64
	TotalTokens    int
	TotalCost      float64
}

// Engine drives the four deliberation operations.
type Engine struct {
	runner  Querier
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an engine. timeout bounds each runner call.
func New(q Querier, timeout time.Duration, logger *slog.Logger) *Engine {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Engine{runner: q, timeout: timeout, logger: logger}
}

const (
	maxPromptFailures  = 5
	maxPromptSuccesses = 3
)

// AnalyzeRootCause asks all providers independently why a failure pattern
// keeps happening.
func (e *Engine) AnalyzeRootCause(ctx context.Context, p *patterns.FailurePattern) (*RootCauseAnalysis, error) {
	prompt := buildRootCausePrompt(p)

	resp := e.runner.Query(ctx, prompt, runner.StrategyAll, e.timeout)
	if !resp.Success {
		return nil, fmt.Errorf("deliberate: root cause query: %s", resp.Error)
	}

	rc := &RootCauseAnalysis{
		PatternID:   p.ID(),
		Responses:   resp.Responses,
		Confidence:  confidenceForProviders(len(resp.ProviderIDs)),
		TotalTokens: resp.TotalTokens,
		TotalCost:   resp.TotalCost,
	}
	e.logger.Info("root cause analyzed",
		"pattern", p.ID(), "providers", len(resp.ProviderIDs), "confidence", rc.Confidence)
	return rc, nil
}

// SynthesizeLearning runs the dialectical pass over the root cause and
// parses the thesis, antithesis, and synthesis sections. Actionable items
// come from bullets inside the synthesis.
func (e *Engine) SynthesizeLearning(ctx context.Context, p *patterns.FailurePattern, rc *RootCauseAnalysis) (*LearningLesson, error) {
	prompt := buildLessonPrompt(p, rc)

	resp := e.runner.Query(ctx, prompt, runner.StrategyDialectical, e.timeout)
	if !resp.Success {
		return nil, fmt.Errorf("deliberate: lesson query: %s", resp.Error)
	}

	text := resp.Summary
	if text == "" {
		text = joinResponses(resp.Responses)
	}
	thesis, antithesis, synthesis := splitDialectic(text)

	lesson := &LearningLesson{
		PatternID:       p.ID(),
		Thesis:          thesis,
		Antithesis:      antithesis,
		Synthesis:       synthesis,
		ActionableItems: extractBullets(synthesis, 10),
		Confidence:      confidenceForProviders(len(resp.ProviderIDs)),
		TotalTokens:     resp.TotalTokens,
		TotalCost:       resp.TotalCost,
	}
	e.logger.Info("lesson synthesized",
		"pattern", p.ID(), "actionable_items", len(lesson.ActionableItems))
	return lesson, nil
}

// GenerateImprovements asks all providers for concrete changes, parsed into
// the four buckets with duplicates removed at the boundaries.
func (e *Engine) GenerateImprovements(ctx context.Context, p *patterns.FailurePattern, lesson *LearningLesson, currentPrompts map[string]string) (*ImprovementRecommendations, error) {
	prompt := buildImprovementsPrompt(p, lesson, currentPrompts)

	resp := e.runner.Query(ctx, prompt, runner.StrategyAll, e.timeout)
	if !resp.Success {
		return nil, fmt.Errorf("deliberate: improvements query: %s", resp.Error)
	}

	buckets := improvementBuckets{
		prompts:    make(map[string]string),
		complexity: make(map[string]string),
	}
	for _, id := range resp.ProviderIDs {
		parseImprovements(resp.Responses[id], &buckets)
	}

	rec := &ImprovementRecommendations{
		PatternID:             p.ID(),
		PromptImprovements:    buckets.prompts,
		ValidationRules:       buckets.validation,
		ComplexityAdjustments: buckets.complexity,
		ContextAdditions:      buckets.context,
		Confidence:            confidenceForProviders(len(resp.ProviderIDs)),
		TotalTokens:           resp.TotalTokens,
		TotalCost:             resp.TotalCost,
	}
	e.logger.Info("improvements generated",
		"pattern", p.ID(),
		"prompt_improvements", len(rec.PromptImprovements),
		"validation_rules", len(rec.ValidationRules))
	return rec, nil
}

// ValidateEffectiveness runs a dialectical pass over before/after metrics
// for applied improvements and extracts a keep/refine/revert verdict.
func (e *Engine) ValidateEffectiveness(ctx context.Context, patternID string, improvementsApplied []string, metricsBefore, metricsAfter map[string]float64) (*EffectivenessValidation, error) {
	prompt := buildValidationPrompt(patternID, improvementsApplied, metricsBefore, metricsAfter)

	resp := e.runner.Query(ctx, prompt, runner.StrategyDialectical, e.timeout)
	if !resp.Success {
		return nil, fmt.Errorf("deliberate: validation query: %s", resp.Error)
	}

	text := resp.Summary
	if text == "" {
		text = joinResponses(resp.Responses)
	}

	v := &EffectivenessValidation{
		PatternID:      patternID,
		Recommendation: extractRecommendation(text),
		SideEffects:    extractSideEffects(text, 10),
		Confidence:     confidenceForProviders(len(resp.ProviderIDs)),
		TotalTokens:    resp.TotalTokens,
		TotalCost:      resp.TotalCost,
	}
	e.logger.Info("effectiveness validated",
		"pattern", patternID, "recommendation", v.Recommendation)
	return v, nil
}

func joinResponses(responses map[string]string) string {
	ids := make([]string, 0, len(responses))
	for id := range responses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(responses[id])
		b.WriteString("\n")
	}
	return b.String()
}

func buildRootCausePrompt(p *patterns.FailurePattern) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A recurring failure pattern needs root cause analysis.\n\n")
	fmt.Fprintf(&b, "Pattern: %s\nOccurrences: %d\nSeverity: %s\nFirst seen: %s\nLast seen: %s\n",
		p.ID(), p.OccurrenceCount, p.Severity, p.FirstSeen.Format(time.RFC3339), p.LastSeen.Format(time.RFC3339))
	for k, v := range p.CommonAttributes {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}

	b.WriteString("\nFailing examples:\n")
	for i, op := range p.FailureExamples {
		if i >= maxPromptFailures {
			break
		}
		fmt.Fprintf(&b, "- op %d: %s (retries: %d)\n", op.ID, op.ErrorMessage, op.RetryCount)
	}
	if len(p.SuccessExamples) > 0 {
		b.WriteString("\nContrasting successes of the same kind:\n")
		for i, op := range p.SuccessExamples {
			if i >= maxPromptSuccesses {
				break
			}
			fmt.Fprintf(&b, "- op %d: completed in %.1fs\n", op.ID, op.DurationS)
		}
	}

	b.WriteString(`
Address each of the following:
1. The most likely root cause of the failures.
2. Why the successful operations did not hit it.
3. Common patterns across the failing examples.
4. The fundamental capability gap, if any.
5. Assumptions in the current process that enabled the failure.
`)
	return b.String()
}

func buildLessonPrompt(p *patterns.FailurePattern, rc *RootCauseAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synthesize a learning lesson for failure pattern %s.\n\n", p.ID())
	b.WriteString("Root cause perspectives:\n")
	for provider, text := range rc.Responses {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", provider, truncateText(text, 1500))
	}
	b.WriteString(`Structure the answer as three sections labeled THESIS, ANTITHESIS, and SYNTHESIS.
In the SYNTHESIS section, list concrete actionable items as bullets.
`)
	return b.String()
}

func buildImprovementsPrompt(p *patterns.FailurePattern, lesson *LearningLesson, currentPrompts map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose concrete improvements for failure pattern %s.\n\n", p.ID())
	fmt.Fprintf(&b, "Lesson synthesis:\n%s\n\n", truncateText(lesson.Synthesis, 2000))

	if len(currentPrompts) > 0 {
		b.WriteString("Current prompt templates:\n")
		ids := make([]string, 0, len(currentPrompts))
		for id := range currentPrompts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "[%s]\n%s\n\n", id, truncateText(currentPrompts[id], 800))
		}
	}

	b.WriteString(`Organize the answer into four sections with these exact headers:
Prompt Improvements (bullets of the form "template_id: full replacement text")
Validation Rules (bullets)
Complexity Adjustments (bullets of the form "setting: value")
Context Additions (bullets)
`)
	return b.String()
}

func buildValidationPrompt(patternID string, applied []string, before, after map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validate whether applied improvements for pattern %s worked.\n\n", patternID)
	b.WriteString("Improvements applied:\n")
	for _, a := range applied {
		fmt.Fprintf(&b, "- %s\n", a)
	}

	writeMetrics := func(label string, m map[string]float64) {
		fmt.Fprintf(&b, "\n%s:\n", label)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %.3f\n", k, m[k])
		}
	}
	writeMetrics("Metrics before", before)
	writeMetrics("Metrics after", after)

	b.WriteString(`
Argue dialectically, then finish with a line "Recommendation: keep|refine|revert"
and a "Side Effects" section listing any observed regressions as bullets.
`)
	return b.String()
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
