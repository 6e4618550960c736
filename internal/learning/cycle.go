// Package learning runs the inner improvement loop: mine failure patterns
// from the ledger, deliberate over each one, and feed accepted prompt
// improvements back into the library.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antigravity-dev/reflex/internal/deliberate"
	"github.com/antigravity-dev/reflex/internal/patterns"
	"github.com/antigravity-dev/reflex/internal/store"
)

// detector and engine are satisfied by patterns.Detector and
// deliberate.Engine; tests substitute stubs.
type detector interface {
	DetectPatterns() ([]patterns.FailurePattern, error)
	ShouldTriggerLearning(*patterns.FailurePattern) bool
}

type engine interface {
	AnalyzeRootCause(ctx context.Context, p *patterns.FailurePattern) (*deliberate.RootCauseAnalysis, error)
	SynthesizeLearning(ctx context.Context, p *patterns.FailurePattern, rc *deliberate.RootCauseAnalysis) (*deliberate.LearningLesson, error)
	GenerateImprovements(ctx context.Context, p *patterns.FailurePattern, lesson *deliberate.LearningLesson, currentPrompts map[string]string) (*deliberate.ImprovementRecommendations, error)
}

type promptLibrary interface {
	IDs() []string
	Current(id string) (string, int, bool)
	Update(id, newTemplate, reason string) error
}

// gate is satisfied by approval.Gate. Every prompt update is arbitrated
// through it before the library is touched.
type gate interface {
	Authorize(ctx context.Context, operation string, filesChanged, filesDeleted []string, diff string, opCtx map[string]string) error
}

// Result summarises one learning cycle.
type Result struct {
	PatternsDetected      int
	PatternsAnalyzed      int
	ImprovementsGenerated int
	ImprovementsApplied   int
	ImprovementsBlocked   int
	Errors                int
	TotalTokens           int
	TotalCost             float64
}

// Cycle wires detector, engine, and prompt library into one iteration.
type Cycle struct {
	store     *store.Store
	detector  detector
	engine    engine
	prompts   promptLibrary
	gate      gate
	autoApply bool
	logger    *slog.Logger
}

// New wires a cycle. g may be nil only when autoApply is off; applied
// improvements always pass through the gate.
func New(s *store.Store, d detector, e engine, p promptLibrary, g gate, autoApply bool, logger *slog.Logger) *Cycle {
	return &Cycle{store: s, detector: d, engine: e, prompts: p, gate: g, autoApply: autoApply, logger: logger}
}

// Run executes one learning iteration. Sub-step failures are logged and
// counted; they never abort the cycle. The whole iteration is recorded as
// one ledger operation.
func (c *Cycle) Run(ctx context.Context) (*Result, error) {
	opID, err := c.store.StartOperation(store.KindLearningCycle, "", nil)
	if err != nil {
		return nil, fmt.Errorf("learning: start operation: %w", err)
	}

	res := c.run(ctx)

	completeErr := c.store.CompleteOperation(opID, res.Errors == 0, cycleError(res), store.ErrProviderFault, 0)
	if completeErr != nil && c.logger != nil {
		c.logger.Warn("learning cycle completion not recorded", "error", completeErr)
	}

	c.logger.Info("learning cycle finished",
		"patterns_detected", res.PatternsDetected,
		"patterns_analyzed", res.PatternsAnalyzed,
		"improvements_generated", res.ImprovementsGenerated,
		"improvements_applied", res.ImprovementsApplied,
		"improvements_blocked", res.ImprovementsBlocked,
		"errors", res.Errors,
		"tokens", res.TotalTokens,
		"cost_usd", res.TotalCost)
	return res, nil
}

func (c *Cycle) run(ctx context.Context) *Result {
	res := &Result{}

	detected, err := c.detector.DetectPatterns()
	if err != nil {
		c.logger.Error("pattern detection failed", "error", err)
		res.Errors++
		return res
	}
	res.PatternsDetected = len(detected)

	for i := range detected {
		p := &detected[i]
		if !c.detector.ShouldTriggerLearning(p) {
			continue
		}
		if err := c.learnFromPattern(ctx, p, res); err != nil {
			c.logger.Warn("pattern learning failed",
				"pattern", p.ID(), "error", err)
			res.Errors++
		}
	}
	return res
}

func (c *Cycle) learnFromPattern(ctx context.Context, p *patterns.FailurePattern, res *Result) error {
	res.PatternsAnalyzed++

	rc, err := c.engine.AnalyzeRootCause(ctx, p)
	if err != nil {
		return err
	}
	res.TotalTokens += rc.TotalTokens
	res.TotalCost += rc.TotalCost

	lesson, err := c.engine.SynthesizeLearning(ctx, p, rc)
	if err != nil {
		return err
	}
	res.TotalTokens += lesson.TotalTokens
	res.TotalCost += lesson.TotalCost

	rec, err := c.engine.GenerateImprovements(ctx, p, lesson, c.currentPrompts())
	if err != nil {
		return err
	}
	res.TotalTokens += rec.TotalTokens
	res.TotalCost += rec.TotalCost
	res.ImprovementsGenerated += len(rec.PromptImprovements) +
		len(rec.ValidationRules) + len(rec.ComplexityAdjustments) + len(rec.ContextAdditions)

	if !c.autoApply {
		return nil
	}
	reason := "Learning from " + p.ID()
	for id, template := range rec.PromptImprovements {
		if err := c.authorize(ctx, id, template, p); err != nil {
			c.logger.Warn("prompt update not authorized", "template", id, "error", err)
			res.ImprovementsBlocked++
			continue
		}
		if err := c.prompts.Update(id, template, reason); err != nil {
			c.logger.Warn("prompt update refused", "template", id, "error", err)
			res.Errors++
			continue
		}
		res.ImprovementsApplied++
	}
	return nil
}

// authorize runs one proposed template change through the safety gate. The
// change is presented as a modification of the template's virtual path with
// an old-versus-new diff so pattern and content rules both apply.
func (c *Cycle) authorize(ctx context.Context, id, template string, p *patterns.FailurePattern) error {
	if c.gate == nil {
		return nil
	}
	current, _, _ := c.prompts.Current(id)
	return c.gate.Authorize(ctx, "prompt update "+id,
		[]string{"prompts/" + id}, nil, templateDiff(current, template),
		map[string]string{
			"operation": "prompt_update",
			"template":  id,
			"pattern":   p.ID(),
		})
}

func templateDiff(old, updated string) string {
	var b strings.Builder
	if old != "" {
		for _, line := range strings.Split(old, "\n") {
			b.WriteString("-")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	for _, line := range strings.Split(updated, "\n") {
		b.WriteString("+")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Cycle) currentPrompts() map[string]string {
	out := make(map[string]string)
	for _, id := range c.prompts.IDs() {
		if template, _, ok := c.prompts.Current(id); ok {
			out[id] = template
		}
	}
	return out
}

func cycleError(res *Result) string {
	if res.Errors == 0 {
		return ""
	}
	return fmt.Sprintf("%d sub-step failure(s) during the cycle", res.Errors)
}
