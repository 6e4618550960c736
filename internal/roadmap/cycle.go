package roadmap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/reflex/internal/host"
	"github.com/antigravity-dev/reflex/internal/runner"
	"github.com/antigravity-dev/reflex/internal/store"
)

// Querier is the runner surface the cycle needs.
type Querier interface {
	Query(ctx context.Context, prompt string, strategy runner.Strategy, timeout time.Duration) *runner.Response
}

const (
	analysisTimeout  = 180 * time.Second
	ideationTimeout  = 300 * time.Second
	maxIssuesPerRun  = 10
	minProposalsWant = 5
	maxProposalsWant = 8
)

// gate is satisfied by approval.Gate. Every issue the cycle files is
// arbitrated through it first.
type gate interface {
	Authorize(ctx context.Context, operation string, filesChanged, filesDeleted []string, diff string, opCtx map[string]string) error
}

// Result summarises one roadmap cycle.
type Result struct {
	CycleID            string
	ProposalsGenerated int
	ProposalsApproved  int
	IssuesCreated      []int
	IssuesBlocked      int
	Phases             []Phase
	Errors             int
	TotalTokens        int
	TotalCost          float64
}

// Options tune one cycle beyond its collaborators.
type Options struct {
	Workspace string
	MaxIssues int  // per-run issue cap; <= 0 uses the default of 10
	BotLabel  bool // tag plain-APPROVED issues bot-approved
	DryRun    bool
}

// Cycle drives one full roadmap iteration: codebase analysis, multi-agent
// review, ideation, validation, and issue creation.
type Cycle struct {
	store     *store.Store
	runner    Querier
	host      host.Host
	gate      gate
	workspace string
	maxIssues int
	botLabel  bool
	dryRun    bool
	logger    *slog.Logger
}

// New wires a cycle. g may be nil only for dry runs; created issues always
// pass through the gate.
func New(s *store.Store, q Querier, h host.Host, g gate, opts Options, logger *slog.Logger) *Cycle {
	maxIssues := opts.MaxIssues
	if maxIssues <= 0 {
		maxIssues = maxIssuesPerRun
	}
	return &Cycle{
		store:     s,
		runner:    q,
		host:      h,
		gate:      g,
		workspace: opts.Workspace,
		maxIssues: maxIssues,
		botLabel:  opts.BotLabel,
		dryRun:    opts.DryRun,
		logger:    logger,
	}
}

// Run executes one roadmap cycle and records it as a single ledger
// operation with an attached roadmap fact.
func (c *Cycle) Run(ctx context.Context) (*Result, error) {
	cycleID := uuid.NewString()
	opID, err := c.store.StartOperation(store.KindRoadmapCycle, cycleID, nil)
	if err != nil {
		return nil, fmt.Errorf("roadmap: start operation: %w", err)
	}

	res, runErr := c.run(ctx, cycleID)

	success := runErr == nil && res.Errors == 0
	message := ""
	if runErr != nil {
		message = runErr.Error()
	} else if res.Errors > 0 {
		message = fmt.Sprintf("%d sub-step failure(s) during the cycle", res.Errors)
	}
	if err := c.store.CompleteOperation(opID, success, message, store.ErrProviderFault, 0); err != nil {
		c.logger.Warn("roadmap cycle completion not recorded", "error", err)
	}
	if err := c.store.AttachRoadmapFact(store.RoadmapFact{
		OperationID:        opID,
		CycleID:            cycleID,
		ProposalsGenerated: res.ProposalsGenerated,
		ProposalsApproved:  res.ProposalsApproved,
		IssuesCreated:      len(res.IssuesCreated),
		TotalCostUSD:       res.TotalCost,
	}); err != nil {
		c.logger.Warn("roadmap fact not recorded", "error", err)
	}

	if runErr != nil {
		return res, runErr
	}
	c.logger.Info("roadmap cycle finished",
		"cycle", cycleID,
		"proposals", res.ProposalsGenerated,
		"approved", res.ProposalsApproved,
		"issues", len(res.IssuesCreated),
		"tokens", res.TotalTokens,
		"cost_usd", res.TotalCost)
	return res, nil
}

func (c *Cycle) run(ctx context.Context, cycleID string) (*Result, error) {
	res := &Result{CycleID: cycleID}

	analysis, err := AnalyzeCodebase(c.workspace)
	if err != nil {
		return res, err
	}

	consensus, err := c.reviewCodebase(ctx, analysis, res)
	if err != nil {
		return res, err
	}

	proposals, err := c.ideate(ctx, analysis, consensus, res)
	if err != nil {
		return res, err
	}
	res.ProposalsGenerated = len(proposals)
	if len(proposals) == 0 {
		c.logger.Warn("ideation produced no proposals", "cycle", cycleID)
		return res, nil
	}

	critiques := c.critique(ctx, proposals, res)
	phases := c.synthesizePhases(ctx, proposals, critiques, res)
	res.Phases = phases

	validations := c.validate(ctx, proposals, critiques, res)

	approved := make(map[string]Validation)
	for _, v := range validations {
		if v.approved() {
			approved[v.ProposalID] = v
		}
	}
	res.ProposalsApproved = len(approved)
	res.Phases = refinePhases(phases, approved)

	c.createIssues(ctx, proposals, critiques, approved, res)
	return res, nil
}

// reviewCodebase is the ALL-strategy multi-agent look at the tree.
func (c *Cycle) reviewCodebase(ctx context.Context, analysis *CodebaseAnalysis, res *Result) (*Consensus, error) {
	resp := c.runner.Query(ctx, buildReviewPrompt(analysis), runner.StrategyAll, analysisTimeout)
	res.TotalTokens += resp.TotalTokens
	res.TotalCost += resp.TotalCost
	if !resp.Success {
		return nil, fmt.Errorf("roadmap: codebase review: %s", resp.Error)
	}
	consensus := parseConsensus(joinResponses(resp))
	return &consensus, nil
}

// ideate is ideation phase a: one ALL call, proposals parsed per provider.
func (c *Cycle) ideate(ctx context.Context, analysis *CodebaseAnalysis, consensus *Consensus, res *Result) ([]Proposal, error) {
	resp := c.runner.Query(ctx, buildIdeationPrompt(analysis, consensus), runner.StrategyAll, ideationTimeout)
	res.TotalTokens += resp.TotalTokens
	res.TotalCost += resp.TotalCost
	if !resp.Success {
		return nil, fmt.Errorf("roadmap: ideation: %s", resp.Error)
	}

	var out []Proposal
	seen := make(map[string]bool)
	for _, provider := range resp.ProviderIDs {
		for _, p := range parseProposals(resp.Responses[provider], provider) {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// critique is ideation phase b: one ALL call reviewing all proposals.
// Failure here degrades the cycle but does not abort it.
func (c *Cycle) critique(ctx context.Context, proposals []Proposal, res *Result) map[string][]Critique {
	resp := c.runner.Query(ctx, buildCritiquePrompt(proposals), runner.StrategyAll, ideationTimeout)
	res.TotalTokens += resp.TotalTokens
	res.TotalCost += resp.TotalCost

	out := make(map[string][]Critique)
	if !resp.Success {
		c.logger.Warn("cross-critique failed", "error", resp.Error)
		res.Errors++
		return out
	}
	for _, provider := range resp.ProviderIDs {
		for _, cr := range parseCritiques(resp.Responses[provider]) {
			out[cr.ProposalID] = append(out[cr.ProposalID], cr)
		}
	}
	return out
}

// synthesizePhases is ideation phase c: one DIALECTICAL call grouping the
// surviving proposals into 3-4 named phases. If the synthesis fails or
// yields nothing parseable, all proposals fall into a single phase.
func (c *Cycle) synthesizePhases(ctx context.Context, proposals []Proposal, critiques map[string][]Critique, res *Result) []Phase {
	resp := c.runner.Query(ctx, buildPhasePrompt(proposals, critiques), runner.StrategyDialectical, ideationTimeout)
	res.TotalTokens += resp.TotalTokens
	res.TotalCost += resp.TotalCost

	if resp.Success {
		known := proposalIDSet(proposals)
		phases := parsePhases(dialecticText(resp))
		for i := range phases {
			kept := phases[i].ProposalIDs[:0]
			for _, id := range phases[i].ProposalIDs {
				if known[id] {
					kept = append(kept, id)
				}
			}
			phases[i].ProposalIDs = kept
		}
		var nonEmpty []Phase
		for _, p := range phases {
			if len(p.ProposalIDs) > 0 {
				nonEmpty = append(nonEmpty, p)
			}
		}
		if len(nonEmpty) > 0 {
			return nonEmpty
		}
	} else {
		c.logger.Warn("phase synthesis failed", "error", resp.Error)
		res.Errors++
	}

	fallback := Phase{Name: "Backlog"}
	for _, p := range proposals {
		fallback.ProposalIDs = append(fallback.ProposalIDs, p.ID)
	}
	return []Phase{fallback}
}

// validate runs the three validation passes: thesis (ALL), antithesis
// (DIALECTICAL), synthesis (DIALECTICAL). Only the synthesis verdicts are
// binding; the earlier passes feed its prompt.
func (c *Cycle) validate(ctx context.Context, proposals []Proposal, critiques map[string][]Critique, res *Result) []Validation {
	known := proposalIDSet(proposals)

	thesis := c.runner.Query(ctx, buildThesisPrompt(proposals), runner.StrategyAll, ideationTimeout)
	res.TotalTokens += thesis.TotalTokens
	res.TotalCost += thesis.TotalCost
	thesisText := ""
	if thesis.Success {
		thesisText = joinResponses(thesis)
	} else {
		c.logger.Warn("validation thesis failed", "error", thesis.Error)
		res.Errors++
	}

	antithesis := c.runner.Query(ctx, buildAntithesisPrompt(proposals, thesisText), runner.StrategyDialectical, ideationTimeout)
	res.TotalTokens += antithesis.TotalTokens
	res.TotalCost += antithesis.TotalCost
	antithesisText := ""
	if antithesis.Success {
		antithesisText = dialecticText(antithesis)
	} else {
		c.logger.Warn("validation antithesis failed", "error", antithesis.Error)
		res.Errors++
	}

	synthesis := c.runner.Query(ctx, buildVerdictPrompt(proposals, critiques, thesisText, antithesisText), runner.StrategyDialectical, ideationTimeout)
	res.TotalTokens += synthesis.TotalTokens
	res.TotalCost += synthesis.TotalCost
	if !synthesis.Success {
		c.logger.Warn("validation synthesis failed", "error", synthesis.Error)
		res.Errors++
		return nil
	}
	return parseValidations(dialecticText(synthesis), known)
}

// refinePhases intersects each phase's list with the approved set.
func refinePhases(phases []Phase, approved map[string]Validation) []Phase {
	var out []Phase
	for _, phase := range phases {
		refined := Phase{Name: phase.Name}
		for _, id := range phase.ProposalIDs {
			if _, ok := approved[id]; ok {
				refined.ProposalIDs = append(refined.ProposalIDs, id)
			}
		}
		if len(refined.ProposalIDs) > 0 {
			out = append(out, refined)
		}
	}
	return out
}

// createIssues files one tracker issue per approved proposal, capped per
// run. Per-issue failures are counted, not fatal.
func (c *Cycle) createIssues(ctx context.Context, proposals []Proposal, critiques map[string][]Critique, approved map[string]Validation, res *Result) {
	if c.dryRun {
		c.logger.Info("dry run, skipping issue creation", "approved", len(approved))
		return
	}

	byID := make(map[string]Proposal, len(proposals))
	for _, p := range proposals {
		byID[p.ID] = p
	}

	ids := make([]string, 0, len(approved))
	for id := range approved {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	created := 0
	for _, id := range ids {
		if created >= c.maxIssues {
			c.logger.Warn("issue cap reached", "cap", c.maxIssues, "remaining", len(ids)-created)
			break
		}
		p := byID[id]
		v := approved[id]
		if c.gate != nil {
			if err := c.gate.Authorize(ctx, "create roadmap issue: "+p.Title, nil, nil, "",
				map[string]string{"operation": "create_issue", "proposal": id}); err != nil {
				c.logger.Warn("issue creation not authorized", "proposal", id, "error", err)
				res.IssuesBlocked++
				continue
			}
		}
		issue, err := c.host.CreateIssue(ctx, p.Title, issueBody(p, critiques[id], v), c.issueLabels(p, v))
		if err != nil {
			c.logger.Warn("issue creation failed", "proposal", id, "error", err)
			res.Errors++
			continue
		}
		created++
		res.IssuesCreated = append(res.IssuesCreated, issue.Number)
		c.logger.Info("roadmap issue created", "number", issue.Number, "title", p.Title)
	}
}

// issueBody assembles the issue text from the proposal, its critiques, and
// the validation verdict.
func issueBody(p Proposal, critiques []Critique, v Validation) string {
	var b strings.Builder

	b.WriteString("## Description\n\n")
	b.WriteString(p.Description)
	b.WriteString("\n\n## Rationale\n\n")
	if p.ValueProposition != "" {
		b.WriteString(p.ValueProposition)
	} else {
		b.WriteString("Proposed during an automated roadmap review.")
	}
	b.WriteString("\n")

	var strengths, risks, suggestions []string
	for _, cr := range critiques {
		strengths = append(strengths, cr.Strengths...)
		risks = append(risks, cr.Weaknesses...)
		suggestions = append(suggestions, cr.Suggestions...)
	}
	risks = append(risks, v.Risks...)

	if len(strengths) > 0 {
		b.WriteString("\n## Benefits\n\n")
		writeBullets(&b, strengths)
	}
	if len(p.SuccessMetrics) > 0 {
		b.WriteString("\n## Acceptance Criteria\n\n")
		writeBullets(&b, p.SuccessMetrics)
	}

	b.WriteString("\n## Technical Notes\n\n")
	fmt.Fprintf(&b, "- Complexity: %d/10\n", p.Complexity)
	if p.EstimatedEffort != "" {
		fmt.Fprintf(&b, "- Estimated effort: %s\n", p.EstimatedEffort)
	}
	fmt.Fprintf(&b, "- Category: %s\n", categoryLabel(p))
	if len(p.Dependencies) > 0 {
		fmt.Fprintf(&b, "- Dependencies: %s\n", strings.Join(p.Dependencies, ", "))
	}
	if p.Proposer != "" {
		fmt.Fprintf(&b, "- Proposed by: %s\n", p.Proposer)
	}
	fmt.Fprintf(&b, "- Validation: %s (confidence %.2f)\n", v.Decision, v.Confidence)

	if len(risks) > 0 {
		b.WriteString("\n## Risks\n\n")
		writeBullets(&b, risks)
	}
	if len(suggestions) > 0 {
		b.WriteString("\n## Suggestions\n\n")
		writeBullets(&b, suggestions)
	}
	return b.String()
}

func writeBullets(b *strings.Builder, items []string) {
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func (c *Cycle) issueLabels(p Proposal, v Validation) []string {
	labels := []string{
		"priority-" + strings.ToLower(p.Priority),
		categoryLabel(p),
		complexityLabel(p.Complexity),
	}
	if c.botLabel && v.Decision == DecisionApproved {
		labels = append(labels, "bot-approved")
	}
	return labels
}

func categoryLabel(p Proposal) string {
	if p.Category != "" {
		return p.Category
	}
	return "enhancement"
}

func complexityLabel(complexity int) string {
	switch {
	case complexity <= 3:
		return "complexity-simple"
	case complexity <= 7:
		return "complexity-medium"
	default:
		return "complexity-complex"
	}
}

func proposalIDSet(proposals []Proposal) map[string]bool {
	out := make(map[string]bool, len(proposals))
	for _, p := range proposals {
		out[p.ID] = true
	}
	return out
}

// joinResponses concatenates provider texts in stable id order.
func joinResponses(resp *runner.Response) string {
	ids := make([]string, 0, len(resp.Responses))
	for id := range resp.Responses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(resp.Responses[id])
		b.WriteString("\n")
	}
	return b.String()
}

// dialecticText prefers the runner's synthesis summary over raw responses.
func dialecticText(resp *runner.Response) string {
	if resp.Summary != "" {
		return resp.Summary
	}
	return joinResponses(resp)
}
