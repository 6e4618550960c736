package roadmap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/antigravity-dev/reflex/internal/host"
	"github.com/antigravity-dev/reflex/internal/runner"
	"github.com/antigravity-dev/reflex/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func tempStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func tempWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"go.mod":          "module example.test/app\n\nrequire modernc.org/sqlite v1.45.0\n",
		"main.go":         "package main\n\nfunc main() {}\n",
		"main_test.go":    "package main\n\nimport \"testing\"\n\nfunc TestMain(t *testing.T) {}\n",
		"README.md":       "# app\n",
		"internal/x/x.go": "package x\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// stubGate records arbitration calls; err != nil refuses every mutation.
type stubGate struct {
	err        error
	operations []string
}

func (g *stubGate) Authorize(_ context.Context, operation string, _, _ []string, _ string, _ map[string]string) error {
	g.operations = append(g.operations, operation)
	return g.err
}

// scriptRunner replays canned responses in call order and records the
// strategy of each call.
type scriptRunner struct {
	resps      []*runner.Response
	calls      int
	strategies []runner.Strategy
}

func (r *scriptRunner) Query(_ context.Context, _ string, strategy runner.Strategy, _ time.Duration) *runner.Response {
	r.strategies = append(r.strategies, strategy)
	if r.calls >= len(r.resps) {
		return &runner.Response{Error: "script exhausted"}
	}
	resp := r.resps[r.calls]
	r.calls++
	return resp
}

func allResp(responses map[string]string) *runner.Response {
	ids := make([]string, 0, len(responses))
	for id := range responses {
		ids = append(ids, id)
	}
	return &runner.Response{
		ProviderIDs: ids,
		Responses:   responses,
		Strategy:    runner.StrategyAll,
		Success:     true,
		TotalTokens: 100,
		TotalCost:   0.01,
	}
}

func dialecticResp(summary string) *runner.Response {
	return &runner.Response{
		ProviderIDs: []string{"synthesizer"},
		Strategy:    runner.StrategyDialectical,
		Success:     true,
		Summary:     summary,
		TotalTokens: 100,
		TotalCost:   0.01,
	}
}

const ideationText = `Title: Add Retry Queue
Description: Queue failed operations for bounded retry.
Value: Cuts manual intervention on transient faults.
Complexity: 4
Priority: HIGH
Dependencies: none
Success Metrics: retry success rate above 80%
Effort: 2 days
Category: enhancement

Title: Rewrite Storage Layer
Description: Replace the ledger store wholesale.
Value: Marginal.
Complexity: 9
Priority: LOW
Category: enhancement
`

const critiqueText = `Proposal: Add Retry Queue
Feasibility: 0.9
Value: 0.8
Strengths:
- Isolated change
Weaknesses:
- Needs idempotent operations
Suggestions:
- Start with host writes only

Proposal: Rewrite Storage Layer
Feasibility: 0.2
Value: 0.3
Weaknesses:
- High risk, low payoff
`

func scriptedCycle(t *testing.T, verdict string) (*Cycle, *scriptRunner, *host.Fake, *store.Store) {
	t.Helper()
	s := tempStore(t)
	h := host.NewFake()
	r := &scriptRunner{resps: []*runner.Response{
		allResp(map[string]string{"alpha": "Architecture rating: 7\nQuality rating: 6\nTop priorities:\n- Improve retry handling\n"}),
		allResp(map[string]string{"alpha": ideationText}),
		allResp(map[string]string{"alpha": critiqueText}),
		dialecticResp("Phase 1: Reliability\n- Add Retry Queue\nPhase 2: Foundations\n- Rewrite Storage Layer\n"),
		allResp(map[string]string{"alpha": "Add Retry Queue: clearly worth it.\nRewrite Storage Layer: maybe."}),
		dialecticResp("Rewrite Storage Layer carries unbounded risk."),
		dialecticResp(verdict),
	}}
	opts := Options{Workspace: tempWorkspace(t), BotLabel: true}
	return New(s, r, h, &stubGate{}, opts, testLogger()), r, h, s
}

func TestCycleCreatesIssuesForApprovedProposals(t *testing.T) {
	c, r, h, s := scriptedCycle(t,
		"Add Retry Queue: APPROVED (confidence 0.9)\nRewrite Storage Layer: REJECTED (confidence 0.8)\n")

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if res.ProposalsGenerated != 2 || res.ProposalsApproved != 1 {
		t.Errorf("generated=%d approved=%d, want 2/1", res.ProposalsGenerated, res.ProposalsApproved)
	}
	if len(res.IssuesCreated) != 1 {
		t.Fatalf("issues created = %v, want one", res.IssuesCreated)
	}
	if res.Errors != 0 {
		t.Errorf("errors = %d, want 0", res.Errors)
	}
	if res.TotalTokens != 700 {
		t.Errorf("tokens = %d, want 700 across seven calls", res.TotalTokens)
	}

	wantStrategies := []runner.Strategy{
		runner.StrategyAll, runner.StrategyAll, runner.StrategyAll,
		runner.StrategyDialectical,
		runner.StrategyAll, runner.StrategyDialectical, runner.StrategyDialectical,
	}
	for i, want := range wantStrategies {
		if r.strategies[i] != want {
			t.Errorf("call %d strategy = %s, want %s", i, r.strategies[i], want)
		}
	}

	issues := h.Issues()
	if len(issues) != 1 || issues[0].Title != "Add Retry Queue" {
		t.Fatalf("issues = %+v", issues)
	}
	labels := strings.Join(issues[0].Labels, ",")
	for _, want := range []string{"priority-high", "enhancement", "complexity-medium", "bot-approved"} {
		if !strings.Contains(labels, want) {
			t.Errorf("labels %q missing %q", labels, want)
		}
	}
	body := issues[0].Body
	for _, want := range []string{
		"## Description", "Queue failed operations",
		"## Benefits", "Isolated change",
		"## Acceptance Criteria", "retry success rate",
		"## Technical Notes", "Complexity: 4/10",
		"## Risks", "Needs idempotent operations",
		"## Suggestions", "Start with host writes only",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}

	op, err := s.GetOperation(1)
	if err != nil {
		t.Fatal(err)
	}
	if op.Kind != store.KindRoadmapCycle || !op.Success {
		t.Errorf("operation = %+v, want successful roadmap cycle", op)
	}
	if op.ExternalID != res.CycleID {
		t.Errorf("external id = %q, want cycle id %q", op.ExternalID, res.CycleID)
	}
}

func TestCycleRefinesPhasesToApprovedSet(t *testing.T) {
	c, _, _, _ := scriptedCycle(t,
		"Add Retry Queue: APPROVED_WITH_CHANGES (confidence 0.7)\nRewrite Storage Layer: NEEDS_REVISION (confidence 0.6)\n")

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Phases) != 1 || res.Phases[0].Name != "Reliability" {
		t.Fatalf("phases = %+v, want only Reliability to survive", res.Phases)
	}
	if len(res.Phases[0].ProposalIDs) != 1 || res.Phases[0].ProposalIDs[0] != "add-retry-queue" {
		t.Errorf("phase proposals = %v", res.Phases[0].ProposalIDs)
	}
}

func TestCycleIdeationFailureRecordedAsFailedOperation(t *testing.T) {
	s := tempStore(t)
	r := &scriptRunner{resps: []*runner.Response{
		allResp(map[string]string{"alpha": "Architecture rating: 7\n"}),
		{Error: "timeout"},
	}}
	c := New(s, r, host.NewFake(), &stubGate{}, Options{Workspace: tempWorkspace(t)}, testLogger())

	_, err := c.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ideation") {
		t.Fatalf("err = %v, want ideation failure", err)
	}

	op, opErr := s.GetOperation(1)
	if opErr != nil {
		t.Fatal(opErr)
	}
	if op.Success || op.ErrorKind != store.ErrProviderFault {
		t.Errorf("operation = %+v, want failed with provider fault", op)
	}
}

func TestCycleGateRefusalBlocksIssueCreation(t *testing.T) {
	c, _, h, _ := scriptedCycle(t,
		"Add Retry Queue: APPROVED (confidence 0.9)\nRewrite Storage Layer: APPROVED (confidence 0.8)\n")
	g := &stubGate{err: errors.New("approval: denied: timed out")}
	c.gate = g

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Issues()) != 0 {
		t.Fatalf("issues = %+v, want none when the gate refuses", h.Issues())
	}
	if res.IssuesBlocked != 2 {
		t.Errorf("blocked = %d, want 2", res.IssuesBlocked)
	}
	if len(g.operations) != 2 {
		t.Errorf("gate saw %d operations, want one per approved proposal", len(g.operations))
	}
	for _, op := range g.operations {
		if !strings.HasPrefix(op, "create roadmap issue: ") {
			t.Errorf("operation %q, want a create-issue arbitration", op)
		}
	}
}

func TestCycleBotLabelKnob(t *testing.T) {
	c, _, h, _ := scriptedCycle(t, "Add Retry Queue: APPROVED (confidence 0.9)\n")
	c.botLabel = false

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	issues := h.Issues()
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want one", issues)
	}
	for _, l := range issues[0].Labels {
		if l == "bot-approved" {
			t.Error("bot-approved labeled with the knob off")
		}
	}
}

func TestCycleIssueCapHonored(t *testing.T) {
	c, _, h, _ := scriptedCycle(t,
		"Add Retry Queue: APPROVED (confidence 0.9)\nRewrite Storage Layer: APPROVED (confidence 0.8)\n")
	c.maxIssues = 1

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.ProposalsApproved != 2 {
		t.Errorf("approved = %d, want 2", res.ProposalsApproved)
	}
	if len(h.Issues()) != 1 {
		t.Errorf("issues = %d, want the cap of 1", len(h.Issues()))
	}
}

func TestCycleDryRunSkipsIssueCreation(t *testing.T) {
	c, _, h, _ := scriptedCycle(t, "Add Retry Queue: APPROVED (confidence 0.9)\n")
	c.dryRun = true

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.ProposalsApproved != 1 {
		t.Errorf("approved = %d, want 1", res.ProposalsApproved)
	}
	if len(h.Issues()) != 0 {
		t.Error("dry run created issues")
	}
}

func TestAnalyzeCodebase(t *testing.T) {
	a, err := AnalyzeCodebase(tempWorkspace(t))
	if err != nil {
		t.Fatal(err)
	}
	if a.Languages["go"] != 3 {
		t.Errorf("go files = %d, want 3", a.Languages["go"])
	}
	if !a.HasTests || !a.HasDocs {
		t.Errorf("HasTests=%v HasDocs=%v, want both true", a.HasTests, a.HasDocs)
	}
	found := false
	for _, f := range a.Frameworks {
		if f == "sqlite" {
			found = true
		}
	}
	if !found {
		t.Errorf("frameworks = %v, want sqlite detected from go.mod", a.Frameworks)
	}
	if len(a.Directories) != 1 || a.Directories[0] != "internal" {
		t.Errorf("directories = %v", a.Directories)
	}
}
