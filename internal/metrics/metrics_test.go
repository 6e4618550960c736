package metrics

import (
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/reflex/internal/store"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func complete(t *testing.T, s *store.Store, kind store.Kind, ok bool, errKind store.ErrorKind) int64 {
	t.Helper()
	id, err := s.StartOperation(kind, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := ""
	if !ok {
		msg = "provider query failed"
	}
	if err := s.CompleteOperation(id, ok, msg, errKind, 0); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSuccessRateAndCounts(t *testing.T) {
	s := seededStore(t)
	for i := 0; i < 3; i++ {
		complete(t, s, store.KindProcessIssue, true, "")
	}
	complete(t, s, store.KindProcessIssue, false, store.ErrProviderFault)
	complete(t, s, store.KindManagePR, true, "")

	a := New(s)

	rate, err := a.SuccessRate("", 7)
	if err != nil {
		t.Fatal(err)
	}
	if rate != 0.8 {
		t.Errorf("overall success rate = %v, want 0.8", rate)
	}

	rate, err = a.SuccessRate(store.KindProcessIssue, 7)
	if err != nil {
		t.Fatal(err)
	}
	if rate != 0.75 {
		t.Errorf("issue success rate = %v, want 0.75", rate)
	}

	counts, err := a.OperationCounts(7)
	if err != nil {
		t.Fatal(err)
	}
	if counts[store.KindProcessIssue] != 4 || counts[store.KindManagePR] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestSuccessRateEmptyLedger(t *testing.T) {
	a := New(seededStore(t))
	rate, err := a.SuccessRate("", 7)
	if err != nil {
		t.Fatal(err)
	}
	if rate != 0 {
		t.Errorf("rate = %v, want 0", rate)
	}
}

func TestErrorAnalysisRanked(t *testing.T) {
	s := seededStore(t)
	for i := 0; i < 4; i++ {
		complete(t, s, store.KindGenerateCode, false, store.ErrProviderFault)
	}
	complete(t, s, store.KindGenerateCode, false, store.ErrHostFault)

	errors, err := New(s).ErrorAnalysis(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(errors) != 2 {
		t.Fatalf("error kinds = %d, want 2", len(errors))
	}
	if errors[0].ErrorKind != string(store.ErrProviderFault) || errors[0].Count != 4 {
		t.Errorf("top error = %+v", errors[0])
	}
	if errors[0].ExampleMessage == "" {
		t.Error("example message should not be empty")
	}
}

func TestCostAnalysis(t *testing.T) {
	s := seededStore(t)

	id1 := complete(t, s, store.KindGenerateCode, true, "")
	if err := s.AttachCodeGenFact(store.CodeGenerationFact{
		OperationID: id1, Provider: "anthropic", Model: "opus", TokensUsed: 1000, CostUSD: 0.5,
	}); err != nil {
		t.Fatal(err)
	}
	id2 := complete(t, s, store.KindGenerateCode, true, "")
	if err := s.AttachCodeGenFact(store.CodeGenerationFact{
		OperationID: id2, Provider: "openai", Model: "gpt", TokensUsed: 2000, CostUSD: 1.5,
	}); err != nil {
		t.Fatal(err)
	}

	costs, err := New(s).CostAnalysis(7)
	if err != nil {
		t.Fatal(err)
	}
	if costs.TotalCostUSD != 2.0 {
		t.Errorf("total cost = %v, want 2.0", costs.TotalCostUSD)
	}
	if costs.TotalTokens != 3000 {
		t.Errorf("total tokens = %v, want 3000", costs.TotalTokens)
	}
	if len(costs.ByProviderModel) != 2 {
		t.Fatalf("provider rows = %d, want 2", len(costs.ByProviderModel))
	}
	if costs.ByProviderModel[0].Provider != "openai" {
		t.Errorf("highest spend should rank first, got %s", costs.ByProviderModel[0].Provider)
	}
}

func TestInsightsRecurringError(t *testing.T) {
	s := seededStore(t)
	for i := 0; i < 6; i++ {
		complete(t, s, store.KindProcessIssue, false, store.ErrProviderFault)
	}

	insights, err := NewInsights(New(s)).Generate(7)
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, in := range insights {
		if in.Pattern == "recurring_error" {
			found = true
			if in.Recommendation == "" {
				t.Error("recommendation should not be empty")
			}
		}
	}
	if !found {
		t.Error("expected recurring_error insight for 6 identical failures")
	}
}

func TestBuildReport(t *testing.T) {
	s := seededStore(t)
	complete(t, s, store.KindProcessIssue, true, "")

	report, err := NewInsights(New(s)).BuildReport(7)
	if err != nil {
		t.Fatal(err)
	}
	if report.WindowDays != 7 {
		t.Errorf("window = %d", report.WindowDays)
	}
	if report.SuccessRate != 1.0 {
		t.Errorf("success rate = %v, want 1", report.SuccessRate)
	}
	if report.Counts[store.KindProcessIssue] != 1 {
		t.Errorf("counts = %v", report.Counts)
	}
}
