package prompts

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempLibrary(t *testing.T) *Library {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.json")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	lib, err := Open(path, logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return lib
}

func TestGetCreatesDefaultLazily(t *testing.T) {
	lib := tempLibrary(t)

	text, err := lib.Get("issue_analysis", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if text == "" {
		t.Fatal("default template should not be empty")
	}
	if _, version, ok := lib.Current("issue_analysis"); !ok || version != 1 {
		t.Errorf("lazily created template should be at version 1")
	}
}

func TestGetUnknownTemplate(t *testing.T) {
	lib := tempLibrary(t)
	if _, err := lib.Get("no_such_template", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestGetRendersContextBlocks(t *testing.T) {
	lib := tempLibrary(t)
	lib.BindRepositoryContext("language: Go\nfiles: 321")

	text, err := lib.Get("code_generation", map[string]string{"issue": "#12", "branch": "feat/x"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "## Repository Context") {
		t.Error("missing repository context block")
	}
	if !strings.Contains(text, "files: 321") {
		t.Error("missing repository context content")
	}
	if !strings.Contains(text, "## Task-Specific Context") {
		t.Error("missing task-specific context block")
	}
	if !strings.Contains(text, "- branch: feat/x") || !strings.Contains(text, "- issue: #12") {
		t.Error("missing task context entries")
	}
}

func TestUpdateVersioningAndRollback(t *testing.T) {
	lib := tempLibrary(t)

	if _, err := lib.Get("issue_analysis", nil); err != nil {
		t.Fatal(err)
	}

	if err := lib.Update("issue_analysis", "V2", "first improvement"); err != nil {
		t.Fatal(err)
	}
	if err := lib.Update("issue_analysis", "V3", "second improvement"); err != nil {
		t.Fatal(err)
	}

	if hist := lib.History("issue_analysis"); len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if _, version, _ := lib.Current("issue_analysis"); version != 3 {
		t.Errorf("version = %d, want 3", version)
	}

	ok, err := lib.Rollback("issue_analysis", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("rollback to v2 should succeed")
	}
	text, version, _ := lib.Current("issue_analysis")
	if text != "V2" {
		t.Errorf("template = %q, want V2", text)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}

	// Version 1 has no prior template stored.
	ok, err = lib.Rollback("issue_analysis", 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("rollback to v1 should return false")
	}

	// Rolling back to the current version is a no-op false.
	ok, err = lib.Rollback("issue_analysis", 2)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("rollback to current version should return false")
	}
}

func TestUpdateIdenticalTextIsNoOp(t *testing.T) {
	lib := tempLibrary(t)
	if _, err := lib.Get("pr_review", nil); err != nil {
		t.Fatal(err)
	}
	if err := lib.Update("pr_review", "T", "change"); err != nil {
		t.Fatal(err)
	}
	_, v1, _ := lib.Current("pr_review")

	if err := lib.Update("pr_review", "T", "change again"); err != nil {
		t.Fatal(err)
	}
	_, v2, _ := lib.Current("pr_review")
	if v1 != v2 {
		t.Errorf("identical update bumped version %d -> %d", v1, v2)
	}
}

func TestSaveLoadIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.json")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	lib, err := Open(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lib.Get("roadmap_ideation", nil); err != nil {
		t.Fatal(err)
	}
	if err := lib.Update("roadmap_ideation", "improved ideation prompt", "learning"); err != nil {
		t.Fatal(err)
	}
	if err := lib.TrackEffectiveness("roadmap_ideation", true, 12.5, 800, "good"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Open(path, logger)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	text, version, ok := reloaded.Current("roadmap_ideation")
	if !ok || text != "improved ideation prompt" || version != 2 {
		t.Errorf("reloaded = %q v%d ok=%v", text, version, ok)
	}
	st, err := reloaded.Statistics("roadmap_ideation")
	if err != nil {
		t.Fatal(err)
	}
	if st.Uses != 1 || st.SuccessRate != 1.0 || st.AvgExecSec != 12.5 || st.AvgTokens != 800 {
		t.Errorf("statistics = %+v", st)
	}
}

func TestTrackEffectivenessAggregates(t *testing.T) {
	lib := tempLibrary(t)
	if _, err := lib.Get("issue_analysis", nil); err != nil {
		t.Fatal(err)
	}

	if err := lib.TrackEffectiveness("issue_analysis", true, 10, 100, ""); err != nil {
		t.Fatal(err)
	}
	if err := lib.TrackEffectiveness("issue_analysis", false, 20, 300, "too verbose"); err != nil {
		t.Fatal(err)
	}

	st, err := lib.Statistics("issue_analysis")
	if err != nil {
		t.Fatal(err)
	}
	if st.Uses != 2 {
		t.Errorf("uses = %d, want 2", st.Uses)
	}
	if st.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", st.SuccessRate)
	}
	if st.AvgExecSec != 15 {
		t.Errorf("avg exec = %v, want 15", st.AvgExecSec)
	}
	if st.AvgTokens != 200 {
		t.Errorf("avg tokens = %v, want 200", st.AvgTokens)
	}
}
