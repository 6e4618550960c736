package roadmap

import (
	"testing"
)

func TestParseProposalsDefaultsAndLists(t *testing.T) {
	got := parseProposals(`Title: Harden Webhook Validation
Description: Verify signatures before dispatch.
Complexity: 3
Priority: CRITICAL
Dependencies: secret rotation, config reload
Success Metrics: zero unsigned payloads accepted

Title: Vague Idea
Description: Something.
`, "alpha")

	if len(got) != 2 {
		t.Fatalf("parsed %d proposals, want 2", len(got))
	}
	p := got[0]
	if p.ID != "harden-webhook-validation" || p.Proposer != "alpha" {
		t.Errorf("id=%q proposer=%q", p.ID, p.Proposer)
	}
	if p.Complexity != 3 || p.Priority != "CRITICAL" {
		t.Errorf("complexity=%d priority=%s", p.Complexity, p.Priority)
	}
	if len(p.Dependencies) != 2 || len(p.SuccessMetrics) != 1 {
		t.Errorf("deps=%v metrics=%v", p.Dependencies, p.SuccessMetrics)
	}

	// Missing fields fall back to the midpoint defaults.
	if got[1].Complexity != 5 || got[1].Priority != "MEDIUM" {
		t.Errorf("defaults = complexity %d priority %s", got[1].Complexity, got[1].Priority)
	}
}

func TestParseCritiquesSectionsAndRatios(t *testing.T) {
	got := parseCritiques(`Proposal: Harden Webhook Validation
Feasibility: 85%
Value: 0.9
Strengths:
- Small surface area
Weaknesses:
- Requires secret distribution
Suggestions:
- Roll out behind a flag
`)
	if len(got) != 1 {
		t.Fatalf("parsed %d critiques, want 1", len(got))
	}
	c := got[0]
	if c.ProposalID != "harden-webhook-validation" {
		t.Errorf("id = %q", c.ProposalID)
	}
	if c.Feasibility != 0.85 || c.Value != 0.9 {
		t.Errorf("feasibility=%v value=%v", c.Feasibility, c.Value)
	}
	if len(c.Strengths) != 1 || len(c.Weaknesses) != 1 || len(c.Suggestions) != 1 {
		t.Errorf("sections = %+v", c)
	}
}

func TestParsePhases(t *testing.T) {
	got := parsePhases(`Some preamble.

Phase 1: Foundation
- Harden Webhook Validation
- Add Retry Queue

Phase 2: Expansion
1. Rewrite Storage Layer
`)
	if len(got) != 2 {
		t.Fatalf("parsed %d phases, want 2", len(got))
	}
	if got[0].Name != "Foundation" || len(got[0].ProposalIDs) != 2 {
		t.Errorf("phase 1 = %+v", got[0])
	}
	if got[1].ProposalIDs[0] != "rewrite-storage-layer" {
		t.Errorf("phase 2 ids = %v", got[1].ProposalIDs)
	}
}

func TestParseValidations(t *testing.T) {
	known := map[string]bool{
		"add-retry-queue":       true,
		"rewrite-storage-layer": true,
	}
	got := parseValidations(`- Add Retry Queue: APPROVED (confidence 0.9)
Rewrite Storage Layer: APPROVED_WITH_CHANGES (0.6)
Unknown Thing: APPROVED (0.9)
`, known)

	if len(got) != 2 {
		t.Fatalf("parsed %d validations, want 2 (unknown ids dropped)", len(got))
	}
	if got[0].Decision != DecisionApproved || got[0].Confidence != 0.9 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Decision != DecisionApprovedWithChanges || !got[1].approved() {
		t.Errorf("second = %+v", got[1])
	}
}

func TestParseConsensus(t *testing.T) {
	got := parseConsensus(`Architecture rating: 7/10
Quality rating: 6.5
Top priorities:
- Improve retry handling
- Add request tracing
Consensus patterns:
- Thin handlers over a fat store
`)
	if got.ArchitectureRating != 7 || got.QualityRating != 6.5 {
		t.Errorf("ratings = %v/%v", got.ArchitectureRating, got.QualityRating)
	}
	if len(got.TopPriorities) != 2 || len(got.Patterns) != 1 {
		t.Errorf("priorities=%v patterns=%v", got.TopPriorities, got.Patterns)
	}
}

func TestComplexityLabel(t *testing.T) {
	cases := []struct {
		complexity int
		want       string
	}{
		{1, "complexity-simple"}, {3, "complexity-simple"},
		{4, "complexity-medium"}, {7, "complexity-medium"},
		{8, "complexity-complex"}, {10, "complexity-complex"},
	}
	for _, tc := range cases {
		if got := complexityLabel(tc.complexity); got != tc.want {
			t.Errorf("complexityLabel(%d) = %s, want %s", tc.complexity, got, tc.want)
		}
	}
}
