package roadmap

import (
	"fmt"
	"strings"
)

func buildReviewPrompt(analysis *CodebaseAnalysis) string {
	var b strings.Builder
	b.WriteString("Review this codebase snapshot and rate it.\n\n")
	b.WriteString(analysis.Summary())
	b.WriteString(`
Respond with exactly these sections:
Architecture rating: <0-10>
Quality rating: <0-10>
Top priorities:
- <most important improvement first>
Consensus patterns:
- <recurring structural observation>
`)
	return b.String()
}

func buildIdeationPrompt(analysis *CodebaseAnalysis, consensus *Consensus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose %d-%d concrete feature improvements for this codebase.\n\n", minProposalsWant, maxProposalsWant)
	b.WriteString(analysis.Summary())
	if len(consensus.TopPriorities) > 0 {
		b.WriteString("\nReview priorities:\n")
		for _, p := range consensus.TopPriorities {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	b.WriteString(`
For each proposal use exactly this block format:
Title: <short imperative title>
Description: <what to build and where>
Value: <why it matters>
Complexity: <1-10>
Priority: CRITICAL|HIGH|MEDIUM|LOW
Dependencies: <comma-separated, or none>
Success Metrics: <comma-separated measurable outcomes>
Effort: <rough estimate>
Category: enhancement|bug|performance|security|documentation
`)
	return b.String()
}

func buildCritiquePrompt(proposals []Proposal) string {
	var b strings.Builder
	b.WriteString("Critique each of the following feature proposals.\n\n")
	writeProposalDigest(&b, proposals)
	b.WriteString(`
For each proposal use exactly this block format:
Proposal: <title>
Feasibility: <0-1>
Value: <0-1>
Strengths:
- <strength>
Weaknesses:
- <weakness>
Suggestions:
- <improvement to the proposal>
`)
	return b.String()
}

func buildPhasePrompt(proposals []Proposal, critiques map[string][]Critique) string {
	var b strings.Builder
	b.WriteString("Group the strongest of these proposals into 3-4 named delivery phases, earliest first.\n\n")
	writeProposalDigest(&b, proposals)
	if len(critiques) > 0 {
		b.WriteString("\nCritique summary:\n")
		for _, p := range proposals {
			for _, cr := range critiques[p.ID] {
				fmt.Fprintf(&b, "- %s: feasibility %.2f, value %.2f\n", p.Title, cr.Feasibility, cr.Value)
			}
		}
	}
	b.WriteString(`
Respond with:
Phase 1: <phase name>
- <proposal title>
Phase 2: <phase name>
- <proposal title>
(and so on, 3-4 phases, every listed bullet an exact proposal title)
`)
	return b.String()
}

func buildThesisPrompt(proposals []Proposal) string {
	var b strings.Builder
	b.WriteString("Argue FOR each of these proposals: the strongest case that it should be built now.\n\n")
	writeProposalDigest(&b, proposals)
	b.WriteString("\nGive one short paragraph per proposal, prefixed with its exact title.\n")
	return b.String()
}

func buildAntithesisPrompt(proposals []Proposal, thesis string) string {
	var b strings.Builder
	b.WriteString("Argue AGAINST each of these proposals: risks, hidden costs, and reasons to defer.\n\n")
	writeProposalDigest(&b, proposals)
	if thesis != "" {
		b.WriteString("\nThe case in favor was:\n")
		b.WriteString(truncate(thesis, 4000))
		b.WriteString("\n")
	}
	b.WriteString("\nGive one short paragraph per proposal, prefixed with its exact title.\n")
	return b.String()
}

func buildVerdictPrompt(proposals []Proposal, critiques map[string][]Critique, thesis, antithesis string) string {
	var b strings.Builder
	b.WriteString("Weigh the arguments and issue a final verdict for each proposal.\n\n")
	writeProposalDigest(&b, proposals)
	if thesis != "" {
		b.WriteString("\nCase for:\n")
		b.WriteString(truncate(thesis, 3000))
		b.WriteString("\n")
	}
	if antithesis != "" {
		b.WriteString("\nCase against:\n")
		b.WriteString(truncate(antithesis, 3000))
		b.WriteString("\n")
	}
	if len(critiques) > 0 {
		b.WriteString("\nPeer ratings:\n")
		for _, p := range proposals {
			for _, cr := range critiques[p.ID] {
				fmt.Fprintf(&b, "- %s: feasibility %.2f, value %.2f\n", p.Title, cr.Feasibility, cr.Value)
			}
		}
	}
	b.WriteString(`
Respond with one line per proposal:
<exact proposal title>: APPROVED|APPROVED_WITH_CHANGES|NEEDS_REVISION|REJECTED (confidence 0-1)
`)
	return b.String()
}

func writeProposalDigest(b *strings.Builder, proposals []Proposal) {
	for i, p := range proposals {
		fmt.Fprintf(b, "%d. %s [%s, complexity %d]\n   %s\n", i+1, p.Title, p.Priority, p.Complexity, truncate(p.Description, 300))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
