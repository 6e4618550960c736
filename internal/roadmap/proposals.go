package roadmap

import (
	"regexp"
	"strconv"
	"strings"
)

// Proposal is one candidate feature from the ideation phase.
type Proposal struct {
	ID               string
	Title            string
	Description      string
	ValueProposition string
	Complexity       int // 1-10
	Priority         string
	Dependencies     []string
	SuccessMetrics   []string
	EstimatedEffort  string
	Category         string
	Proposer         string
}

// Critique is one provider's review of a proposal.
type Critique struct {
	ProposalID  string
	Strengths   []string
	Weaknesses  []string
	Suggestions []string
	Feasibility float64
	Value       float64
}

// Phase is a named delivery phase from the dialectical synthesis.
type Phase struct {
	Name        string
	ProposalIDs []string
}

// Validation decisions, from the validation synthesis pass.
const (
	DecisionApproved            = "APPROVED"
	DecisionApprovedWithChanges = "APPROVED_WITH_CHANGES"
	DecisionNeedsRevision       = "NEEDS_REVISION"
	DecisionRejected            = "REJECTED"
)

// Validation is the verdict for one proposal.
type Validation struct {
	ProposalID string
	Decision   string
	Confidence float64
	Risks      []string
}

func (v Validation) approved() bool {
	return v.Decision == DecisionApproved || v.Decision == DecisionApprovedWithChanges
}

// Consensus is the multi-agent view of the codebase.
type Consensus struct {
	ArchitectureRating float64
	QualityRating      float64
	TopPriorities      []string
	Patterns           []string
}

var bulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.*)$`)

// slugify derives a stable proposal id from its title.
func slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '/':
			b.WriteRune('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if len(s) > 60 {
		s = s[:60]
	}
	return s
}

// parseProposals extracts Title:-keyed proposal blocks from one provider
// response. Unknown keys fold into the description.
func parseProposals(text, proposer string) []Proposal {
	var out []Proposal
	var cur *Proposal

	flush := func() {
		if cur != nil && cur.Title != "" {
			cur.ID = slugify(cur.Title)
			if cur.Priority == "" {
				cur.Priority = "MEDIUM"
			}
			if cur.Complexity == 0 {
				cur.Complexity = 5
			}
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		key, value := splitKeyLine(line)
		switch key {
		case "title", "proposal":
			flush()
			cur = &Proposal{Title: value, Proposer: proposer}
			continue
		}
		if cur == nil {
			continue
		}
		switch key {
		case "description":
			cur.Description = value
		case "value", "value proposition":
			cur.ValueProposition = value
		case "complexity":
			cur.Complexity = clampComplexity(parseLeadingInt(value))
		case "priority":
			cur.Priority = normalizePriority(value)
		case "dependencies":
			cur.Dependencies = splitList(value)
		case "success metrics", "metrics":
			cur.SuccessMetrics = splitList(value)
		case "effort", "estimated effort":
			cur.EstimatedEffort = value
		case "category":
			cur.Category = strings.ToLower(value)
		default:
			if trimmed := strings.TrimSpace(line); trimmed != "" && cur.Description != "" {
				cur.Description += " " + trimmed
			}
		}
	}
	flush()
	return out
}

// parseCritiques extracts per-proposal critiques keyed by "Proposal: <id>"
// headers.
func parseCritiques(text string) []Critique {
	var out []Critique
	var cur *Critique
	section := ""

	flush := func() {
		if cur != nil && cur.ProposalID != "" {
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		key, value := splitKeyLine(line)
		switch key {
		case "proposal":
			flush()
			cur = &Critique{ProposalID: slugify(value)}
			section = ""
			continue
		}
		if cur == nil {
			continue
		}
		switch key {
		case "strengths":
			section = "strengths"
			continue
		case "weaknesses":
			section = "weaknesses"
			continue
		case "suggestions":
			section = "suggestions"
			continue
		case "feasibility":
			cur.Feasibility = parseRatio(value)
			continue
		case "value":
			cur.Value = parseRatio(value)
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			item := strings.TrimSpace(m[1])
			switch section {
			case "strengths":
				cur.Strengths = append(cur.Strengths, item)
			case "weaknesses":
				cur.Weaknesses = append(cur.Weaknesses, item)
			case "suggestions":
				cur.Suggestions = append(cur.Suggestions, item)
			}
		}
	}
	flush()
	return out
}

var phaseHeaderRe = regexp.MustCompile(`(?i)^phase\s+\d+\s*[:\-]\s*(.+)$`)

// parsePhases extracts "Phase N: name" sections whose bullets reference
// proposal titles or ids.
func parsePhases(text string) []Phase {
	var out []Phase
	var cur *Phase
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := phaseHeaderRe.FindStringSubmatch(trimmed); m != nil {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &Phase{Name: strings.TrimSpace(m[1])}
			continue
		}
		if cur == nil {
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			cur.ProposalIDs = append(cur.ProposalIDs, slugify(strings.TrimSpace(m[1])))
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

var decisionRe = regexp.MustCompile(`(?i)\b(APPROVED_WITH_CHANGES|APPROVED|NEEDS_REVISION|REJECTED)\b`)
var confidenceRe = regexp.MustCompile(`(?:\(|\b(?:confidence[:=]?\s*))(\d+(?:\.\d+)?)`)

// parseValidations extracts "<proposal>: DECISION (confidence)" lines.
// An unparseable decision defaults to NEEDS_REVISION so nothing slips
// through to issue creation without an explicit approval.
func parseValidations(text string, known map[string]bool) []Validation {
	var out []Validation
	seen := make(map[string]bool)

	for _, line := range strings.Split(text, "\n") {
		m := decisionRe.FindStringIndex(line)
		if m == nil {
			continue
		}
		label := line[:m[0]]
		if i := strings.LastIndex(label, ":"); i >= 0 {
			label = label[:i]
		}
		if b := bulletRe.FindStringSubmatch(label); b != nil {
			label = b[1]
		}
		id := slugify(label)
		if id == "" || !known[id] || seen[id] {
			continue
		}
		seen[id] = true

		v := Validation{
			ProposalID: id,
			Decision:   strings.ToUpper(line[m[0]:m[1]]),
			Confidence: 0.5,
		}
		if c := confidenceRe.FindStringSubmatch(line); c != nil {
			if f, err := strconv.ParseFloat(c[1], 64); err == nil {
				if f > 1 {
					f /= 100
				}
				v.Confidence = f
			}
		}
		out = append(out, v)
	}
	return out
}

// parseConsensus extracts ratings and priority bullets from the multi-agent
// codebase review.
func parseConsensus(text string) Consensus {
	c := Consensus{}
	section := ""
	for _, line := range strings.Split(text, "\n") {
		key, value := splitKeyLine(line)
		switch key {
		case "architecture", "architecture rating":
			c.ArchitectureRating = parseRating(value)
			continue
		case "quality", "quality rating":
			c.QualityRating = parseRating(value)
			continue
		case "priorities", "top priorities":
			section = "priorities"
			continue
		case "patterns", "consensus patterns":
			section = "patterns"
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			item := strings.TrimSpace(m[1])
			switch section {
			case "priorities":
				c.TopPriorities = append(c.TopPriorities, item)
			case "patterns":
				c.Patterns = append(c.Patterns, item)
			}
		}
	}
	return c
}

func splitKeyLine(line string) (key, value string) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimLeft(trimmed, "#*- ")
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return "", ""
	}
	return strings.ToLower(strings.TrimSpace(trimmed[:idx])), strings.TrimSpace(trimmed[idx+1:])
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" && strings.ToLower(p) != "none" {
			out = append(out, p)
		}
	}
	return out
}

func parseLeadingInt(value string) int {
	digits := ""
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits += string(r)
		} else if digits != "" {
			break
		}
	}
	n, _ := strconv.Atoi(digits)
	return n
}

func clampComplexity(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

// parseRating reads "7", "7/10", or "7.5" as a 0-10 rating.
func parseRating(value string) float64 {
	value = strings.TrimSpace(strings.SplitN(value, "/", 2)[0])
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	if f < 0 {
		return 0
	}
	if f > 10 {
		return 10
	}
	return f
}

// parseRatio reads "0.8" or "80%" as a 0-1 ratio.
func parseRatio(value string) float64 {
	value = strings.TrimSuffix(strings.TrimSpace(value), "%")
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	if f > 1 {
		f /= 100
	}
	if f < 0 {
		return 0
	}
	return f
}

func normalizePriority(value string) string {
	upper := strings.ToUpper(strings.TrimSpace(value))
	switch upper {
	case "CRITICAL", "HIGH", "MEDIUM", "LOW":
		return upper
	default:
		return "MEDIUM"
	}
}
