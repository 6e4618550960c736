package deliberate

import (
	"regexp"
	"strings"
)

// Provider responses are free-form text. The extractors here are best-effort
// around a small set of stable markers; absence of a marker is tolerated and
// defaults are conservative.

var bulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.*)$`)

const minActionableLen = 10

// confidenceForProviders maps how many providers answered to a confidence.
func confidenceForProviders(n int) float64 {
	switch {
	case n >= 4:
		return 0.9
	case n == 3:
		return 0.8
	case n == 2:
		return 0.7
	case n == 1:
		return 0.6
	default:
		return 0
	}
}

// splitDialectic locates the THESIS, ANTITHESIS, SYNTHESIS section markers
// in order and returns the three section bodies. Missing markers yield empty
// sections; text before the first marker is dropped.
func splitDialectic(text string) (thesis, antithesis, synthesis string) {
	upper := strings.ToUpper(text)

	tIdx := strings.Index(upper, "THESIS")
	// ANTITHESIS contains THESIS as a suffix, so search after the thesis
	// marker and require the full word.
	aIdx := -1
	if tIdx >= 0 {
		rel := strings.Index(upper[tIdx+len("THESIS"):], "ANTITHESIS")
		if rel >= 0 {
			aIdx = tIdx + len("THESIS") + rel
		}
	} else {
		aIdx = strings.Index(upper, "ANTITHESIS")
	}
	sIdx := -1
	from := 0
	if aIdx >= 0 {
		from = aIdx + len("ANTITHESIS")
	} else if tIdx >= 0 {
		from = tIdx + len("THESIS")
	}
	if rel := strings.Index(upper[from:], "SYNTHESIS"); rel >= 0 {
		sIdx = from + rel
	}

	section := func(start, markerLen, end int) string {
		if start < 0 {
			return ""
		}
		body := text[start+markerLen:]
		if end > start {
			body = text[start+markerLen : end]
		}
		return strings.Trim(strings.TrimSpace(body), ":\n ")
	}

	endOfThesis := aIdx
	if endOfThesis < 0 {
		endOfThesis = sIdx
	}
	thesis = section(tIdx, len("THESIS"), endOfThesis)
	antithesis = section(aIdx, len("ANTITHESIS"), sIdx)
	synthesis = section(sIdx, len("SYNTHESIS"), -1)
	return thesis, antithesis, synthesis
}

// extractBullets returns up to max bulleted or numbered lines from text,
// stripped of their markers, keeping only items of a useful length.
func extractBullets(text string, max int) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		item := strings.TrimSpace(m[1])
		if len(item) < minActionableLen {
			continue
		}
		items = append(items, item)
		if len(items) >= max {
			break
		}
	}
	return items
}

// improvement bucket section headers, matched case-insensitively on lines.
var (
	promptHeaderRe     = regexp.MustCompile(`(?i)prompt\s+improvement`)
	validationHeaderRe = regexp.MustCompile(`(?i)validation\s+rule`)
	complexityHeaderRe = regexp.MustCompile(`(?i)complexity\s+adjustment`)
	contextHeaderRe    = regexp.MustCompile(`(?i)context\s+addition`)
)

type improvementBuckets struct {
	prompts    map[string]string
	validation []string
	complexity map[string]string
	context    []string
}

// parseImprovements scans one provider response, routing bullets to the
// bucket whose header most recently appeared. Prompt and complexity bullets
// are "key: value" pairs; malformed ones are skipped.
func parseImprovements(text string, into *improvementBuckets) {
	section := ""
	for _, line := range strings.Split(text, "\n") {
		switch {
		case promptHeaderRe.MatchString(line):
			section = "prompt"
			continue
		case validationHeaderRe.MatchString(line):
			section = "validation"
			continue
		case complexityHeaderRe.MatchString(line):
			section = "complexity"
			continue
		case contextHeaderRe.MatchString(line):
			section = "context"
			continue
		}

		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		item := strings.TrimSpace(m[1])
		if len(item) < minActionableLen {
			continue
		}

		switch section {
		case "prompt":
			if key, value, ok := splitKeyValue(item); ok {
				if _, exists := into.prompts[key]; !exists {
					into.prompts[key] = value
				}
			}
		case "validation":
			into.validation = appendUnique(into.validation, item)
		case "complexity":
			if key, value, ok := splitKeyValue(item); ok {
				if _, exists := into.complexity[key]; !exists {
					into.complexity[key] = value
				}
			}
		case "context":
			into.context = appendUnique(into.context, item)
		}
	}
}

func splitKeyValue(item string) (string, string, bool) {
	idx := strings.Index(item, ":")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(item[:idx])
	value := strings.TrimSpace(item[idx+1:])
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}

func appendUnique(items []string, item string) []string {
	for _, existing := range items {
		if existing == item {
			return items
		}
	}
	return append(items, item)
}

// extractRecommendation finds the validation verdict: keep, refine, or
// revert, preferred in that order, defaulting to keep. A "Recommendation:"
// line wins over a body match.
func extractRecommendation(text string) string {
	lower := strings.ToLower(text)

	for _, line := range strings.Split(lower, "\n") {
		if !strings.Contains(line, "recommendation") {
			continue
		}
		for _, verdict := range []string{"keep", "refine", "revert"} {
			if strings.Contains(line, verdict) {
				return verdict
			}
		}
	}
	for _, verdict := range []string{"keep", "refine", "revert"} {
		if strings.Contains(lower, verdict) {
			return verdict
		}
	}
	return "keep"
}

var sideEffectHeaderRe = regexp.MustCompile(`(?i)side\s+effect`)

// extractSideEffects collects bullets that follow a side-effect header.
func extractSideEffects(text string, max int) []string {
	var items []string
	inSection := false
	for _, line := range strings.Split(text, "\n") {
		if sideEffectHeaderRe.MatchString(line) {
			inSection = true
			continue
		}
		if !inSection {
			continue
		}
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			// A non-bullet, non-empty line ends the section.
			inSection = false
			continue
		}
		item := strings.TrimSpace(m[1])
		if len(item) >= minActionableLen {
			items = appendUnique(items, item)
			if len(items) >= max {
				break
			}
		}
	}
	return items
}
