package cost

import (
	"regexp"
	"strconv"
)

// TokenUsage holds input and output token counts for one provider call.
type TokenUsage struct {
	Input  int
	Output int
}

func (u TokenUsage) Total() int { return u.Input + u.Output }

var (
	// Some runner builds append a combined token line to provider output.
	tokenRe = regexp.MustCompile(`Tokens: (\d+) input, (\d+) output`)
	// Others report the two counts separately.
	inputRe  = regexp.MustCompile(`Input tokens: (\d+)`)
	outputRe = regexp.MustCompile(`Output tokens: (\d+)`)
)

// ExtractTokenUsage parses token counts from provider output, falling back
// to a length-based estimate when the output carries no counts.
func ExtractTokenUsage(output, prompt string) TokenUsage {
	usage := TokenUsage{}

	if m := tokenRe.FindStringSubmatch(output); len(m) == 3 {
		usage.Input, _ = strconv.Atoi(m[1])
		usage.Output, _ = strconv.Atoi(m[2])
	} else {
		if m := inputRe.FindStringSubmatch(output); len(m) == 2 {
			usage.Input, _ = strconv.Atoi(m[1])
		}
		if m := outputRe.FindStringSubmatch(output); len(m) == 2 {
			usage.Output, _ = strconv.Atoi(m[1])
		}
	}

	if usage.Input == 0 {
		usage.Input = EstimateTokens(prompt)
	}
	if usage.Output == 0 {
		usage.Output = EstimateTokens(output)
	}
	return usage
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := len(text) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

// CalculateCost converts token counts to USD given per-million-token prices.
func CalculateCost(usage TokenUsage, inputPriceMtok, outputPriceMtok float64) float64 {
	inputCost := (float64(usage.Input) / 1e6) * inputPriceMtok
	outputCost := (float64(usage.Output) / 1e6) * outputPriceMtok
	return inputCost + outputCost
}
