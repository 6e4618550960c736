// Package runner fronts the external multi-provider reasoning executable.
// A single Query fans one prompt to N providers under a named strategy and
// returns the per-provider responses with token and cost totals.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/reflex/internal/cost"
)

// Strategy names how the runner fans the prompt out.
type Strategy string

const (
	// StrategyAll queries every provider independently.
	StrategyAll Strategy = "all"
	// StrategyDialectical performs thesis, antithesis, synthesis inside the runner.
	StrategyDialectical Strategy = "dialectical"
	// StrategyFirst returns whichever provider responds first.
	StrategyFirst Strategy = "first"
)

// Response is the uniform result of one runner invocation.
type Response struct {
	ProviderIDs []string          `json:"provider_ids"`
	Responses   map[string]string `json:"responses"`
	Strategy    Strategy          `json:"strategy"`
	TotalTokens int               `json:"total_tokens"`
	TotalCost   float64           `json:"total_cost"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Summary     string            `json:"summary,omitempty"`
}

// Statistics is the adapter's running spend counter, kept so cycles can
// tally cost without scanning the ledger.
type Statistics struct {
	Invocations int     `json:"invocations"`
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// Backend executes the runner and returns its raw stdout document.
type Backend interface {
	Name() string
	Run(ctx context.Context, prompt string, strategy Strategy, providers []string, timeout time.Duration) ([]byte, error)
}

// rawOutput is the structured document the runner writes to stdout.
type rawOutput struct {
	Responses   map[string]string `json:"responses"`
	TotalTokens int               `json:"total_tokens"`
	TotalCost   float64           `json:"total_cost"`
	Summary     string            `json:"summary"`
}

// Adapter wraps a Backend with timeout translation, output parsing, and
// running statistics.
type Adapter struct {
	backend   Backend
	providers []string
	logger    *slog.Logger

	mu    sync.Mutex
	stats Statistics
}

// New creates an adapter over the given backend. providers optionally
// restricts the runner to a subset; empty means all configured providers.
func New(backend Backend, providers []string, logger *slog.Logger) *Adapter {
	return &Adapter{backend: backend, providers: providers, logger: logger}
}

// Query runs one prompt under the given strategy. The caller is never
// blocked longer than timeout; all failure modes are reported through the
// Response rather than an error so callers can record a single outcome.
func (a *Adapter) Query(ctx context.Context, prompt string, strategy Strategy, timeout time.Duration) *Response {
	resp := &Response{Strategy: strategy}

	start := time.Now()
	out, err := a.backend.Run(ctx, prompt, strategy, a.providers, timeout)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			resp.Error = "timeout"
		} else {
			resp.Error = err.Error()
		}
		a.logger.Warn("runner query failed",
			"backend", a.backend.Name(), "strategy", strategy, "elapsed", elapsed, "error", resp.Error)
		a.count(resp)
		return resp
	}

	var raw rawOutput
	if jsonErr := json.Unmarshal(out, &raw); jsonErr != nil {
		resp.Error = "runner produced non-JSON output: " + truncate(strings.TrimSpace(string(out)), 200)
		a.logger.Warn("runner output unparseable", "backend", a.backend.Name(), "error", jsonErr)
		a.count(resp)
		return resp
	}
	if len(raw.Responses) == 0 && raw.Summary == "" {
		resp.Error = "runner returned no provider responses"
		a.count(resp)
		return resp
	}

	resp.Success = true
	resp.Responses = raw.Responses
	resp.TotalTokens = raw.TotalTokens
	resp.TotalCost = raw.TotalCost
	resp.Summary = raw.Summary
	if resp.TotalTokens == 0 {
		// Older runner builds omit token counts; estimate from text length.
		for _, text := range raw.Responses {
			resp.TotalTokens += cost.ExtractTokenUsage(text, prompt).Total()
		}
	}
	for id := range raw.Responses {
		resp.ProviderIDs = append(resp.ProviderIDs, id)
	}
	sort.Strings(resp.ProviderIDs)

	a.logger.Debug("runner query complete",
		"strategy", strategy, "providers", len(resp.ProviderIDs),
		"tokens", resp.TotalTokens, "cost", resp.TotalCost, "elapsed", elapsed)
	a.count(resp)
	return resp
}

func (a *Adapter) count(resp *Response) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Invocations++
	a.stats.TotalTokens += resp.TotalTokens
	a.stats.TotalCost += resp.TotalCost
}

// Statistics returns a snapshot of the running totals.
func (a *Adapter) Statistics() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
