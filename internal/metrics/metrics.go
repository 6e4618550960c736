// Package metrics provides read-only aggregations over the operation ledger:
// success rates, error taxonomies, cost roll-ups, and issue/PR statistics.
package metrics

import (
	"database/sql"
	"fmt"

	"github.com/antigravity-dev/reflex/internal/store"
)

// Analytics is a read-only projection over the ledger database.
type Analytics struct {
	db *sql.DB
}

// New creates an Analytics view over the given store.
func New(s *store.Store) *Analytics {
	return &Analytics{db: s.DB()}
}

// ErrorCount is one ranked entry of the error taxonomy breakdown.
type ErrorCount struct {
	ErrorKind      string `json:"error_kind"`
	Count          int    `json:"count"`
	ExampleMessage string `json:"example_message"`
}

// ProviderCost is per provider+model spend within a window.
type ProviderCost struct {
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	Operations int     `json:"operations"`
	Tokens     int     `json:"tokens"`
	CostUSD    float64 `json:"cost_usd"`
}

// CostSummary aggregates provider spend within a window.
type CostSummary struct {
	TotalCostUSD    float64        `json:"total_cost_usd"`
	TotalTokens     int            `json:"total_tokens"`
	ByProviderModel []ProviderCost `json:"by_provider_model"`
}

// IssueStats summarizes issue-processing outcomes within a window.
type IssueStats struct {
	Processed     int     `json:"processed"`
	Succeeded     int     `json:"succeeded"`
	AvgComplexity float64 `json:"avg_complexity"`
}

// PRStats summarizes PR management within a window.
type PRStats struct {
	Managed          int     `json:"managed"`
	Merged           int     `json:"merged"`
	AvgCIFailures    float64 `json:"avg_ci_failures"`
	AvgTimeToMergeHr float64 `json:"avg_time_to_merge_hr"`
}

func windowModifier(days int) string {
	return fmt.Sprintf("-%d days", days)
}

// SuccessRate returns the completed-operation success ratio in [0,1] for the
// window, optionally restricted to a kind. Returns 0 when nothing completed.
func (a *Analytics) SuccessRate(kind store.Kind, days int) (float64, error) {
	query := `
		SELECT COUNT(*), SUM(success)
		FROM operations
		WHERE completed_at IS NOT NULL AND started_at >= datetime('now', ?)`
	args := []any{windowModifier(days)}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}

	var total int
	var succeeded sql.NullInt64
	if err := a.db.QueryRow(query, args...).Scan(&total, &succeeded); err != nil {
		return 0, fmt.Errorf("metrics: success rate: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(succeeded.Int64) / float64(total), nil
}

// AverageDuration returns the mean duration in seconds of completed
// operations in the window, optionally restricted to a kind.
func (a *Analytics) AverageDuration(kind store.Kind, days int) (float64, error) {
	query := `
		SELECT COALESCE(AVG(duration_seconds), 0)
		FROM operations
		WHERE completed_at IS NOT NULL AND started_at >= datetime('now', ?)`
	args := []any{windowModifier(days)}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}

	var avg float64
	if err := a.db.QueryRow(query, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("metrics: average duration: %w", err)
	}
	return avg, nil
}

// OperationCounts returns per-kind operation counts within the window.
func (a *Analytics) OperationCounts(days int) (map[store.Kind]int, error) {
	rows, err := a.db.Query(`
		SELECT kind, COUNT(*)
		FROM operations
		WHERE started_at >= datetime('now', ?)
		GROUP BY kind`, windowModifier(days))
	if err != nil {
		return nil, fmt.Errorf("metrics: operation counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[store.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("metrics: scan count: %w", err)
		}
		counts[store.Kind(kind)] = n
	}
	return counts, rows.Err()
}

// ErrorAnalysis returns error kinds ranked by frequency, each with one
// example message.
func (a *Analytics) ErrorAnalysis(days int) ([]ErrorCount, error) {
	rows, err := a.db.Query(`
		SELECT error_kind, COUNT(*), MAX(error_message)
		FROM operations
		WHERE success = 0 AND completed_at IS NOT NULL
		  AND error_kind != ''
		  AND started_at >= datetime('now', ?)
		GROUP BY error_kind
		ORDER BY COUNT(*) DESC`, windowModifier(days))
	if err != nil {
		return nil, fmt.Errorf("metrics: error analysis: %w", err)
	}
	defer rows.Close()

	var out []ErrorCount
	for rows.Next() {
		var ec ErrorCount
		if err := rows.Scan(&ec.ErrorKind, &ec.Count, &ec.ExampleMessage); err != nil {
			return nil, fmt.Errorf("metrics: scan error count: %w", err)
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}

// IssueStats aggregates issue-processing facts within the window.
func (a *Analytics) IssueStats(days int) (*IssueStats, error) {
	var st IssueStats
	err := a.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(o.success), 0),
		       COALESCE(AVG(ip.complexity_score), 0)
		FROM issue_processing ip
		JOIN operations o ON o.id = ip.operation_id
		WHERE o.started_at >= datetime('now', ?)`, windowModifier(days)).
		Scan(&st.Processed, &st.Succeeded, &st.AvgComplexity)
	if err != nil {
		return nil, fmt.Errorf("metrics: issue stats: %w", err)
	}
	return &st, nil
}

// PRStats aggregates PR facts within the window.
func (a *Analytics) PRStats(days int) (*PRStats, error) {
	var st PRStats
	err := a.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(pm.merged), 0),
		       COALESCE(AVG(pm.ci_failures), 0),
		       COALESCE(AVG(CASE WHEN pm.merged = 1 THEN pm.time_to_merge_hours END), 0)
		FROM pr_management pm
		JOIN operations o ON o.id = pm.operation_id
		WHERE o.started_at >= datetime('now', ?)`, windowModifier(days)).
		Scan(&st.Managed, &st.Merged, &st.AvgCIFailures, &st.AvgTimeToMergeHr)
	if err != nil {
		return nil, fmt.Errorf("metrics: pr stats: %w", err)
	}
	return &st, nil
}

// CostAnalysis rolls up provider spend recorded in code_generation facts.
func (a *Analytics) CostAnalysis(days int) (*CostSummary, error) {
	rows, err := a.db.Query(`
		SELECT cg.provider, cg.model, COUNT(*),
		       COALESCE(SUM(cg.tokens_used), 0),
		       COALESCE(SUM(cg.cost_usd), 0)
		FROM code_generation cg
		JOIN operations o ON o.id = cg.operation_id
		WHERE o.started_at >= datetime('now', ?)
		GROUP BY cg.provider, cg.model
		ORDER BY SUM(cg.cost_usd) DESC`, windowModifier(days))
	if err != nil {
		return nil, fmt.Errorf("metrics: cost analysis: %w", err)
	}
	defer rows.Close()

	summary := &CostSummary{}
	for rows.Next() {
		var pc ProviderCost
		if err := rows.Scan(&pc.Provider, &pc.Model, &pc.Operations, &pc.Tokens, &pc.CostUSD); err != nil {
			return nil, fmt.Errorf("metrics: scan provider cost: %w", err)
		}
		summary.TotalCostUSD += pc.CostUSD
		summary.TotalTokens += pc.Tokens
		summary.ByProviderModel = append(summary.ByProviderModel, pc)
	}
	return summary, rows.Err()
}
