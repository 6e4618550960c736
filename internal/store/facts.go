package store

import "fmt"

// IssueProcessingFact carries per-issue metrics for one operation.
type IssueProcessingFact struct {
	OperationID     int64
	IssueNumber     int
	IssueTitle      string
	Labels          string
	ComplexityScore float64
	Outcome         string
}

// CodeGenerationFact carries per-generation metrics for one operation.
type CodeGenerationFact struct {
	OperationID         int64
	Provider            string
	Model               string
	TokensUsed          int
	CostUSD             float64
	FirstAttemptSuccess bool
	TestPassRate        float64
}

// PRManagementFact carries per-PR metrics for one operation.
type PRManagementFact struct {
	OperationID      int64
	PRNumber         int
	Action           string
	CIFailures       int
	TimeToMergeHours float64
	Merged           bool
}

// RoadmapFact carries per-cycle metrics for one roadmap operation.
type RoadmapFact struct {
	OperationID        int64
	CycleID            string
	ProposalsGenerated int
	ProposalsApproved  int
	IssuesCreated      int
	TotalCostUSD       float64
}

// AttachIssueFact inserts the issue side fact for an operation. Facts are
// immutable; a second attach for the same operation fails.
func (s *Store) AttachIssueFact(f IssueProcessingFact) error {
	err := s.withWriteRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO issue_processing (operation_id, issue_number, issue_title, labels, complexity_score, outcome)
			VALUES (?, ?, ?, ?, ?, ?)`,
			f.OperationID, f.IssueNumber, f.IssueTitle, f.Labels, f.ComplexityScore, f.Outcome)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: attach issue fact: %w", err)
	}
	return nil
}

// AttachCodeGenFact inserts the code-generation side fact for an operation.
func (s *Store) AttachCodeGenFact(f CodeGenerationFact) error {
	err := s.withWriteRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO code_generation (operation_id, provider, model, tokens_used, cost_usd, first_attempt_success, test_pass_rate)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.OperationID, f.Provider, f.Model, f.TokensUsed, f.CostUSD, boolToInt(f.FirstAttemptSuccess), f.TestPassRate)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: attach code gen fact: %w", err)
	}
	return nil
}

// AttachPRFact inserts the PR side fact for an operation.
func (s *Store) AttachPRFact(f PRManagementFact) error {
	err := s.withWriteRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO pr_management (operation_id, pr_number, action, ci_failures, time_to_merge_hours, merged)
			VALUES (?, ?, ?, ?, ?, ?)`,
			f.OperationID, f.PRNumber, f.Action, f.CIFailures, f.TimeToMergeHours, boolToInt(f.Merged))
		return err
	})
	if err != nil {
		return fmt.Errorf("store: attach pr fact: %w", err)
	}
	return nil
}

// AttachRoadmapFact inserts the roadmap side fact for an operation.
func (s *Store) AttachRoadmapFact(f RoadmapFact) error {
	err := s.withWriteRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO roadmap_tracking (operation_id, cycle_id, proposals_generated, proposals_approved, issues_created, total_cost_usd)
			VALUES (?, ?, ?, ?, ?, ?)`,
			f.OperationID, f.CycleID, f.ProposalsGenerated, f.ProposalsApproved, f.IssuesCreated, f.TotalCostUSD)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: attach roadmap fact: %w", err)
	}
	return nil
}
