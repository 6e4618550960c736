package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

var errInjected = errors.New("store: injected write failure")

func tempStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesAllMigrations(t *testing.T) {
	s := tempStore(t)
	v, err := s.Version()
	if err != nil {
		t.Fatal(err)
	}
	if v != SchemaVersion {
		t.Errorf("version = %d, want %d", v, SchemaVersion)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	// One schema_version row per migration, not per open.
	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != SchemaVersion {
		t.Errorf("schema_version rows = %d, want %d", n, SchemaVersion)
	}
}

func TestWriteRetryBacksOffBetweenAttemptsOnly(t *testing.T) {
	s := tempStore(t)
	sleeps := 0
	s.sleep = func(time.Duration) { sleeps++ }

	attempts := 0
	err := s.withWriteRetry(func() error {
		attempts++
		return errInjected
	})
	if err != errInjected {
		t.Fatalf("err = %v, want the injected failure", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if sleeps != 2 {
		t.Errorf("sleeps = %d, want 2 (none after the final attempt)", sleeps)
	}

	sleeps = 0
	fails := 1
	err = s.withWriteRetry(func() error {
		if fails > 0 {
			fails--
			return errInjected
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry did not recover: %v", err)
	}
	if sleeps != 1 {
		t.Errorf("sleeps = %d, want 1 before the successful attempt", sleeps)
	}
}

func TestStartAndCompleteOperation(t *testing.T) {
	s := tempStore(t)

	id, err := s.StartOperation(KindProcessIssue, "42", map[string]any{"repo": "demo"})
	if err != nil {
		t.Fatalf("StartOperation failed: %v", err)
	}

	op, err := s.GetOperation(id)
	if err != nil {
		t.Fatal(err)
	}
	if op.Success {
		t.Error("new operation should not be successful")
	}
	if op.CompletedAt.Valid {
		t.Error("new operation should not be completed")
	}

	if err := s.CompleteOperation(id, true, "", "", 0); err != nil {
		t.Fatalf("CompleteOperation failed: %v", err)
	}

	op, err = s.GetOperation(id)
	if err != nil {
		t.Fatal(err)
	}
	if !op.Success {
		t.Error("operation should be successful")
	}
	if !op.CompletedAt.Valid {
		t.Error("operation should be completed")
	}
	if op.CompletedAt.Time.Before(op.StartedAt) {
		t.Error("completed_at must not precede started_at")
	}
}

func TestCompleteOperationOnlyOnce(t *testing.T) {
	s := tempStore(t)

	id, err := s.StartOperation(KindGenerateCode, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteOperation(id, true, "", "", 0); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteOperation(id, false, "boom", ErrUnknown, 0); err == nil {
		t.Fatal("second completion should fail")
	}
}

func TestCompleteCoercesMissingErrorKind(t *testing.T) {
	s := tempStore(t)

	id, err := s.StartOperation(KindManagePR, "7", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteOperation(id, false, "network exploded", "", 1); err != nil {
		t.Fatal(err)
	}
	op, err := s.GetOperation(id)
	if err != nil {
		t.Fatal(err)
	}
	if op.ErrorKind != ErrUnknown {
		t.Errorf("error kind = %q, want Unknown", op.ErrorKind)
	}
	if op.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", op.RetryCount)
	}
}

func TestFailedAndSuccessfulOperationQueries(t *testing.T) {
	s := tempStore(t)

	for i := 0; i < 3; i++ {
		id, err := s.StartOperation(KindProcessIssue, "", nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.CompleteOperation(id, false, "timeout waiting for provider", ErrProviderFault, 0); err != nil {
			t.Fatal(err)
		}
	}
	okID, err := s.StartOperation(KindProcessIssue, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteOperation(okID, true, "", "", 0); err != nil {
		t.Fatal(err)
	}

	failed, err := s.FailedOperations(30)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 3 {
		t.Fatalf("failed = %d, want 3", len(failed))
	}
	for _, op := range failed {
		if op.ErrorKind != ErrProviderFault {
			t.Errorf("error kind = %q, want ProviderFault", op.ErrorKind)
		}
	}

	succeeded, err := s.SuccessfulOperations(KindProcessIssue, 30, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(succeeded) != 1 {
		t.Fatalf("succeeded = %d, want 1", len(succeeded))
	}
}

func TestMarkStaleRunning(t *testing.T) {
	s := tempStore(t)

	if _, err := s.StartOperation(KindLearningCycle, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StartOperation(KindRoadmapCycle, "", nil); err != nil {
		t.Fatal(err)
	}

	n, err := s.MarkStaleRunning()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("marked = %d, want 2", n)
	}

	failed, err := s.FailedOperations(1)
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range failed {
		if op.ErrorKind != ErrUnknown {
			t.Errorf("stale op error kind = %q, want Unknown", op.ErrorKind)
		}
	}
}

func TestAttachFacts(t *testing.T) {
	s := tempStore(t)

	id, err := s.StartOperation(KindGenerateCode, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	fact := CodeGenerationFact{
		OperationID:         id,
		Provider:            "anthropic",
		Model:               "opus",
		TokensUsed:          1200,
		CostUSD:             0.42,
		FirstAttemptSuccess: true,
		TestPassRate:        0.95,
	}
	if err := s.AttachCodeGenFact(fact); err != nil {
		t.Fatalf("AttachCodeGenFact failed: %v", err)
	}

	// Facts are one-per-operation.
	if err := s.AttachCodeGenFact(fact); err == nil {
		t.Fatal("duplicate fact attach should fail")
	}

	prID, err := s.StartOperation(KindManagePR, "12", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AttachPRFact(PRManagementFact{OperationID: prID, PRNumber: 12, Action: "merge", Merged: true}); err != nil {
		t.Fatal(err)
	}

	rmID, err := s.StartOperation(KindRoadmapCycle, "cycle-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AttachRoadmapFact(RoadmapFact{OperationID: rmID, CycleID: "cycle-1", ProposalsGenerated: 6, ProposalsApproved: 3, IssuesCreated: 3}); err != nil {
		t.Fatal(err)
	}
}

func TestRepositoryContextRoundTrip(t *testing.T) {
	s := tempStore(t)

	got, err := s.RepositoryContext()
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("empty store context = %q, want empty", got)
	}

	if err := s.SaveRepositoryContext(`{"files": 120}`); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRepositoryContext(`{"files": 121}`); err != nil {
		t.Fatal(err)
	}
	got, err = s.RepositoryContext()
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"files": 121}` {
		t.Errorf("context = %q", got)
	}
}

func TestDurationComputed(t *testing.T) {
	s := tempStore(t)

	id, err := s.StartOperation(KindRiskAssessment, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := s.CompleteOperation(id, true, "", "", 0); err != nil {
		t.Fatal(err)
	}
	op, err := s.GetOperation(id)
	if err != nil {
		t.Fatal(err)
	}
	if op.DurationS <= 0 {
		t.Errorf("duration = %v, want > 0", op.DurationS)
	}
}
