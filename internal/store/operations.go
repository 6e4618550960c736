package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// StartOperation inserts a new operation row with Success=false and no
// completion time, returning its id.
func (s *Store) StartOperation(kind Kind, externalID string, context map[string]any) (int64, error) {
	ctxJSON := "{}"
	if len(context) > 0 {
		b, err := json.Marshal(context)
		if err != nil {
			return 0, fmt.Errorf("store: marshal context: %w", err)
		}
		ctxJSON = string(b)
	}

	var id int64
	err := s.withWriteRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		res, err := tx.Exec(`
			INSERT INTO operations (kind, external_id, context)
			VALUES (?, ?, ?)`,
			string(kind), externalID, ctxJSON)
		if err != nil {
			tx.Rollback()
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("store: start operation: %w", err)
	}
	return id, nil
}

// CompleteOperation records the outcome of an operation exactly once.
// Duration is computed from the stored start time. When success is false and
// an error message is present, an empty error kind is coerced to Unknown so
// the taxonomy invariant holds.
func (s *Store) CompleteOperation(id int64, success bool, errorMessage string, errorKind ErrorKind, retryCount int) error {
	if !success && errorMessage != "" && errorKind == "" {
		errorKind = ErrUnknown
	}
	if success {
		errorMessage = ""
		errorKind = ""
	}

	err := s.withWriteRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}

		var completed sql.NullTime
		if err := tx.QueryRow(`SELECT completed_at FROM operations WHERE id = ?`, id).
			Scan(&completed); err != nil {
			tx.Rollback()
			return err
		}
		if completed.Valid {
			tx.Rollback()
			return fmt.Errorf("operation %d already completed", id)
		}

		// Duration is computed database-side so start and completion share
		// one clock and one text format.
		if _, err := tx.Exec(`
			UPDATE operations
			SET completed_at = datetime('now'),
			    duration_seconds = MAX((julianday('now') - julianday(started_at)) * 86400.0, 0),
			    success = ?, error_message = ?, error_kind = ?, retry_count = ?
			WHERE id = ?`,
			boolToInt(success), errorMessage, string(errorKind), retryCount, id); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("store: complete operation %d: %w", id, err)
	}
	return nil
}

// MarkStaleRunning marks operations left incomplete by a previous process as
// Unknown failures. Called once at boot; returns the number of rows touched.
func (s *Store) MarkStaleRunning() (int64, error) {
	var n int64
	err := s.withWriteRetry(func() error {
		res, err := s.db.Exec(`
			UPDATE operations
			SET completed_at = datetime('now'), success = 0,
			    error_message = 'orchestrator restarted before completion',
			    error_kind = ?
			WHERE completed_at IS NULL`, string(ErrUnknown))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: mark stale: %w", err)
	}
	return n, nil
}

// GetOperation returns a single operation by id.
func (s *Store) GetOperation(id int64) (*Operation, error) {
	row := s.db.QueryRow(`
		SELECT id, kind, external_id, started_at, completed_at, duration_seconds,
		       success, error_message, error_kind, retry_count, context
		FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err != nil {
		return nil, fmt.Errorf("store: get operation %d: %w", id, err)
	}
	return op, nil
}

// FailedOperations returns failed, completed operations within the window,
// oldest first.
func (s *Store) FailedOperations(windowDays int) ([]Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, external_id, started_at, completed_at, duration_seconds,
		       success, error_message, error_kind, retry_count, context
		FROM operations
		WHERE success = 0 AND completed_at IS NOT NULL
		  AND started_at >= datetime('now', ?)
		ORDER BY started_at ASC`, fmt.Sprintf("-%d days", windowDays))
	if err != nil {
		return nil, fmt.Errorf("store: failed operations: %w", err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

// SuccessfulOperations returns up to limit recent successful operations of
// the given kind within the window, newest first.
func (s *Store) SuccessfulOperations(kind Kind, windowDays, limit int) ([]Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, external_id, started_at, completed_at, duration_seconds,
		       success, error_message, error_kind, retry_count, context
		FROM operations
		WHERE success = 1 AND kind = ?
		  AND started_at >= datetime('now', ?)
		ORDER BY started_at DESC
		LIMIT ?`, string(kind), fmt.Sprintf("-%d days", windowDays), limit)
	if err != nil {
		return nil, fmt.Errorf("store: successful operations: %w", err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

// RecordHealthEvent appends a health event row.
func (s *Store) RecordHealthEvent(eventType, details string) error {
	err := s.withWriteRetry(func() error {
		_, err := s.db.Exec(`INSERT INTO health_events (event_type, details) VALUES (?, ?)`, eventType, details)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: record health event: %w", err)
	}
	return nil
}

// SaveRepositoryContext stores the single-row repository context snapshot.
func (s *Store) SaveRepositoryContext(contextJSON string) error {
	err := s.withWriteRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO repository_context (id, context, updated_at)
			VALUES (1, ?, datetime('now'))
			ON CONFLICT(id) DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at`,
			contextJSON)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: save repository context: %w", err)
	}
	return nil
}

// RepositoryContext returns the stored snapshot, or "" when none exists.
func (s *Store) RepositoryContext() (string, error) {
	var ctx string
	err := s.db.QueryRow(`SELECT context FROM repository_context WHERE id = 1`).Scan(&ctx)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: repository context: %w", err)
	}
	return ctx, nil
}

// BackupPromptTemplate mirrors the current prompt text into the ledger so
// prompt history survives loss of the JSON library file.
func (s *Store) BackupPromptTemplate(id, template string, version int) error {
	err := s.withWriteRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO prompt_templates (template_id, template, version, updated_at)
			VALUES (?, ?, ?, datetime('now'))
			ON CONFLICT(template_id) DO UPDATE SET
				template = excluded.template, version = excluded.version, updated_at = excluded.updated_at`,
			id, template, version)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: backup prompt template %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*Operation, error) {
	var op Operation
	var kind, errKind string
	var success int
	if err := row.Scan(&op.ID, &kind, &op.ExternalID, &op.StartedAt, &op.CompletedAt,
		&op.DurationS, &success, &op.ErrorMessage, &errKind, &op.RetryCount, &op.Context); err != nil {
		return nil, err
	}
	op.Kind = Kind(kind)
	op.ErrorKind = ErrorKind(errKind)
	op.Success = success != 0
	return &op, nil
}

func scanOperations(rows *sql.Rows) ([]Operation, error) {
	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
