// Package store provides the SQLite-backed operation ledger for Reflex.
// Every orchestrator action is recorded as an Operation row, optionally
// linked to a per-artifact fact row (issue, code generation, PR, roadmap).
package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is the schema version the code expects. Open applies any
// missing migrations up to this version before returning.
const SchemaVersion = 3

// Kind identifies the unit of recorded work.
type Kind string

const (
	KindProcessIssue   Kind = "ProcessIssue"
	KindGenerateCode   Kind = "GenerateCode"
	KindManagePR       Kind = "ManagePR"
	KindRoadmapCycle   Kind = "RoadmapCycle"
	KindLearningCycle  Kind = "LearningCycle"
	KindRiskAssessment Kind = "RiskAssessment"
	KindPromptUpdate   Kind = "PromptUpdate"
	KindHealthCheck    Kind = "HealthCheck"
)

// ErrorKind is the closed error taxonomy recorded with failed operations.
type ErrorKind string

const (
	ErrStorageFault       ErrorKind = "StorageFault"
	ErrProviderFault      ErrorKind = "ProviderFault"
	ErrHostFault          ErrorKind = "HostFault"
	ErrRateLimited        ErrorKind = "RateLimited"
	ErrApprovalDenied     ErrorKind = "ApprovalDenied"
	ErrApprovalTimeout    ErrorKind = "ApprovalTimeout"
	ErrSafetyBlocked      ErrorKind = "SafetyBlocked"
	ErrValidationFailed   ErrorKind = "ValidationFailed"
	ErrInvariantViolation ErrorKind = "InvariantViolation"
	ErrUnknown            ErrorKind = "Unknown"
)

// Operation is one recorded unit of orchestrator work.
type Operation struct {
	ID           int64
	Kind         Kind
	ExternalID   string // issue number, PR number, cycle id
	StartedAt    time.Time
	CompletedAt  sql.NullTime
	DurationS    float64
	Success      bool
	ErrorMessage string
	ErrorKind    ErrorKind
	RetryCount   int
	Context      string // JSON bag
}

// Store owns the ledger database. Readers may run concurrently; writers
// serialize through mu and a transaction per write.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	sleep func(time.Duration)
}

const baseSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS operations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	duration_seconds REAL NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	context TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_operations_kind ON operations(kind);
CREATE INDEX IF NOT EXISTS idx_operations_started ON operations(started_at);
`

// migrations are forward-only and applied in order on open. Index 0 is
// version 1. The base schema is itself migration 1 so that a fresh database
// and an upgraded one end at the same shape.
var migrations = []string{
	baseSchema,
	`
CREATE TABLE IF NOT EXISTS issue_processing (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation_id INTEGER NOT NULL UNIQUE REFERENCES operations(id),
	issue_number INTEGER NOT NULL DEFAULT 0,
	issue_title TEXT NOT NULL DEFAULT '',
	labels TEXT NOT NULL DEFAULT '',
	complexity_score REAL NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS code_generation (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation_id INTEGER NOT NULL UNIQUE REFERENCES operations(id),
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	first_attempt_success INTEGER NOT NULL DEFAULT 0,
	test_pass_rate REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pr_management (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation_id INTEGER NOT NULL UNIQUE REFERENCES operations(id),
	pr_number INTEGER NOT NULL DEFAULT 0,
	action TEXT NOT NULL DEFAULT '',
	ci_failures INTEGER NOT NULL DEFAULT 0,
	time_to_merge_hours REAL NOT NULL DEFAULT 0,
	merged INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS roadmap_tracking (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation_id INTEGER NOT NULL UNIQUE REFERENCES operations(id),
	cycle_id TEXT NOT NULL DEFAULT '',
	proposals_generated INTEGER NOT NULL DEFAULT 0,
	proposals_approved INTEGER NOT NULL DEFAULT 0,
	issues_created INTEGER NOT NULL DEFAULT 0,
	total_cost_usd REAL NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS prompt_templates (
	template_id TEXT PRIMARY KEY,
	template TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS repository_context (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	context TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS health_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`,
}

// Open opens (or creates) the ledger at path and applies missing migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// Single connection keeps sqlite writer semantics simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pragma: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db, sleep: time.Sleep}, nil
}

// migrate applies each missing migration in order, recording it in
// schema_version. Migrations are transactional and forward-only.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, SchemaVersion)
	}

	for v := current + 1; v <= SchemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v, err)
		}
		if _, err := tx.Exec(migrations[v-1]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", v, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, v); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v, err)
		}
	}
	return nil
}

// Version returns the highest applied schema version.
func (s *Store) Version() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("store: version: %w", err)
	}
	return v, nil
}

// DB exposes the underlying handle for read-only projections (metrics).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWriteRetry runs fn under the writer lock, retrying storage faults at
// most twice with ~100ms jitter before surfacing.
func (s *Store) withWriteRetry(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for attempt := 0; attempt <= 2; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < 2 {
			s.sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
		}
	}
	return err
}
