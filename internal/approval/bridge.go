package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fileDecision is the drop-box document written by the approve and deny
// CLI commands and consumed by the running workflow.
type fileDecision struct {
	RequestID string    `json:"request_id"`
	Approved  bool      `json:"approved"`
	DecidedBy string    `json:"decided_by"`
	Rationale string    `json:"rationale"`
	WrittenAt time.Time `json:"written_at"`
}

// WriteDecision drops a decision file for a pending request. The running
// orchestrator picks it up on its next poll.
func WriteDecision(dir, requestID string, approved bool, decidedBy, rationale string) error {
	if strings.ContainsAny(requestID, "/\\") {
		return fmt.Errorf("approval: invalid request id %q", requestID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("approval: decision dir: %w", err)
	}
	data, err := json.MarshalIndent(fileDecision{
		RequestID: requestID,
		Approved:  approved,
		DecidedBy: decidedBy,
		Rationale: rationale,
		WrittenAt: time.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("approval: encode decision: %w", err)
	}
	path := filepath.Join(dir, requestID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("approval: write decision: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("approval: place decision: %w", err)
	}
	return nil
}

// ApplyFileDecisions consumes every decision file in dir, resolving the
// matching pending requests. Files are removed once read; decisions for
// unknown or already-expired requests are dropped with a warning.
func (w *Workflow) ApplyFileDecisions(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("decision dir unreadable", "dir", dir, "error", err)
		}
		return 0
	}

	applied := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn("decision file unreadable", "path", path, "error", err)
			continue
		}
		var d fileDecision
		if err := json.Unmarshal(data, &d); err != nil {
			w.logger.Warn("decision file unparseable, discarding", "path", path, "error", err)
			os.Remove(path)
			continue
		}

		if w.decide(d.RequestID, d.Approved, d.DecidedBy, d.Rationale) {
			applied++
		} else {
			w.logger.Warn("decision for unknown or expired request",
				"request", d.RequestID, "approved", d.Approved)
		}
		os.Remove(path)
	}
	return applied
}
