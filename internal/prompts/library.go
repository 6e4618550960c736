// Package prompts is the versioned, rollback-capable prompt template store.
// The learning cycle is the only writer; every write rewrites the JSON
// document atomically.
package prompts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Improvement is one history entry. PreviousTemplate holds the text that was
// current before this version took effect, which is what Rollback restores.
type Improvement struct {
	Version          int       `json:"version"`
	PreviousTemplate string    `json:"previous_template"`
	Reason           string    `json:"reason"`
	Timestamp        time.Time `json:"timestamp"`
}

// Template is one versioned prompt template with its effectiveness counters.
type Template struct {
	Template     string        `json:"template"`
	Version      int           `json:"version"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Improvements []Improvement `json:"improvements"`

	Uses          int     `json:"uses"`
	Successes     int     `json:"successes"`
	TotalExecSec  float64 `json:"total_exec_sec"`
	TotalTokens   int     `json:"total_tokens"`
	FeedbackNotes []string `json:"feedback_notes,omitempty"`
}

// Statistics is the aggregate effectiveness view for one template.
type Statistics struct {
	Uses        int     `json:"uses"`
	SuccessRate float64 `json:"success_rate"`
	AvgExecSec  float64 `json:"avg_exec_sec"`
	AvgTokens   float64 `json:"avg_tokens"`
}

// Backup receives a mirror of every template write (the ledger).
type Backup interface {
	BackupPromptTemplate(id, template string, version int) error
}

// Library is the prompt template store. A RepositoryContext bound via
// BindRepositoryContext is prepended to every rendered prompt.
type Library struct {
	path   string
	logger *slog.Logger
	backup Backup // optional

	mu        sync.Mutex
	templates map[string]*Template
	repoCtx   string
}

// Default templates created lazily on first Get of a known key.
var defaults = map[string]string{
	"issue_analysis":   "Analyze the following issue and propose an implementation plan.\nCover scope, affected components, and risks.",
	"code_generation":  "Generate the code change described below.\nFollow the existing project conventions and include tests.",
	"pr_review":        "Review the following pull request diff.\nFlag correctness, safety, and style concerns with file references.",
	"roadmap_ideation": "Given the codebase analysis below, propose concrete improvements.\nFor each: title, description, value, complexity 1-10, priority.",
}

// Open loads the library from path, starting empty when the file is missing.
func Open(path string, logger *slog.Logger) (*Library, error) {
	lib := &Library{
		path:      path,
		logger:    logger,
		templates: make(map[string]*Template),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return lib, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &lib.templates); err != nil {
		return nil, fmt.Errorf("prompts: parse %s: %w", path, err)
	}
	return lib, nil
}

// SetBackup attaches a write mirror, normally the ledger.
func (l *Library) SetBackup(b Backup) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backup = b
}

// BindRepositoryContext attaches a repository context block rendered into
// every prompt returned by Get.
func (l *Library) BindRepositoryContext(ctx string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.repoCtx = ctx
}

// Get returns the rendered template for id. Unknown ids with a registered
// default are created lazily at version 1. additionalContext is rendered as
// a Task-Specific Context block.
func (l *Library) Get(id string, additionalContext map[string]string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmpl, ok := l.templates[id]
	if !ok {
		text, isDefault := defaults[id]
		if !isDefault {
			return "", fmt.Errorf("prompts: unknown template %q", id)
		}
		now := time.Now().UTC()
		tmpl = &Template{Template: text, Version: 1, CreatedAt: now, UpdatedAt: now}
		l.templates[id] = tmpl
		if err := l.saveLocked(); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	if l.repoCtx != "" {
		b.WriteString("## Repository Context\n\n")
		b.WriteString(l.repoCtx)
		b.WriteString("\n\n")
	}
	b.WriteString(tmpl.Template)
	if len(additionalContext) > 0 {
		b.WriteString("\n\n## Task-Specific Context\n")
		keys := make([]string, 0, len(additionalContext))
		for k := range additionalContext {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, additionalContext[k])
		}
	}
	return b.String(), nil
}

// Current returns the raw current template text and version for id, without
// rendering or lazy creation.
func (l *Library) Current(id string) (string, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tmpl, ok := l.templates[id]
	if !ok {
		return "", 0, false
	}
	return tmpl.Template, tmpl.Version, true
}

// IDs returns all known template ids plus registered defaults.
func (l *Library) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]struct{})
	for id := range l.templates {
		seen[id] = struct{}{}
	}
	for id := range defaults {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Update replaces the template for id, bumping the version and appending a
// history entry that carries the previous text. Updating with identical text
// is a no-op so applying the same improvement twice converges.
func (l *Library) Update(id, newTemplate, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmpl, ok := l.templates[id]
	if !ok {
		text, isDefault := defaults[id]
		if !isDefault {
			return fmt.Errorf("prompts: unknown template %q", id)
		}
		now := time.Now().UTC()
		tmpl = &Template{Template: text, Version: 1, CreatedAt: now, UpdatedAt: now}
		l.templates[id] = tmpl
	}

	if tmpl.Template == newTemplate {
		return nil
	}

	now := time.Now().UTC()
	tmpl.Improvements = append(tmpl.Improvements, Improvement{
		Version:          tmpl.Version + 1,
		PreviousTemplate: tmpl.Template,
		Reason:           reason,
		Timestamp:        now,
	})
	tmpl.Template = newTemplate
	tmpl.Version++
	tmpl.UpdatedAt = now

	if l.backup != nil {
		if err := l.backup.BackupPromptTemplate(id, newTemplate, tmpl.Version); err != nil {
			l.logger.Warn("prompt backup failed", "template", id, "error", err)
		}
	}

	if l.logger != nil {
		l.logger.Info("prompt template updated", "template", id, "version", tmpl.Version, "reason", reason)
	}
	return l.saveLocked()
}

// Rollback restores the template text that was current at version. Returns
// false when no history entry exists for version+1, which covers both
// rolling back to version 1 (no prior stored) and rolling back to the
// current version (no-op).
func (l *Library) Rollback(id string, version int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmpl, ok := l.templates[id]
	if !ok {
		return false, nil
	}

	var prior string
	found := false
	for _, imp := range tmpl.Improvements {
		if imp.Version == version+1 {
			prior = imp.PreviousTemplate
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	tmpl.Template = prior
	tmpl.Version = version
	tmpl.UpdatedAt = time.Now().UTC()

	if l.logger != nil {
		l.logger.Info("prompt template rolled back", "template", id, "version", version)
	}
	if err := l.saveLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// TrackEffectiveness appends one observation to the template's running sums.
func (l *Library) TrackEffectiveness(id string, success bool, executionSec float64, tokensUsed int, feedback string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmpl, ok := l.templates[id]
	if !ok {
		return fmt.Errorf("prompts: unknown template %q", id)
	}
	tmpl.Uses++
	if success {
		tmpl.Successes++
	}
	tmpl.TotalExecSec += executionSec
	tmpl.TotalTokens += tokensUsed
	if feedback != "" {
		tmpl.FeedbackNotes = append(tmpl.FeedbackNotes, feedback)
		if len(tmpl.FeedbackNotes) > 20 {
			tmpl.FeedbackNotes = tmpl.FeedbackNotes[len(tmpl.FeedbackNotes)-20:]
		}
	}
	return l.saveLocked()
}

// Statistics returns the aggregate effectiveness view for id.
func (l *Library) Statistics(id string) (*Statistics, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmpl, ok := l.templates[id]
	if !ok {
		return nil, fmt.Errorf("prompts: unknown template %q", id)
	}
	st := &Statistics{Uses: tmpl.Uses}
	if tmpl.Uses > 0 {
		st.SuccessRate = float64(tmpl.Successes) / float64(tmpl.Uses)
		st.AvgExecSec = tmpl.TotalExecSec / float64(tmpl.Uses)
		st.AvgTokens = float64(tmpl.TotalTokens) / float64(tmpl.Uses)
	}
	return st, nil
}

// History returns a copy of the improvement history for id.
func (l *Library) History(id string) []Improvement {
	l.mu.Lock()
	defer l.mu.Unlock()
	tmpl, ok := l.templates[id]
	if !ok {
		return nil
	}
	out := make([]Improvement, len(tmpl.Improvements))
	copy(out, tmpl.Improvements)
	return out
}

// saveLocked rewrites the document atomically: temp file in the same
// directory, then rename.
func (l *Library) saveLocked() error {
	data, err := json.MarshalIndent(l.templates, "", "  ")
	if err != nil {
		return fmt.Errorf("prompts: marshal: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("prompts: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".prompts-*.json")
	if err != nil {
		return fmt.Errorf("prompts: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("prompts: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("prompts: close: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("prompts: rename: %w", err)
	}
	return nil
}
