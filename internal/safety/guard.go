// Package safety arbitrates externally-visible changes: the operation guard
// classifies a proposed change, the risk assessor builds a conservative
// multi-provider consensus, and the manager folds both into a single
// allow/deny decision.
package safety

import (
	"fmt"
	"log/slog"
	"math"
	"path"
	"regexp"
	"strings"
)

// ChangeType classifies a detected sensitive operation.
type ChangeType string

const (
	ChangeFileDeletion      ChangeType = "file_deletion"
	ChangeFileModification  ChangeType = "file_modification"
	ChangeSecurity          ChangeType = "security_change"
	ChangeBreaking          ChangeType = "breaking_change"
	ChangeComplex           ChangeType = "complex_change"
	ChangeProtectedFile     ChangeType = "protected_file_access"
	ChangeDatabaseMigration ChangeType = "database_migration"
	ChangeConfiguration     ChangeType = "configuration_change"
)

// DetectedOperation is one sensitive aspect of a proposed change.
type DetectedOperation struct {
	Type   ChangeType
	Files  []string
	Detail string
}

// defaultProtectedPatterns match on the path basename (glob) or, for
// patterns containing a slash, on the full path. "credentials" matches as a
// substring anywhere in the path.
var defaultProtectedPatterns = []string{
	".env", ".env.*", "*.key", "*.pem", "*.p12", "*.pfx",
	"config/production/*", "secrets/*", "*.secret",
}

var securityNameParts = []string{"auth", "security", "permission", "crypto", "token", "session"}

var sourceExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".java": true, ".rb": true, ".rs": true, ".c": true, ".cc": true,
	".cpp": true, ".h": true, ".cs": true, ".sh": true,
}

var migrationPathParts = []string{"database/migrations/", "migrations/", "alembic/", "flyway/"}

var configNameRe = regexp.MustCompile(`(?i)config[^/]*\.(ya?ml|json)$`)

// Signature lines whose removal suggests an API break.
var (
	removedSigRe = regexp.MustCompile(`(?m)^-\s*(?:async\s+def|def|func|function|class)\s+([A-Za-z_]\w*)`)
	addedSigRe   = regexp.MustCompile(`(?m)^\+\s*(?:async\s+def|def|func|function|class)\s+([A-Za-z_]\w*)(.*)$`)
	returnAnnRe  = regexp.MustCompile(`->\s*[^:{\n]+|\)\s+[\w\[\]*.]+\s*\{`)
)

// Guard classifies proposed changes and scores their complexity.
type Guard struct {
	protected     []string
	maxComplexity float64
	logger        *slog.Logger
}

// NewGuard creates a guard. extraProtected extends the default protected
// pattern set; maxComplexity <= 0 falls back to 8.
func NewGuard(extraProtected []string, maxComplexity float64, logger *slog.Logger) *Guard {
	if maxComplexity <= 0 {
		maxComplexity = 8
	}
	patterns := append([]string{}, defaultProtectedPatterns...)
	patterns = append(patterns, extraProtected...)
	return &Guard{protected: patterns, maxComplexity: maxComplexity, logger: logger}
}

// DetectOperations classifies the change into zero or more sensitive
// operations. Plain modifications that trip no other rule are grouped under
// a single FileModification operation.
func (g *Guard) DetectOperations(filesChanged, filesDeleted []string, diff string) []DetectedOperation {
	var ops []DetectedOperation
	var plain []string

	if len(filesDeleted) > 0 {
		ops = append(ops, DetectedOperation{
			Type:   ChangeFileDeletion,
			Files:  filesDeleted,
			Detail: fmt.Sprintf("%d file(s) deleted", len(filesDeleted)),
		})
	}

	all := append(append([]string{}, filesChanged...), filesDeleted...)
	byType := map[ChangeType][]string{}
	for _, f := range all {
		matched := false
		if g.isProtected(f) {
			byType[ChangeProtectedFile] = append(byType[ChangeProtectedFile], f)
			matched = true
		}
		if isSecuritySensitive(f) {
			byType[ChangeSecurity] = append(byType[ChangeSecurity], f)
			matched = true
		}
		if isMigration(f) {
			byType[ChangeDatabaseMigration] = append(byType[ChangeDatabaseMigration], f)
			matched = true
		}
		if isConfiguration(f) {
			byType[ChangeConfiguration] = append(byType[ChangeConfiguration], f)
			matched = true
		}
		if !matched && !contains(filesDeleted, f) {
			plain = append(plain, f)
		}
	}
	for _, ct := range []ChangeType{ChangeProtectedFile, ChangeSecurity, ChangeDatabaseMigration, ChangeConfiguration} {
		if files := byType[ct]; len(files) > 0 {
			ops = append(ops, DetectedOperation{Type: ct, Files: files,
				Detail: fmt.Sprintf("%d sensitive file(s)", len(files))})
		}
	}

	score := g.ComplexityScore(filesChanged, filesDeleted, diff)
	if score > g.maxComplexity {
		ops = append(ops, DetectedOperation{
			Type:   ChangeComplex,
			Files:  filesChanged,
			Detail: fmt.Sprintf("complexity %.1f exceeds limit %.1f", score, g.maxComplexity),
		})
	}

	if diff != "" && hasBreakingChange(diff) {
		ops = append(ops, DetectedOperation{
			Type:   ChangeBreaking,
			Detail: "removed or re-typed public signatures in diff",
		})
	}

	if len(plain) > 0 {
		ops = append(ops, DetectedOperation{
			Type:   ChangeFileModification,
			Files:  plain,
			Detail: fmt.Sprintf("%d file(s) modified", len(plain)),
		})
	}

	if g.logger != nil && len(ops) > 0 {
		g.logger.Debug("sensitive operations detected", "count", len(ops))
	}
	return ops
}

// ComplexityScore computes the 0-10 change complexity. Critical files are
// those matching the protected pattern set. The sum is truncated to one
// decimal and saturates at 10.
func (g *Guard) ComplexityScore(filesChanged, filesDeleted []string, diff string) float64 {
	added, deleted := countDiffLines(diff)
	critical := 0
	for _, f := range append(append([]string{}, filesChanged...), filesDeleted...) {
		if g.isProtected(f) {
			critical++
		}
	}

	score := float64(len(filesChanged))*0.5 +
		float64(len(filesDeleted))*0.5 +
		float64(added)*0.001 +
		float64(deleted)*0.001 +
		float64(critical)*2.0

	score = math.Trunc(score*10) / 10
	if score > 10 {
		score = 10
	}
	return score
}

func (g *Guard) isProtected(file string) bool {
	lower := strings.ToLower(file)
	if strings.Contains(lower, "credentials") {
		return true
	}
	base := path.Base(lower)
	for _, pat := range g.protected {
		if strings.Contains(pat, "/") {
			if ok, _ := path.Match(pat, lower); ok {
				return true
			}
			continue
		}
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
	}
	return false
}

func isSecuritySensitive(file string) bool {
	if !sourceExts[path.Ext(file)] {
		return false
	}
	lower := strings.ToLower(path.Base(file))
	for _, part := range securityNameParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func isMigration(file string) bool {
	lower := strings.ToLower(file)
	for _, part := range migrationPathParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func isConfiguration(file string) bool {
	lower := strings.ToLower(file)
	if strings.HasSuffix(lower, ".toml") {
		return true
	}
	if configNameRe.MatchString(lower) {
		return true
	}
	return strings.Contains(path.Base(lower), "settings") && sourceExts[path.Ext(lower)]
}

// hasBreakingChange reports removed signatures, or removed/re-added
// signatures whose return annotation changed.
func hasBreakingChange(diff string) bool {
	removed := removedSigRe.FindAllStringSubmatch(diff, -1)
	if len(removed) == 0 {
		return false
	}

	addedByName := map[string]string{}
	for _, m := range addedSigRe.FindAllStringSubmatch(diff, -1) {
		addedByName[m[1]] = m[2]
	}
	for _, m := range removed {
		rest, readded := addedByName[m[1]]
		if !readded {
			// Removed and never re-added.
			return true
		}
		removedLine := findRemovedLine(diff, m[1])
		if returnAnnRe.FindString(removedLine) != returnAnnRe.FindString(rest) {
			return true
		}
	}
	return false
}

func findRemovedLine(diff, name string) string {
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") && strings.Contains(line, name) {
			return line
		}
	}
	return ""
}

func countDiffLines(diff string) (added, deleted int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			deleted++
		}
	}
	return added, deleted
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
