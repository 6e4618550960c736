// Package roadmap runs the outer improvement loop: analyze the codebase,
// ideate feature proposals across providers, validate them dialectically,
// and file the approved ones as tracker issues.
package roadmap

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CodebaseAnalysis is a static snapshot of the working tree.
type CodebaseAnalysis struct {
	TotalFiles  int
	TotalLines  int
	Languages   map[string]int // extension -> file count
	Frameworks  []string
	HasTests    bool
	HasDocs     bool
	Directories []string
}

var languageExts = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript",
	".rs": "rust", ".java": "java", ".rb": "ruby", ".c": "c", ".cpp": "cpp",
	".sh": "shell", ".sql": "sql",
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "__pycache__": true,
	".venv": true, "dist": true, "target": true,
}

// AnalyzeCodebase walks root and summarises its shape. Unreadable entries
// are skipped, not fatal.
func AnalyzeCodebase(root string) (*CodebaseAnalysis, error) {
	a := &CodebaseAnalysis{Languages: make(map[string]int)}
	topDirs := make(map[string]bool)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), "_") {
				return filepath.SkipDir
			}
			if !strings.Contains(rel, string(filepath.Separator)) {
				topDirs[rel] = true
			}
			return nil
		}

		a.TotalFiles++
		name := d.Name()
		if lang, ok := languageExts[filepath.Ext(name)]; ok {
			a.Languages[lang]++
			a.TotalLines += countLines(path)
		}
		if strings.HasSuffix(name, "_test.go") || strings.Contains(strings.ToLower(name), "test_") {
			a.HasTests = true
		}
		lower := strings.ToLower(name)
		if lower == "readme.md" || strings.HasPrefix(rel, "docs"+string(filepath.Separator)) {
			a.HasDocs = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("roadmap: analyze %s: %w", root, err)
	}

	for dir := range topDirs {
		a.Directories = append(a.Directories, dir)
	}
	sort.Strings(a.Directories)
	a.Frameworks = detectFrameworks(root)
	return a, nil
}

// detectFrameworks reads the common manifest files for declared stacks.
func detectFrameworks(root string) []string {
	var out []string
	if data, err := os.ReadFile(filepath.Join(root, "go.mod")); err == nil {
		out = append(out, "go-modules")
		text := string(data)
		for marker, name := range map[string]string{
			"modernc.org/sqlite":       "sqlite",
			"github.com/docker/docker": "docker",
		} {
			if strings.Contains(text, marker) {
				out = append(out, name)
			}
		}
	}
	if _, err := os.Stat(filepath.Join(root, "package.json")); err == nil {
		out = append(out, "npm")
	}
	if _, err := os.Stat(filepath.Join(root, "requirements.txt")); err == nil {
		out = append(out, "pip")
	}
	if _, err := os.Stat(filepath.Join(root, "Dockerfile")); err == nil {
		out = append(out, "dockerfile")
	}
	sort.Strings(out)
	return out
}

func countLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "\n")
}

// Summary renders the analysis for prompt embedding.
func (a *CodebaseAnalysis) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Files: %d, code lines: %d\n", a.TotalFiles, a.TotalLines)

	langs := make([]string, 0, len(a.Languages))
	for lang := range a.Languages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		fmt.Fprintf(&b, "- %s: %d files\n", lang, a.Languages[lang])
	}
	if len(a.Frameworks) > 0 {
		fmt.Fprintf(&b, "Frameworks: %s\n", strings.Join(a.Frameworks, ", "))
	}
	fmt.Fprintf(&b, "Has tests: %v, has documentation: %v\n", a.HasTests, a.HasDocs)
	if len(a.Directories) > 0 {
		fmt.Fprintf(&b, "Top-level directories: %s\n", strings.Join(a.Directories, ", "))
	}
	return b.String()
}
