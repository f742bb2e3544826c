// Package ignore is the inclusion/exclusion filter layer sitting upstream of
// traversal. It combines default patterns, a .idxignore file in the scan root,
// and include/exclude globs from the command line.
package ignore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// Matcher decides which paths are cataloged. Exclusion prunes traversal;
// inclusion only filters which nodes become records, so directories are still
// descended while an include list is active.
type Matcher struct {
	rootDir   string
	includes  []string
	excludes  []string
	selfPaths map[string]struct{}
	idxIgnore gitignore.GitIgnore
}

// MatcherOptions configures the filter layer.
type MatcherOptions struct {
	RootDir  string
	Includes []string // doublestar globs; empty means include everything
	Excludes []string // doublestar globs
	// SelfPaths are artifacts of the scan itself (database, journal, search
	// index) that must never be cataloged even when they live under the root.
	SelfPaths []string
}

// NewMatcher builds the filter for one scan root. A .idxignore file in the
// root, if present, contributes gitignore-style exclusion rules.
func NewMatcher(options MatcherOptions) *Matcher {
	matcher := &Matcher{
		rootDir:   options.RootDir,
		includes:  options.Includes,
		excludes:  options.Excludes,
		selfPaths: make(map[string]struct{}),
	}
	for _, p := range options.SelfPaths {
		if abs, err := filepath.Abs(p); err == nil {
			matcher.selfPaths[abs] = struct{}{}
		}
	}
	matcher.idxIgnore = loadIgnoreFile(filepath.Join(options.RootDir, IgnoreFileName), options.RootDir)
	return matcher
}

// Excluded reports whether the node at absolutePath is kept out of the
// catalog entirely. For directories this also prunes the subtree.
func (m *Matcher) Excluded(absolutePath string, isDir bool) bool {
	if abs, err := filepath.Abs(absolutePath); err == nil {
		if m.isSelf(abs) {
			return true
		}
	}

	relativePath := m.relative(absolutePath)
	if relativePath == "." {
		return false
	}

	for _, pattern := range DefaultExcludePatterns {
		if matchComponent(relativePath, pattern) {
			return true
		}
	}
	for _, pattern := range m.excludes {
		if matchGlob(pattern, relativePath) {
			return true
		}
	}
	if m.idxIgnore != nil {
		if match := m.idxIgnore.Relative(relativePath, isDir); match != nil && match.Ignore() {
			return true
		}
	}
	return false
}

// Included reports whether a non-excluded node is actually cataloged. With no
// include globs configured, everything passes.
func (m *Matcher) Included(absolutePath string, isDir bool) bool {
	if len(m.includes) == 0 {
		return true
	}
	// Directories pass so traversal can reach included files beneath them;
	// only leaf records are filtered.
	if isDir {
		return true
	}
	relativePath := m.relative(absolutePath)
	for _, pattern := range m.includes {
		if matchGlob(pattern, relativePath) {
			return true
		}
	}
	return false
}

// isSelf matches the scan's own artifacts, including WAL/journal siblings
// like catalog.db-wal.
func (m *Matcher) isSelf(abs string) bool {
	if _, ok := m.selfPaths[abs]; ok {
		return true
	}
	for selfPath := range m.selfPaths {
		if strings.HasPrefix(abs, selfPath+"-") || strings.HasPrefix(abs, selfPath+".") {
			return true
		}
	}
	return false
}

func (m *Matcher) relative(absolutePath string) string {
	relativePath, err := filepath.Rel(m.rootDir, absolutePath)
	if err != nil {
		relativePath = absolutePath
	}
	return filepath.ToSlash(relativePath)
}

// matchGlob matches a doublestar pattern against the relative path and, for
// basename-style patterns, against the basename.
func matchGlob(pattern, relativePath string) bool {
	pattern = strings.ReplaceAll(pattern, "\\", "/")
	if matched, err := doublestar.Match(pattern, relativePath); err == nil && matched {
		return true
	}
	if !strings.Contains(pattern, "/") {
		if matched, err := doublestar.Match(pattern, filepath.Base(relativePath)); err == nil && matched {
			return true
		}
	}
	return false
}

// matchComponent checks whether any path component equals the pattern.
func matchComponent(relativePath, pattern string) bool {
	for _, part := range strings.Split(relativePath, "/") {
		if part == pattern {
			return true
		}
	}
	return false
}

// loadIgnoreFile reads an ignore file and creates a gitignore matcher from it.
func loadIgnoreFile(filePath string, baseDir string) gitignore.GitIgnore {
	f, err := os.Open(filePath)
	if err != nil {
		return nil
	}
	defer f.Close()
	return gitignore.New(f, baseDir, nil)
}
