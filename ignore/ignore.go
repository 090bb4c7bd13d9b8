package ignore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// Config is the ordered exclusion rule set. Include overrides win over every
// exclusion category.
type Config struct {
	Folders          []string                 `yaml:"folders"`    // directory names or slash globs
	Files            []string                 `yaml:"files"`      // doublestar globs relative to root
	Extensions       []string                 `yaml:"extensions"` // with or without leading dot
	Names            []string                 `yaml:"names"`      // exact base names
	MaxFileSize      int64                    `yaml:"max_file_size"`
	ExcludeBinary    bool                     `yaml:"exclude_binary"`
	ExcludeEmpty     bool                     `yaml:"exclude_empty"`
	ExcludeMinified  bool                     `yaml:"exclude_minified"`
	Include          []string                 `yaml:"include"`
	Languages        map[string]LanguageRules `yaml:"languages"`
	SkipHidden       bool                     `yaml:"skip_hidden"`
	RespectGitignore bool                     `yaml:"respect_gitignore"`
}

// LanguageRules are extra exclusions activated by marker files at the root.
type LanguageRules struct {
	Markers    []string `yaml:"markers"`
	Folders    []string `yaml:"folders"`
	Files      []string `yaml:"files"`
	Extensions []string `yaml:"extensions"`
}

// Decision is the outcome of a Check, with the rule that produced it.
type Decision struct {
	Excluded bool
	Reason   string
}

// Matcher decides whether a path should be skipped during indexing.
// Reload() takes the write lock; checks take the read lock.
type Matcher struct {
	mu         sync.RWMutex
	rootDir    string
	cfg        Config
	extensions map[string]bool
	names      map[string]bool
	languages  []string // active languages, sorted by name
	gitIgnore  gitignore.GitIgnore
}

// NewMatcher creates a matcher rooted at rootDir. Extra patterns (from the
// command line) are appended to the file globs.
func NewMatcher(rootDir string, cfg Config, extraPatterns ...string) *Matcher {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	cfg.Files = append(append([]string{}, cfg.Files...), extraPatterns...)

	m := &Matcher{
		rootDir:    rootDir,
		cfg:        cfg,
		extensions: make(map[string]bool, len(cfg.Extensions)),
		names:      make(map[string]bool, len(cfg.Names)),
	}
	for _, ext := range cfg.Extensions {
		m.extensions[normalizeExt(ext)] = true
	}
	for _, name := range cfg.Names {
		m.names[name] = true
	}
	m.languages = detectLanguages(rootDir, cfg.Languages)
	if cfg.RespectGitignore {
		m.gitIgnore = loadIgnoreFile(filepath.Join(rootDir, ".gitignore"), rootDir)
	}
	return m
}

// IsExcluded reports whether path should be skipped.
func (m *Matcher) IsExcluded(path string) bool {
	return m.Check(path).Excluded
}

// Check evaluates every rule category for path and reports the first match.
func (m *Matcher) Check(path string) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rel := m.relative(path)
	absPath := m.absolute(path)
	base := filepath.Base(absPath)

	if p, ok := m.matchInclude(rel, base); ok {
		return Decision{Reason: "include:" + p}
	}

	if p, ok := matchFolders(m.cfg.Folders, parentDir(rel)); ok {
		return Decision{Excluded: true, Reason: "folder:" + p}
	}
	if p, ok := matchFiles(m.cfg.Files, rel, base); ok {
		return Decision{Excluded: true, Reason: "file:" + p}
	}
	if ext := normalizeExt(filepath.Ext(base)); ext != "" && m.extensions[ext] {
		return Decision{Excluded: true, Reason: "extension:" + ext}
	}
	if m.names[base] {
		return Decision{Excluded: true, Reason: "name:" + base}
	}
	if reason, ok := m.matchLanguages(rel, base); ok {
		return Decision{Excluded: true, Reason: reason}
	}
	if m.cfg.SkipHidden && hasHiddenComponent(rel) {
		return Decision{Excluded: true, Reason: "hidden"}
	}

	info, statErr := os.Stat(absPath)
	isDir := statErr == nil && info.IsDir()

	if m.gitIgnore != nil {
		if match := m.gitIgnore.Relative(rel, isDir); match != nil && match.Ignore() {
			return Decision{Excluded: true, Reason: "gitignore"}
		}
	}

	// Size and content rules need the file itself; a missing file is left to the caller.
	if statErr != nil || isDir {
		return Decision{}
	}
	if info.Size() > m.cfg.MaxFileSize {
		return Decision{Excluded: true, Reason: "size"}
	}
	if reason, ok := m.checkContent(absPath, info.Size()); ok {
		return Decision{Excluded: true, Reason: reason}
	}
	return Decision{}
}

// ShouldPruneDir reports whether a directory can be skipped entirely during a
// walk. A directory is kept when an include override could match beneath it.
func (m *Matcher) ShouldPruneDir(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rel := m.relative(path)
	if rel == "." || rel == "" {
		return false
	}

	excluded := false
	if _, ok := matchFolders(m.cfg.Folders, rel); ok {
		excluded = true
	} else if _, ok := m.matchLanguageFolders(rel); ok {
		excluded = true
	} else if m.cfg.SkipHidden && hasHiddenComponent(rel) {
		excluded = true
	} else if m.gitIgnore != nil {
		if match := m.gitIgnore.Relative(rel, true); match != nil && match.Ignore() {
			excluded = true
		}
	}
	if !excluded {
		return false
	}
	return !m.mayContainIncluded(rel)
}

// ActiveLanguages returns the languages whose extra rules are in effect.
func (m *Matcher) ActiveLanguages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.languages...)
}

// Reload re-reads .gitignore and re-detects project languages.
// Used when the watcher sees one of those files change.
func (m *Matcher) Reload() {
	var gi gitignore.GitIgnore
	if m.cfg.RespectGitignore {
		gi = loadIgnoreFile(filepath.Join(m.rootDir, ".gitignore"), m.rootDir)
	}
	languages := detectLanguages(m.rootDir, m.cfg.Languages)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gitIgnore = gi
	m.languages = languages
}

func (m *Matcher) relative(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	rel, err := filepath.Rel(m.rootDir, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

func (m *Matcher) absolute(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.rootDir, path)
}

func (m *Matcher) matchInclude(rel, base string) (string, bool) {
	return matchFiles(m.cfg.Include, rel, base)
}

func (m *Matcher) matchLanguages(rel, base string) (string, bool) {
	dir := parentDir(rel)
	ext := normalizeExt(filepath.Ext(base))
	for _, lang := range m.languages {
		rules := m.cfg.Languages[lang]
		if p, ok := matchFolders(rules.Folders, dir); ok {
			return "language:" + lang + ":folder:" + p, true
		}
		if p, ok := matchFiles(rules.Files, rel, base); ok {
			return "language:" + lang + ":file:" + p, true
		}
		for _, e := range rules.Extensions {
			if ext != "" && normalizeExt(e) == ext {
				return "language:" + lang + ":extension:" + ext, true
			}
		}
	}
	return "", false
}

func (m *Matcher) matchLanguageFolders(relDir string) (string, bool) {
	for _, lang := range m.languages {
		if p, ok := matchFolders(m.cfg.Languages[lang].Folders, relDir); ok {
			return p, true
		}
	}
	return "", false
}

// mayContainIncluded reports whether any include override could match a path
// under relDir. Basename-only and leading-** patterns can match anywhere.
func (m *Matcher) mayContainIncluded(relDir string) bool {
	for _, pattern := range m.cfg.Include {
		if !strings.Contains(pattern, "/") || strings.HasPrefix(pattern, "**") {
			return true
		}
		staticBase, _ := doublestar.SplitPattern(pattern)
		if staticBase == "." {
			return true
		}
		if staticBase == relDir ||
			strings.HasPrefix(staticBase, relDir+"/") ||
			strings.HasPrefix(relDir, staticBase+"/") {
			return true
		}
	}
	return false
}

// matchFolders checks each directory prefix of relDir against the folder
// patterns. Patterns without a slash match any single component.
func matchFolders(patterns []string, relDir string) (string, bool) {
	if relDir == "" || relDir == "." {
		return "", false
	}
	components := strings.Split(relDir, "/")
	for _, raw := range patterns {
		pattern := strings.TrimSuffix(strings.TrimSuffix(raw, "/**"), "/")
		if pattern == "" {
			continue
		}
		if !strings.Contains(pattern, "/") {
			for _, component := range components {
				if matched, err := doublestar.Match(pattern, component); err == nil && matched {
					return raw, true
				}
			}
			continue
		}
		for i := range components {
			prefix := strings.Join(components[:i+1], "/")
			if matched, err := doublestar.Match(pattern, prefix); err == nil && matched {
				return raw, true
			}
		}
	}
	return "", false
}

// matchFiles matches globs against the relative path, and slash-free globs
// against the base name as well.
func matchFiles(patterns []string, rel, base string) (string, bool) {
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return pattern, true
		}
		if !strings.Contains(pattern, "/") {
			if matched, err := doublestar.Match(pattern, base); err == nil && matched {
				return pattern, true
			}
		}
	}
	return "", false
}

func parentDir(rel string) string {
	dir := filepath.ToSlash(filepath.Dir(filepath.FromSlash(rel)))
	if dir == "." {
		return ""
	}
	return dir
}

func hasHiddenComponent(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// detectLanguages returns the configured languages whose markers exist at root.
func detectLanguages(rootDir string, rules map[string]LanguageRules) []string {
	var active []string
	for lang, r := range rules {
		for _, marker := range r.Markers {
			if _, err := os.Stat(filepath.Join(rootDir, marker)); err == nil {
				active = append(active, lang)
				break
			}
		}
	}
	sort.Strings(active)
	return active
}

// loadIgnoreFile reads an ignore file and creates a GitIgnore matcher from it.
// Uses an io.Reader so the handle is closed before returning.
func loadIgnoreFile(filePath string, baseDir string) gitignore.GitIgnore {
	f, err := os.Open(filePath)
	if err != nil {
		return nil
	}
	defer f.Close()

	return gitignore.New(f, baseDir, nil)
}
