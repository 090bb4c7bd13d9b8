package ignore

// DefaultMaxFileSize is the size above which files are excluded (1MB).
const DefaultMaxFileSize = 1024 * 1024

// DefaultConfig returns the exclusion rules applied when no config file
// overrides them.
func DefaultConfig() Config {
	return Config{
		Folders: []string{
			// Version control
			".git", ".svn", ".hg",
			// Dependencies
			"node_modules", "vendor", "bower_components", ".npm", ".yarn",
			// Build output
			"dist", "build", "out", "target", "bin", "obj",
			// IDE / Editor
			".idea", ".vscode", ".vs",
			// Python
			"__pycache__", ".venv", "venv",
			// Coverage
			"coverage", ".nyc_output", "htmlcov",
			// Cache
			".cache", ".parcel-cache", ".next", ".nuxt",
			// Own state
			".vecindex",
		},
		Files: []string{
			"**/*.min.js",
			"**/*.min.css",
			"**/*.map",
			"**/.pnp.*",
			"**/*~",
		},
		Extensions: []string{
			// Compiled / binary
			"exe", "dll", "so", "dylib", "o", "a", "lib", "class", "jar", "war",
			"pyc", "pyo",
			// Archives
			"zip", "tar", "gz", "tgz", "rar", "7z",
			// Images
			"png", "jpg", "jpeg", "gif", "bmp", "ico", "webp", "tiff",
			// Fonts
			"woff", "woff2", "ttf", "eot", "otf",
			// Media
			"mp3", "mp4", "avi", "mov", "wav", "flac",
			// Documents
			"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx",
			// Editors, logs, databases
			"swp", "swo", "log", "sqlite", "sqlite3", "db",
		},
		Names: []string{
			// OS files
			".DS_Store", "Thumbs.db", "desktop.ini",
			// Lock files
			"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "Gemfile.lock",
			"poetry.lock", "Cargo.lock", "go.sum", "composer.lock",
			// Secrets
			".env",
		},
		MaxFileSize:      DefaultMaxFileSize,
		ExcludeBinary:    true,
		ExcludeEmpty:     true,
		ExcludeMinified:  true,
		SkipHidden:       false,
		RespectGitignore: true,
		Languages:        DefaultLanguageRules(),
	}
}

// DefaultLanguageRules holds extra exclusions that only apply when the
// project contains one of the language's marker files.
func DefaultLanguageRules() map[string]LanguageRules {
	return map[string]LanguageRules{
		"go": {
			Markers: []string{"go.mod"},
			Files:   []string{"**/*.pb.go", "**/*_gen.go", "**/zz_generated.*.go"},
		},
		"javascript": {
			Markers: []string{"package.json"},
			Folders: []string{".turbo", ".svelte-kit", "storybook-static"},
			Files:   []string{"**/*.bundle.js", "**/*.chunk.js"},
		},
		"python": {
			Markers:    []string{"pyproject.toml", "requirements.txt", "setup.py"},
			Folders:    []string{".mypy_cache", ".pytest_cache", ".tox", "*.egg-info"},
			Extensions: []string{"pyd"},
		},
		"rust": {
			Markers: []string{"Cargo.toml"},
			Folders: []string{"target"},
		},
		"java": {
			Markers:    []string{"pom.xml", "build.gradle", "build.gradle.kts"},
			Folders:    []string{".gradle"},
			Extensions: []string{"iml"},
		},
	}
}
