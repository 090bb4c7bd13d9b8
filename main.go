package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexandro/vecindex-mcp/config"
	"github.com/lexandro/vecindex-mcp/embed"
	"github.com/lexandro/vecindex-mcp/ignore"
	"github.com/lexandro/vecindex-mcp/index"
	"github.com/lexandro/vecindex-mcp/register"
	"github.com/lexandro/vecindex-mcp/server"
	"github.com/lexandro/vecindex-mcp/state"
	"github.com/lexandro/vecindex-mcp/store"
	"github.com/lexandro/vecindex-mcp/tools"
	"github.com/lexandro/vecindex-mcp/watcher"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// cliOptions holds the flags shared by every subcommand.
type cliOptions struct {
	root        string
	configPath  string
	logLevel    string
	logFile     string
	excludes    []string
	maxFileSize int64
	noWatch     bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:           "vecindex-mcp",
		Short:         "Semantic vector index of a project, served over MCP stdio",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.root, "root", "", "Project root directory (default: current working directory)")
	flags.StringVar(&opts.configPath, "config", "", "Config file (default: <root>/"+config.FileName+")")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	flags.StringVar(&opts.logFile, "log-file", "", "Log file path (default: <root>/vecindex-mcp.log)")
	flags.StringArrayVar(&opts.excludes, "exclude", nil, "Extra exclusion glob (repeatable)")
	flags.Int64Var(&opts.maxFileSize, "max-file-size", 0, "Maximum file size in bytes")
	flags.BoolVar(&opts.noWatch, "no-watch", false, "Disable the file watcher")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Index the project and serve MCP tools on stdio (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd, opts)
			},
		},
		newIndexCommand(opts),
		newRegisterCommand(),
	)
	return rootCmd
}

func newIndexCommand(opts *cliOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the project once and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd.OutOrStdout(), cmd.Flags(), opts, all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Forget previous state and re-embed every file")
	return cmd
}

func newRegisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register project [directory] [-- args] | register user [-- args]",
		Short: "Register this binary as an MCP server in .mcp.json or ~/.claude.json",
		// Everything after "register" is forwarded untouched, including "--".
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				exe = os.Args[0]
			}
			return register.Run(register.DeriveServerName(exe), args, cmd.OutOrStdout())
		},
	}
}

// flagSet reports which flags were given on the command line.
type flagSet interface {
	Changed(name string) bool
}

// loadConfig resolves the root, reads the config file and applies the flags
// the user actually set.
func loadConfig(flags flagSet, opts *cliOptions) (config.Config, error) {
	rootDir := opts.root
	if rootDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Config{}, fmt.Errorf("getting working directory: %w", err)
		}
		rootDir = wd
	}
	rootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("resolving root %s: %w", rootDir, err)
	}

	cfg, err := config.Load(rootDir, opts.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.Root = rootDir

	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}
	if flags.Changed("max-file-size") {
		cfg.Exclusion.MaxFileSize = opts.maxFileSize
	}
	if opts.noWatch {
		cfg.Watch.Enabled = false
	}
	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(rootDir, "vecindex-mcp.log")
	}

	return cfg, cfg.Validate()
}

// app is the wired set of components behind every subcommand.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	state   *state.Store
	store   store.VectorStore
	matcher *ignore.Matcher
	engine  *index.Engine
}

func buildApp(cfg config.Config, excludes []string, logger *slog.Logger) (*app, error) {
	st, err := state.Open(cfg.StatePath(), logger)
	if err != nil {
		return nil, err
	}

	vectors, err := newVectorStore(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	embedder, err := embed.NewFromConfig(cfg.Embedding, cfg.RetryPolicy(), logger)
	if err != nil {
		vectors.Close()
		st.Close()
		return nil, err
	}

	matcher := ignore.NewMatcher(cfg.Root, cfg.Exclusion, excludes...)
	logger.Info("exclusion rules loaded", "languages", matcher.ActiveLanguages())

	engine, err := index.New(index.Options{
		Root:           cfg.Root,
		Embedder:       embedder,
		Store:          vectors,
		State:          st,
		Excluder:       matcher,
		MaxConcurrency: cfg.Indexing.MaxConcurrency,
		BatchSize:      cfg.Indexing.BatchSize,
		Incremental:    cfg.Indexing.Incremental,
		Persist:        cfg.Indexing.Persist,
		TTL:            cfg.Freshness.TTL,
		PurgeInterval:  cfg.Freshness.PurgeInterval,
		PurgeEnabled:   cfg.Freshness.PurgeEnabled,
		Overfetch:      cfg.Freshness.Overfetch,
		ValidateIndex:  cfg.Freshness.ValidateIndex,
		Logger:         logger,
	})
	if err != nil {
		vectors.Close()
		st.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		state:   st,
		store:   vectors,
		matcher: matcher,
		engine:  engine,
	}, nil
}

// newVectorStore builds the configured backend behind the retry wrapper.
func newVectorStore(cfg config.Config, logger *slog.Logger) (store.VectorStore, error) {
	var inner store.VectorStore
	switch cfg.VectorStore.Backend {
	case "local":
		local, err := store.NewLocalStore(store.LocalOptions{
			Dir:    filepath.Join(cfg.StatePath(), "vectors"),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		inner = local
	default:
		qdrant, err := store.NewQdrantStore(store.QdrantOptions{
			URL:        cfg.VectorStore.URL,
			APIKey:     cfg.VectorStore.APIKey,
			Collection: cfg.VectorStore.Collection,
			Timeout:    cfg.VectorStore.Timeout,
		})
		if err != nil {
			return nil, err
		}
		inner = qdrant
	}
	return store.NewRetrying(inner, cfg.RetryPolicy(), logger), nil
}

// Close flushes the engine, then releases the store and the state lock.
func (a *app) Close() error {
	return errors.Join(a.engine.Close(), a.store.Close(), a.state.Close())
}

// controlFiles are base names whose changes alter the exclusion rules.
func (a *app) controlFiles() []string {
	names := []string{".gitignore"}
	for _, rules := range a.cfg.Exclusion.Languages {
		names = append(names, rules.Markers...)
	}
	return names
}

func runServe(cmd *cobra.Command, opts *cliOptions) error {
	cfg, err := loadConfig(cmd.Flags(), opts)
	if err != nil {
		return err
	}

	// Logs never go to stdout, which carries the MCP stdio stream.
	logger := setupLogger(cfg.Log.Level, cfg.Log.File)
	logger.Info("starting vecindex-mcp",
		"root", cfg.Root,
		"backend", cfg.VectorStore.Backend,
		"provider", cfg.Embedding.Provider,
		"model", cfg.Embedding.Model,
	)
	startTime := time.Now()

	a, err := buildApp(cfg, opts.excludes, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var background sync.WaitGroup
	defer background.Wait()
	defer stop()

	// Initial indexing runs behind the server so clients can connect at once.
	background.Add(1)
	go func() {
		defer background.Done()
		performIndexing(ctx, a.engine, cfg.Root, logger)
	}()

	if cfg.Watch.Enabled {
		fileWatcher, err := watcher.NewWatcher(watcher.Options{
			Root:     cfg.Root,
			Excluder: a.matcher,
			Debounce: cfg.Watch.Debounce,
			Control:  a.controlFiles(),
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("failed to start file watcher, continuing without live updates", "error", err)
		} else {
			defer fileWatcher.Close()
			background.Add(2)
			go func() {
				defer background.Done()
				fileWatcher.Run(ctx)
			}()
			go func() {
				defer background.Done()
				handleWatcherEvents(ctx, fileWatcher.Events(), a.engine, a.reloadRules(), logger)
			}()
		}
	}

	if cfg.Sync.Interval > 0 {
		background.Add(1)
		go func() {
			defer background.Done()
			runPeriodicSync(ctx, cfg.Sync.Interval, a.engine, cfg.Root, logger)
		}()
	}

	handlers := server.Handlers{
		Search:  &tools.SearchHandler{Engine: a.engine, Logger: logger},
		Index:   &tools.IndexHandler{Engine: a.engine, Logger: logger},
		Files:   &tools.FilesHandler{Engine: a.engine, Logger: logger},
		Status:  &tools.StatusHandler{Engine: a.engine, StartTime: startTime, Logger: logger},
		Reindex: &tools.ReindexHandler{Engine: a.engine, Reload: a.matcher.Reload, Logger: logger},
	}
	mcpServer := server.Setup(handlers)

	logger.Info("MCP server starting on stdio")
	if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("MCP server error", "error", err)
		return err
	}
	logger.Info("MCP server stopped")
	return nil
}

// reloadRules returns the reload hook the watcher handler uses.
func (a *app) reloadRules() rulesReloader {
	control := make(map[string]bool)
	for _, name := range a.controlFiles() {
		control[name] = true
	}
	reload := func() {
		a.matcher.Reload()
		a.logger.Info("exclusion rules reloaded", "languages", a.matcher.ActiveLanguages())
	}
	return rulesReloader{control: control, reload: reload}
}

func runIndex(ctx context.Context, out io.Writer, flags flagSet, opts *cliOptions, all bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(flags, opts)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Log.Level, cfg.Log.File)

	a, err := buildApp(cfg, opts.excludes, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	var result *index.BatchResult
	if all {
		result, err = a.engine.ReindexAll(ctx, cfg.Root)
	} else {
		var files []string
		files, err = a.engine.GetAllFiles(cfg.Root)
		if err == nil {
			result, err = a.engine.IndexFiles(ctx, files)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprint(out, tools.FormatBatchResult(cfg.Root, result, time.Since(start), 50))
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d files failed to index", len(result.Failed))
	}
	return nil
}

// setupLogger creates an slog.Logger writing to stderr or a file.
func setupLogger(level string, logFile string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var writer *os.File
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v, falling back to stderr\n", logFile, err)
			writer = os.Stderr
		} else {
			writer = f
		}
	} else {
		writer = os.Stderr
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}
