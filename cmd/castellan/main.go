// Castellan is a multi-agent personal assistant.
//
// It routes each user message to a specialist agent (chat, productivity,
// creative, research, knowledge, recall), persists conversations and
// extracted memories in SQLite, and exposes an HTTP API with synchronous,
// SSE, and WebSocket chat. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	castellan serve              Start the API server
//	castellan init [dir]         Initialize a working directory with defaults
//	castellan ask <question>     Ask a single question (for testing)
//	castellan ingest <file>      Import a document into the document store
//	castellan version            Print version and build information
//	castellan -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/agent"
	"github.com/castellanhq/castellan/internal/api"
	"github.com/castellanhq/castellan/internal/buildinfo"
	"github.com/castellanhq/castellan/internal/config"
	"github.com/castellanhq/castellan/internal/docstore"
	"github.com/castellanhq/castellan/internal/embeddings"
	"github.com/castellanhq/castellan/internal/fetch"
	"github.com/castellanhq/castellan/internal/imagegen"
	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/memory"
	"github.com/castellanhq/castellan/internal/notify"
	"github.com/castellanhq/castellan/internal/orchestrator"
	"github.com/castellanhq/castellan/internal/search"
	"github.com/castellanhq/castellan/internal/store"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the castellan command. All OS-level
// dependencies are injected as parameters so the command surface can be
// exercised from tests. Arguments are parsed by hand: the flag package
// relies on package-level globals, and our flag surface is small enough
// that manual parsing is clearer than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: castellan ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: castellan ingest <file>")
		}
		return runIngest(ctx, stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Castellan - Multi-Agent Personal Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: castellan [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  ingest       Import a document into the document store")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/castellan/config.yaml, /etc/castellan/config.yaml")
	return nil
}

// runServe is the primary operating mode: load config, open the
// database, build the agent set, and serve the HTTP API until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Castellan",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner.
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = newLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.Models.Provider,
		"model", cfg.Models.Default,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	st, err := openStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := buildLLMClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildCollaborators(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if deps.notifier != nil {
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := deps.notifier.Stop(stopCtx); err != nil {
				logger.Warn("mqtt shutdown failed", "error", err)
			}
		}()
	}

	orch := buildOrchestrator(cfg, client, st, deps, logger)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, orch, st, deps.docs, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Castellan stopped")
	return nil
}

// collaborators are the optional services the agents draw on.
type collaborators struct {
	searchMgr *search.Manager
	fetcher   *fetch.Fetcher
	docs      *docstore.Store
	images    imagegen.Generator
	notifier  *notify.Publisher
}

// buildCollaborators wires the optional services from config: web
// search, page fetching, the document store, image generation, and the
// MQTT turn publisher. Anything not configured is left nil and the
// agents degrade gracefully.
func buildCollaborators(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*collaborators, error) {
	deps := &collaborators{
		searchMgr: buildSearchManager(cfg, logger),
		fetcher:   fetch.New(),
	}

	if cfg.Embeddings.Enabled {
		baseURL := cfg.Embeddings.BaseURL
		if baseURL == "" {
			baseURL = cfg.Models.OllamaURL
		}
		embedder := embeddings.New(embeddings.Config{
			BaseURL: baseURL,
			Model:   cfg.Embeddings.Model,
		})

		docs, err := docstore.New(filepath.Join(cfg.DataDir, "documents"), embedder, docstore.Options{
			ChunkSize: cfg.Documents.ChunkSize,
			TopK:      cfg.Documents.TopK,
		})
		if err != nil {
			return nil, fmt.Errorf("open document store: %w", err)
		}
		deps.docs = docs
		logger.Info("document store enabled", "embedding_model", cfg.Embeddings.Model)
	}

	if cfg.ImageGen.Enabled {
		deps.images = imagegen.New(cfg.ImageGen.BaseURL, cfg.ImageGen.APIKey, cfg.ImageGen.Model)
		logger.Info("image generation enabled", "model", cfg.ImageGen.Model)
	}

	if cfg.MQTT.Enabled {
		instanceID, err := notify.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		pub := notify.New(cfg.MQTT, instanceID, logger)
		if err := pub.Start(ctx); err != nil {
			return nil, fmt.Errorf("start mqtt publisher: %w", err)
		}
		deps.notifier = pub
	}

	return deps, nil
}

// buildOrchestrator assembles the six agents over the shared store and
// context assembler, plus the router and post-turn memory extractor.
func buildOrchestrator(cfg *config.Config, client llm.Client, st *store.Store, deps *collaborators, logger *slog.Logger) *orchestrator.Orchestrator {
	asm := agent.NewAssembler(st, cfg.Context.HistoryTurns, cfg.Context.MemoryLimit, cfg.Context.TruncateAt)

	agents := []agent.Agent{
		agent.NewChat(client, st, asm, logger),
		agent.NewProductivity(client, st, asm, logger),
		agent.NewCreative(client, st, asm, logger, deps.images),
		agent.NewResearch(client, st, asm, logger, deps.searchMgr, deps.fetcher, cfg.Search.FetchTopResult),
		agent.NewKnowledge(client, st, asm, logger, deps.docs),
		agent.NewRecall(client, st, asm, logger),
	}

	var extractor *memory.Extractor
	if cfg.Extraction.Enabled {
		extractor = memory.New(client, st, logger, time.Duration(cfg.Extraction.TimeoutSeconds)*time.Second)
	}

	// An untyped nil keeps the orchestrator's nil check meaningful.
	var notifier orchestrator.Notifier
	if deps.notifier != nil {
		notifier = deps.notifier
	}

	router := orchestrator.NewRouter(client, asm, logger)
	return orchestrator.New(router, agents, extractor, notifier, logger)
}

// buildSearchManager registers the configured search providers, each
// wrapped in a TTL cache when caching is enabled.
func buildSearchManager(cfg *config.Config, logger *slog.Logger) *search.Manager {
	mgr := search.NewManager(cfg.Search.Provider)
	ttl := time.Duration(cfg.Search.CacheTTLSeconds) * time.Second

	register := func(p search.Provider) {
		if ttl > 0 {
			cached, err := search.NewCached(p, ttl)
			if err != nil {
				logger.Warn("search cache unavailable, using provider directly", "provider", p.Name(), "error", err)
			} else {
				p = cached
			}
		}
		mgr.Register(p)
		logger.Info("search provider registered", "provider", p.Name())
	}

	if cfg.Search.Serper.Configured() {
		register(search.NewSerper(cfg.Search.Serper.APIKey))
	}
	if cfg.Search.Brave.Configured() {
		register(search.NewBrave(cfg.Search.Brave.APIKey))
	}
	if !mgr.Configured() {
		logger.Warn("no search provider configured - research answers will be ungrounded")
	}
	return mgr
}

// buildLLMClient constructs the model client from config: the primary
// provider, optionally wrapped with a failover to the other provider.
func buildLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	clientFor := func(provider string) (llm.Client, error) {
		switch provider {
		case "ollama":
			return llm.NewOllamaClient(cfg.Models.OllamaURL, cfg.Models.Default), nil
		case "anthropic":
			if cfg.Anthropic.APIKey == "" {
				return nil, fmt.Errorf("anthropic provider selected but no api_key configured")
			}
			return llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model), nil
		default:
			return nil, fmt.Errorf("unknown model provider %q (expected ollama or anthropic)", provider)
		}
	}

	primary, err := clientFor(cfg.Models.Provider)
	if err != nil {
		return nil, err
	}

	if cfg.Models.Fallback == "" || cfg.Models.Fallback == cfg.Models.Provider {
		return primary, nil
	}

	fallback, err := clientFor(cfg.Models.Fallback)
	if err != nil {
		return nil, err
	}
	logger.Info("model failover enabled", "primary", cfg.Models.Provider, "fallback", cfg.Models.Fallback)
	return llm.NewFailoverClient(primary, fallback, logger), nil
}

// runAsk processes a single question through the full orchestrator and
// prints the response. It uses the real data directory so memories and
// conversation history persist between invocations.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")
	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	st, err := openStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := buildLLMClient(cfg, logger)
	if err != nil {
		return err
	}

	deps, err := buildCollaborators(ctx, cfg, logger)
	if err != nil {
		return err
	}

	user, err := localUser(st)
	if err != nil {
		return err
	}

	orch := buildOrchestrator(cfg, client, st, deps, logger)
	result, err := orch.Handle(ctx, user.ID, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, result.Response)
	return nil
}

// runIngest imports one document into the local user's document store.
func runIngest(ctx context.Context, stdout io.Writer, configPath string, filePath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.Embeddings.Enabled {
		return fmt.Errorf("document ingestion requires embeddings.enabled in config")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	st, err := openStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	user, err := localUser(st)
	if err != nil {
		return err
	}

	deps, err := buildCollaborators(ctx, cfg, logger)
	if err != nil {
		return err
	}

	name := filepath.Base(filePath)
	chunks, err := deps.docs.Ingest(ctx, user.ID, name, string(content))
	if err != nil {
		return fmt.Errorf("ingest %s: %w", name, err)
	}

	fmt.Fprintf(stdout, "Ingested %d chunks from %s\n", chunks, name)
	return nil
}

// localUser returns the account used by CLI subcommands, creating it on
// first use. Its password is random; the account is only addressable
// locally by id.
func localUser(st *store.Store) (*store.User, error) {
	user, err := st.GetUserByUsername("local")
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := store.HashPassword(uuid.NewString())
	if err != nil {
		return nil, err
	}
	return st.CreateUser("local", hash)
}

// openStore opens the SQLite database under dataDir with WAL mode and a
// busy timeout suited to concurrent API handlers.
func openStore(dataDir string) (*store.Store, error) {
	dbPath := filepath.Join(dataDir, "castellan.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}

	st, err := store.New(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database %s: %w", dbPath, err)
	}
	return st, nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
