// Todochat is a conversational todo-list service.
//
// It exposes an HTTP chat API backed by an OpenAI-compatible completion
// provider. The model manages each user's task list through a set of
// server-side tools; conversations and tasks persist in SQLite.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	todochat serve              Start the API server
//	todochat init [dir]         Initialize a working directory with defaults
//	todochat version            Print version and build information
//	todochat -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/agent"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/api"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/buildinfo"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/config"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/defaults"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/llm"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/session"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/task"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/tools"
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

// run is the real entry point for the todochat command. All OS-level
// dependencies are injected as parameters: ctx controls the lifetime of
// the process, stdout and stderr receive all program output, and args
// is os.Args[1:]. Arguments are parsed by hand: the flag package relies
// on package-level globals, which makes it impossible to call run()
// concurrently from tests, and the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// A .env file in the working directory supplies env vars referenced
	// by ${VAR} expansion in config.yaml. Missing files are fine.
	_ = godotenv.Load(".env")

	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
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
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "todochat - Conversational todo-list service")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: todochat [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.RuntimeInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runInit creates a working directory with a data subdirectory and an
// example config, never overwriting existing files.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing todochat workspace in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(w, "  - %s (exists, skipped)\n", configPath)
		return nil
	}
	if err := os.WriteFile(configPath, defaults.ConfigYAML, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", configPath, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)
	return nil
}

// runServe handles the "todochat serve" subcommand: load config, open
// the databases, assemble the agent loop, start the HTTP server, and
// block until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting todochat", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Completion.Model,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Task store ---
	// Each user's todo list, manipulated only through the tool registry.
	taskPath := filepath.Join(cfg.DataDir, "tasks.db")
	taskStore, err := task.NewStore(taskPath)
	if err != nil {
		return fmt.Errorf("open task database %s: %w", taskPath, err)
	}
	defer taskStore.Close()
	logger.Info("task database opened", "path", taskPath)

	// --- Session store ---
	// Conversations and turns. Persists across restarts so users can
	// resume where they left off.
	sessionPath := filepath.Join(cfg.DataDir, "sessions.db")
	sessionStore, err := session.NewStore(sessionPath)
	if err != nil {
		return fmt.Errorf("open session database %s: %w", sessionPath, err)
	}
	defer sessionStore.Close()
	logger.Info("session database opened", "path", sessionPath)

	// --- Completion client ---
	client := llm.NewOpenAIClient(cfg.Completion.BaseURL, cfg.Completion.APIKey, cfg.Completion.Model, cfg.Completion.Timeout(), logger)

	// --- Agent loop ---
	registry := tools.NewRegistry(taskStore)
	loop := agent.NewLoop(logger, sessionStore, registry, client, cfg.Agent)
	logger.Info("agent loop initialized", "tools", registry.Names())

	// --- API server ---
	if len(cfg.Auth.Tokens) == 0 {
		logger.Warn("no auth tokens configured - all requests will be rejected")
	}
	server := api.NewServer(cfg.Listen, loop, sessionStore, api.StaticTokens(cfg.Auth.Tokens), cfg.RateLimit, logger)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	// Blocks until the server is shut down, via context cancellation or
	// a fatal error.
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("todochat stopped")
	return nil
}

// newLogger creates a structured text logger that writes to w at the
// given level. All log output goes through slog.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise [config.FindConfig] searches the default locations.
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
