package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/itops/hub/internal/api"
	"github.com/itops/hub/internal/build"
	"github.com/itops/hub/internal/bus"
	"github.com/itops/hub/internal/config"
	"github.com/itops/hub/internal/github"
	"github.com/itops/hub/internal/lock"
	"github.com/itops/hub/internal/log"
	"github.com/itops/hub/internal/normalize"
	"github.com/itops/hub/internal/notify"
	"github.com/itops/hub/internal/queue"
	"github.com/itops/hub/internal/status"
	"github.com/itops/hub/internal/storage"
	"github.com/itops/hub/internal/trust"
	"github.com/itops/hub/internal/tui/watch"
	"github.com/itops/hub/internal/webhook"
)

const version = "1.0.0"

const defaultConfigPath = "hub.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "watch":
		os.Exit(runWatch(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("hub version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`hub - Webhook relay and build automation service

Usage:
  hub <command> [flags]

Commands:
  start         Run the hub service in the foreground
  watch         Live event-stream TUI against a running hub
  config lock   Authorize current config state (update integrity hashes)
  config check  Validate config syntax and integrity
  version       Show version information
  help          Show this help message

Use 'hub <command> --help' for command-specific flags.
`)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: hub config <lock|check> [flags]")
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		return runConfigLock(actionArgs)
	case "check":
		return runConfigCheck(actionArgs)
	case "help", "--help", "-h":
		fmt.Println("Usage: hub config <lock|check> [--config PATH]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock invalid config: %v\n", err)
		return 1
	}

	if err := config.WriteChecksums(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	fmt.Printf("Locked %s\n", *configPath)
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}
	if err := config.VerifyChecksums(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Integrity check FAILED: %v\n", err)
		return 1
	}

	fmt.Println("Config check PASSED.")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	hubURL := fs.String("url", "http://127.0.0.1:8080", "Base URL of the running hub")
	apiKey := fs.String("api-key", os.Getenv("HUB_API_KEY"), "API key for /api/events (default $HUB_API_KEY)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(*hubURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if err := config.VerifyChecksums(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Config integrity check failed: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("hub starting", "version", version, "config", *configPath)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Queue.DBPath)
	if err != nil {
		logger.Error("failed to open build queue database", "path", cfg.Queue.DBPath, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("build queue database opened", "path", cfg.Queue.DBPath)

	b := bus.New(log.WithComponent("bus"))
	trustSet := trust.NewSet()
	ghClient := github.NewClient(cfg.GitHub.APIBaseURL, cfg.GitHub.APIToken, nil)

	// Normalizers translate raw hook payloads into domain events.
	normalize.NewGitHub(b, trustSet, log.WithComponent("normalize.github"))
	normalize.NewBuildbot(b, cfg.Buildbot.PrimaryBranch, log.WithComponent("normalize.buildbot"))
	normalize.NewAgent(b, log.WithComponent("normalize.agent"))

	if cfg.Chat.WebhookURL != "" {
		notify.New(b, cfg.Chat.WebhookURL, log.WithComponent("notify"))
		logger.Info("chat notifications enabled")
	} else {
		logger.Info("chat notifications disabled (chat.webhook_url not set)")
	}

	q := queue.New(db)
	build.NewTrigger(b, q, ghClient, cfg.Buildbot, log.WithComponent("build.trigger"))
	runner := build.NewRunner(q, b, cfg.Buildbot, log.WithComponent("build.runner"))

	server := webhook.New(cfg, b, trustSet, log.WithComponent("webhook"))
	server.MountStatus(status.NewHandler(b, log.WithComponent("status")))
	server.MountEvents(api.NewEventsHandler(b.Feed(), cfg.APIKey, log.WithComponent("api")))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)

	if cfg.GitHub.TrustedTeam != "" {
		syncer := trust.NewSyncer(trustSet, ghClient, cfg.GitHub.Org, cfg.GitHub.TrustedTeam,
			cfg.GitHub.SyncInterval.Std(), log.WithComponent("trust"))
		syncer.Bind(b)
		go func() {
			if err := syncer.Run(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("trust sync: %w", err)
			}
		}()
	} else {
		logger.Warn("no trusted team configured, all senders are untrusted")
	}

	go func() {
		if err := runner.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("build runner: %w", err)
		}
	}()

	go func() {
		if err := server.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("webhook server: %w", err)
		}
	}()

	logger.Info("hub running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		exitCode = 1
	}

	// Let in-flight async work (chat posts, build publications) drain.
	b.Wait()

	logger.Info("hub stopped")
	return exitCode
}

// getPIDLockPath puts the PID file next to the queue database.
func getPIDLockPath(cfg *config.Config) string {
	dbPath := cfg.Queue.DBPath
	dbDir := filepath.Dir(dbPath)
	dbBase := filepath.Base(dbPath)
	ext := filepath.Ext(dbBase)
	return filepath.Join(dbDir, dbBase[:len(dbBase)-len(ext)]+".pid")
}
