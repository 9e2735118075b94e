package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/drive-mirror/internal/config"
	"github.com/alexjbarnes/drive-mirror/internal/ignore"
	"github.com/alexjbarnes/drive-mirror/internal/logging"
	"github.com/alexjbarnes/drive-mirror/internal/mirror"
	"github.com/alexjbarnes/drive-mirror/internal/remote"
	"github.com/alexjbarnes/drive-mirror/internal/state"
	"github.com/alexjbarnes/drive-mirror/internal/tree"
	"github.com/alexjbarnes/drive-mirror/internal/watcher"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	// Handle read-only subcommands before full config validation.
	if len(os.Args) > 1 && os.Args[1] == "status" {
		if err := status(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	logger.Info("drive-mirror starting",
		slog.String("version", Version),
		slog.String("root", cfg.Root),
		slog.String("backend", cfg.RemoteBackend),
		slog.Int("max_concurrent", cfg.MaxConcurrent),
	)

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	if prev := appState.Root(); prev != "" && prev != cfg.Root {
		// Entries under the old root are never matched again; they stay
		// until the state file is removed.
		logger.Warn("synchronization root changed since last run",
			slog.String("previous", prev),
			slog.String("current", cfg.Root),
		)
	}

	if err := appState.SetRoot(cfg.Root); err != nil {
		return fmt.Errorf("recording root: %w", err)
	}

	matcher, err := ignore.Load(cfg.Root, cfg.IgnorePath())
	if err != nil {
		return fmt.Errorf("loading ignore rules: %w", err)
	}
	logger.Debug("ignore rules loaded", slog.Int("rules", matcher.Rules()))

	orch := mirror.New(mirror.Config{
		Root:          cfg.Root,
		RootParentID:  cfg.RemoteRootParentID,
		CascadeDelete: cfg.CascadeDelete,
		MaxConcurrent: cfg.MaxConcurrent,
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff,
	}, appState, newRemote(cfg, logger), tree.NewEnumerator(matcher, logger), logger)

	w := watcher.NewWatcher(cfg.Root, matcher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(gctx, w)
	})

	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		logger.Info("shutting down")
		return nil
	}

	return err
}

// newRemote builds the configured remote store backend.
func newRemote(cfg *config.Config, logger *slog.Logger) mirror.RemoteStore {
	if cfg.RemoteBackend == config.BackendMemory {
		logger.Warn("using in-memory remote store, nothing leaves this process")
		return remote.NewMemory()
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	return remote.NewClient(httpClient, cfg.RemoteURL, cfg.RemoteToken)
}
