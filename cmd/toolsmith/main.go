package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/toolsmithhq/toolsmith/internal/compiler"
	"github.com/toolsmithhq/toolsmith/internal/dispatch"
	"github.com/toolsmithhq/toolsmith/internal/logging"
	"github.com/toolsmithhq/toolsmith/internal/scheduler"
	"github.com/toolsmithhq/toolsmith/internal/store"
	"github.com/toolsmithhq/toolsmith/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "toolsmith:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	// stdout carries the MCP transport; everything else goes to stderr.
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}),
	))

	if err := ensureDir(cfg.DBPath); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	comp, err := compiler.New(logger)
	if err != nil {
		return fmt.Errorf("init compiler: %w", err)
	}

	mem := store.AsMemory(st)
	runner, err := dispatch.NewRunner(st, mem, logger)
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	sched := scheduler.NewScheduler(&storeSource{store: st, logger: logger}, runner, mem, st, logger)
	if err := sched.Start(ctx, time.Duration(cfg.TickSeconds)*time.Second); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := mcp.NewToolsmithServer(mcp.ToolsmithServerDeps{
		Compiler:  comp,
		Store:     st,
		Scheduler: sched,
		Logger:    logger,
	})

	logger.Info("toolsmith started",
		slog.String("db", cfg.DBPath),
		slog.Int("tick_seconds", cfg.TickSeconds))

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// storeSource feeds the scheduler every active tool with its pinned spec.
type storeSource struct {
	store  store.Store
	logger *slog.Logger
}

func (s *storeSource) ExecutableTools(ctx context.Context) ([]scheduler.ToolRef, error) {
	tools, err := s.store.ListTools(ctx, store.ToolFilter{Status: store.ToolStatusActive})
	if err != nil {
		return nil, err
	}

	refs := make([]scheduler.ToolRef, 0, len(tools))
	for _, t := range tools {
		spec, specErr := s.store.GetActiveSpec(ctx, t.ID)
		if specErr != nil {
			// A head without a loadable version is a data problem for the
			// operator, not a reason to stall every other tool.
			s.logger.Warn("skipping tool with unloadable spec",
				slog.String("tool_id", t.ID), slog.String("error", specErr.Error()))
			continue
		}
		refs = append(refs, scheduler.ToolRef{ToolID: t.ID, OrgID: t.OrgID, Spec: spec})
	}
	return refs, nil
}

func ensureDir(dbPath string) error {
	path := strings.TrimPrefix(dbPath, "file:")
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
