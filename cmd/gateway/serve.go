package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/toolcall-gateway/internal/frontdoor"
	anthropicfd "github.com/tjfontaine/toolcall-gateway/internal/frontdoor/anthropic"
	geminifd "github.com/tjfontaine/toolcall-gateway/internal/frontdoor/gemini"
	openaifd "github.com/tjfontaine/toolcall-gateway/internal/frontdoor/openai"
	"github.com/tjfontaine/toolcall-gateway/internal/gateway"
	"github.com/tjfontaine/toolcall-gateway/internal/pkg/config"
	"github.com/tjfontaine/toolcall-gateway/internal/server"
	"github.com/tjfontaine/toolcall-gateway/internal/storage"
	"github.com/tjfontaine/toolcall-gateway/internal/storage/memory"
	"github.com/tjfontaine/toolcall-gateway/internal/storage/sqlite"
	"github.com/tjfontaine/toolcall-gateway/internal/telemetry"
	"github.com/tjfontaine/toolcall-gateway/internal/tokens"
	"github.com/tjfontaine/toolcall-gateway/internal/upstream"
)

const (
	pruneInterval  = time.Hour
	pruneRetention = 24 * time.Hour
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().Bool("trace", false, "export OpenTelemetry spans to stderr")
	cmd.Flags().Bool("watch", true, "reload the config file when it changes")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	snap, err := loadSnapshot(cmd)
	if err != nil {
		return err
	}
	cfg := snap.Config

	logger, level := newLogger(cfg.Features)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		shutdown, err := telemetry.InitTracer("toolcall-gateway", os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	calls, err := openToolCallStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer calls.Close()

	store := config.NewStore(snap)

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		watcher, err := config.NewWatcher(configPath(cmd), store,
			config.WithLogger(logger),
			config.WithReloadHook(func(s *config.Snapshot) {
				lvl, _ := s.Config.Features.Level()
				level.Set(lvl)
			}),
		)
		if err != nil {
			return err
		}
		if err := watcher.Watch(ctx); err != nil {
			logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		}
		defer watcher.Close()
	}

	client := upstream.NewClient(
		upstream.WithTimeout(cfg.Server.Timeout),
		upstream.WithLogger(logger),
	)
	gw := gateway.New(store, client,
		gateway.WithLogger(logger),
		gateway.WithToolCallStore(calls),
		gateway.WithCounter(tokens.NewCounter(logger)),
	)

	base := frontdoor.NewHandler(gw, store, logger)
	routes := base.Routes()
	routes = append(routes, openaifd.NewHandler(base).Routes()...)
	routes = append(routes, anthropicfd.NewHandler(base).Routes()...)
	routes = append(routes, geminifd.NewHandler(base).Routes()...)

	srv := server.New(cfg.Server.Addr(), cfg.Server.Timeout, logger)
	for _, r := range routes {
		srv.Handle(r.Method, r.Path, r.Handler)
	}

	logger.Info("gateway configured",
		slog.Int("upstream_services", len(cfg.UpstreamServices)),
		slog.Int("routes", len(snap.Routes.Routes())),
		slog.Bool("function_calling", cfg.Features.EnableFunctionCalling),
		slog.String("storage", cfg.Storage.Driver))

	return srv.Start(ctx)
}

// openToolCallStore opens the configured side table. The SQLite store is
// pruned in the background until ctx is done.
func openToolCallStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.ToolCallStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(cfg.MaxEntries), nil
	case "sqlite":
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open tool call store: %w", err)
		}
		go prune(ctx, s, logger)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func prune(ctx context.Context, s *sqlite.Store, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.Prune(ctx, now.Add(-pruneRetention))
			if err != nil {
				logger.Warn("tool call prune failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Debug("pruned tool calls", slog.Int64("deleted", n))
			}
		}
	}
}
