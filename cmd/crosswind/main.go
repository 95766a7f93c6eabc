// Package main is the crosswind CLI: an agent-first CRM backend that routes
// tenant conversations through LLM providers with tenant-scoped tool
// execution.
//
// Start the server:
//
//	crosswind serve --config crosswind.yaml
//
// Mint a development token:
//
//	crosswind token --user u1 --tenant <tenant-uuid>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosswindhq/crosswind/internal/agent"
	"github.com/crosswindhq/crosswind/internal/agent/providers"
	"github.com/crosswindhq/crosswind/internal/auth"
	"github.com/crosswindhq/crosswind/internal/broadcast"
	"github.com/crosswindhq/crosswind/internal/config"
	"github.com/crosswindhq/crosswind/internal/conversations"
	"github.com/crosswindhq/crosswind/internal/credentials"
	"github.com/crosswindhq/crosswind/internal/memory"
	"github.com/crosswindhq/crosswind/internal/observability"
	"github.com/crosswindhq/crosswind/internal/server"
	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/internal/tenant"
	"github.com/crosswindhq/crosswind/internal/tools"
	"github.com/crosswindhq/crosswind/internal/webhooks"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crosswind",
		Short: "Crosswind - agent-first CRM backend",
		Long: `Crosswind serves a multi-tenant CRM whose primary interface is an AI
agent: user messages are answered by an LLM that can inspect and update
CRM data through a closed set of tenant-scoped tools.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildTokenCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the crosswind API server",
		Long: `Start the API server with the configured storage and memory backends.

Postgres is used when database.dsn is set; otherwise an in-process store
serves local development. Redis backs ephemeral agent memory when
redis.addr is set. Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)
	metrics := observability.NewMetrics(nil)

	stores, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	memStore, err := openMemory(ctx, cfg, logger)
	if err != nil {
		return err
	}

	hub := broadcast.NewHub(logger, metrics)
	convs := conversations.NewService(stores.Conversations, hub, logger)
	creds := credentials.NewResolver(stores.Integrations, stores.UserCredentials, stores.Settings, logger)
	resolver := tenant.NewResolver(stores.Tenants)
	gate := tenant.NewGate(cfg.Auth.DevMode, logger)
	registry := tools.NewRegistry(stores.CRM, cfg.Tools, logger, metrics)

	dispatcher := webhooks.NewDispatcher(stores.Webhooks, logger)
	dispatcher.Start()
	defer dispatcher.Stop()

	orch := agent.NewOrchestrator(convs, creds, memStore, providers.NewFactory(), cfg.Agent, cfg.Memory, logger, metrics)
	runner := agent.NewRunner(orch, cfg.Agent.QueueSize, cfg.Agent.Workers, logger)
	defer runner.Close()

	jwtSvc := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)

	srv := server.New(cfg, server.Deps{
		Stores:        stores,
		Tenants:       resolver,
		Gate:          gate,
		Credentials:   creds,
		Conversations: convs,
		Hub:           hub,
		Registry:      registry,
		Runner:        runner,
		Dispatcher:    dispatcher,
		JWT:           jwtSvc,
	}, logger, metrics)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStores(cfg *config.Config, logger *slog.Logger) (storage.StoreSet, error) {
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		logger.Warn("no database dsn configured, using in-process storage")
		return storage.NewMemoryStores(), nil
	}
	stores, err := storage.OpenPostgres(cfg.Database)
	if err != nil {
		return storage.StoreSet{}, fmt.Errorf("open postgres: %w", err)
	}
	logger.Info("postgres storage ready")
	return stores, nil
}

func openMemory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (memory.Store, error) {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		logger.Info("agent memory backend: in-process")
		return memory.NewInMemStore(), nil
	}
	store, err := memory.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("agent memory backend: redis", "addr", cfg.Redis.Addr)
	return store, nil
}

// buildTokenCmd mints a signed JWT for local testing against a dev server.
func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		tenantID   string
		email      string
		role       string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user is required")
			}

			svc := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)
			token, err := svc.Generate(&models.Identity{
				UserID:   userID,
				Email:    email,
				Role:     role,
				TenantID: tenantID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User id (subject)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Assigned tenant UUID")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&role, "role", "member", "Role claim")
	return cmd
}
