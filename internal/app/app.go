// Package app is Sentinela's composition root: it reads configuration,
// connects to infrastructure, wires the domain/use-case/adapter layers
// together, and runs whichever mode the process was started in.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/devco/sentinela/internal/admin"
	"github.com/devco/sentinela/internal/cache"
	"github.com/devco/sentinela/internal/config"
	"github.com/devco/sentinela/internal/engine"
	"github.com/devco/sentinela/internal/eventbus"
	"github.com/devco/sentinela/internal/hubsoft"
	"github.com/devco/sentinela/internal/httpserver"
	"github.com/devco/sentinela/internal/platform"
	"github.com/devco/sentinela/internal/repository/sqlite"
	"github.com/devco/sentinela/internal/telemetry"
	"github.com/devco/sentinela/internal/ticketuc"
	"github.com/devco/sentinela/internal/verificationuc"
	"github.com/devco/sentinela/pkg/chatservice"
	"github.com/devco/sentinela/pkg/chatservice/slack"
)

// Run is the process entry point: it loads config, connects to
// infrastructure, and dispatches to the mode named by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting sentinela", "mode", cfg.Mode)

	db, err := platform.OpenSQLite(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(db, cfg.MigrationsDir, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	if cfg.Mode == "migrate" {
		return nil
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, continuing without cross-process rate-limit/health coordination", "error", err)
		rdb = nil
	}
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	for _, collector := range telemetry.All() {
		registry.MustRegister(collector)
	}

	d, err := wireDeps(db, rdb, cfg, logger)
	if err != nil {
		return err
	}

	switch cfg.Mode {
	case "worker":
		return runWorker(ctx, d, db, rdb, cfg, registry, logger)
	case "bot":
		return fmt.Errorf("bot mode (chat presentation adapter) is not implemented in this build")
	case "checkup":
		return runCheckup(ctx, d, cfg.AdminUserIDs, logger)
	case "cpf-sweep":
		n, err := d.verificationuc.ProcessExpiredVerifications(ctx)
		if err != nil {
			return err
		}
		logger.Info("cpf sweep complete", "expired", n)
		return nil
	case "export":
		return fmt.Errorf("export mode is not implemented in this build")
	case "integrity-check":
		return fmt.Errorf("integrity-check mode is not implemented in this build")
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// deps holds every collaborator the composition root wires once and hands
// to whichever mode the process runs.
type deps struct {
	ticketuc       *ticketuc.Service
	verificationuc *verificationuc.Service
	adminSvc       *admin.Service
	engine         *engine.Engine
	chat           chatservice.Service
}

func wireDeps(db *sql.DB, rdb *redis.Client, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	sqlxDB := sqlx.NewDb(db, "sqlite")

	tickets := sqlite.NewTicketRepository(sqlxDB)
	verifications := sqlite.NewVerificationRepository(sqlxDB)
	integrations := sqlite.NewIntegrationRepository(sqlxDB)
	invites := sqlite.NewInviteRepository(sqlxDB)
	admins := sqlite.NewAdminRepository(sqlxDB)
	users := sqlite.NewUserRepository(sqlxDB)

	bus := eventbus.New(logger)
	c := cache.New()

	var chat chatservice.Service
	if cfg.TelegramToken != "" {
		chat = slack.New(cfg.TelegramToken)
	}

	hsClient := hubsoft.New(hubsoft.Config{
		Host:               cfg.HubSoftHost,
		ClientID:           cfg.HubSoftClientID,
		ClientSecret:       cfg.HubSoftClientSecret,
		Username:           cfg.HubSoftUser,
		Password:           cfg.HubSoftPassword,
		RateLimitPerSecond: cfg.HubSoftRateLimitPerSecond,
	}, logger)

	groupChatID := int64(0)
	if cfg.TelegramGroupID != "" {
		if n, err := parseInt64(cfg.TelegramGroupID); err == nil {
			groupChatID = n
		} else {
			logger.Warn("TELEGRAM_GROUP_ID is not numeric, admin group actions disabled", "value", cfg.TelegramGroupID)
		}
	}

	tuc := ticketuc.New(tickets, integrations, users, hsClient, bus, logger)
	vuc := verificationuc.New(verifications, users, invites, hsClient, c, bus, chat, groupChatID, logger)
	adminSvc := admin.New(tickets, admins, users, integrations, chat, bus, groupChatID, logger)

	eng := engine.New(integrations, tickets, users, hsClient, rdb, c, bus, engine.Config{
		WorkerCount:  cfg.EngineWorkerCount,
		PollInterval: time.Duration(cfg.EnginePollInterval) * time.Second,
		BatchSize:    cfg.EngineBatchSize,
	}, logger)

	return &deps{
		ticketuc:       tuc,
		verificationuc: vuc,
		adminSvc:       adminSvc,
		engine:         eng,
		chat:           chat,
	}, nil
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// runWorker runs the Integration Engine, the administrator sync loop, the
// 5-minute expired-verification sweep, and the admin HTTP API side by side
// until ctx is cancelled.
func runWorker(ctx context.Context, d *deps, db *sql.DB, rdb *redis.Client, cfg *config.Config, registry *prometheus.Registry, logger *slog.Logger) error {
	go d.adminSvc.SyncLoop(ctx, cfg.AdminUserIDs)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := d.verificationuc.ProcessExpiredVerifications(ctx); err != nil {
					logger.Error("expired verification sweep failed", "error", err)
				}
			}
		}
	}()

	engineErrCh := make(chan error, 1)
	go func() {
		engineErrCh <- d.engine.Run(ctx)
	}()

	srv := httpserver.NewServer(cfg, logger, db, rdb, registry, d.adminSvc)
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("admin http server: %w", err)
			return
		}
		httpErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down admin api", "error", err)
		}
		return nil
	case err := <-engineErrCh:
		return err
	case err := <-httpErrCh:
		return err
	}
}

// runCheckup runs the periodic administrator sync and the expired-
// verification sweep once, then returns — the one-shot equivalent of the
// worker process's background loops, for cron-driven deployments.
func runCheckup(ctx context.Context, d *deps, configuredIDs []int64, logger *slog.Logger) error {
	if err := d.adminSvc.SyncAdministrators(ctx, configuredIDs); err != nil {
		logger.Error("checkup: admin sync failed", "error", err)
	}
	if _, err := d.verificationuc.ProcessExpiredVerifications(ctx); err != nil {
		logger.Error("checkup: expired verification sweep failed", "error", err)
	}
	return nil
}
