package rewardd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"rewardledger/config"
	"rewardledger/observability/logging"
	telemetry "rewardledger/observability/otel"
	"rewardledger/storage"
)

// Main initialises and runs the reward ledger daemon.
func Main() error {
	var (
		cfgPath string
		reset   bool
	)
	flag.StringVar(&cfgPath, "config", "services/rewardd/config.yaml", "path to rewardd configuration")
	flag.BoolVar(&reset, "reset-snapshots", false, "discard persisted engine state and deploy fresh engines")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("REWARDS_ENV"))
	level, _ := parseLevel(cfg.Log.Level)
	logger, logCloser := logging.SetupWithOptions("rewardd", env, logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "rewardd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	ledgerCfg, err := config.Load(cfg.LedgerConfig)
	if err != nil {
		return fmt.Errorf("load ledger config: %w", err)
	}

	var store storage.Database
	if cfg.Persist {
		db, err := storage.NewLevelDB(filepath.Join(ledgerCfg.DataDir, "snapshots"))
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		defer db.Close()
		store = db
	}
	if reset {
		if err := ResetSnapshots(store, logger); err != nil {
			return err
		}
	}

	auditDB, err := OpenAuditDB(cfg.Audit)
	if err != nil {
		return fmt.Errorf("open audit db: %w", err)
	}
	audit, err := NewAuditLog(auditDB, clockwork.NewRealClock())
	if err != nil {
		return err
	}
	logger.Info("audit store opened",
		slog.String("driver", cfg.Audit.Driver),
		logging.MaskField("dsn", cfg.Audit.DSN))

	hub := NewHub(cfg.EventBuffer)
	ledger, err := OpenLedger(ledgerCfg, store, hub, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}
	srv, err := NewServer(ServerConfig{
		Ledger:       ledger,
		Auth:         auth,
		Limiter:      NewRateLimiter(cfg.RateLimit, clockwork.NewRealClock()),
		Audit:        audit,
		Hub:          hub,
		Logger:       logger,
		WriteTimeout: cfg.WriteTimeout.Duration,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("rewardd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("push", ledger.Push().Address().Hex()),
			slog.String("pull", ledger.Pull().Address().Hex()))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
