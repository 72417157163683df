package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridhaus/leadflow/internal/channels"
	"github.com/gridhaus/leadflow/internal/conditions"
	"github.com/gridhaus/leadflow/internal/engine"
	"github.com/gridhaus/leadflow/internal/logging"
	"github.com/gridhaus/leadflow/internal/scheduler"
	"github.com/gridhaus/leadflow/internal/server"
	"github.com/gridhaus/leadflow/internal/store"
	"github.com/gridhaus/leadflow/internal/streaming"
	"github.com/gridhaus/leadflow/internal/validation"
)

func main() {
	if err := run(); err != nil {
		slog.Error("leadflow exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(leadflowDir(), 0o755); err != nil {
		return err
	}

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	evaluator, err := conditions.NewEvaluator(logger)
	if err != nil {
		return err
	}
	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}

	senders := channels.NewRegistry()
	if cfg.TelegramToken != "" {
		tg, err := channels.NewTelegramSender(cfg.TelegramToken)
		if err != nil {
			return err
		}
		if err := senders.Register(tg); err != nil {
			return err
		}
	}
	if cfg.DiscordToken != "" {
		dc, err := channels.NewDiscordSender(cfg.DiscordToken)
		if err != nil {
			return err
		}
		if err := senders.Register(dc); err != nil {
			return err
		}
	}
	logger.Info("channel senders registered", slog.Any("channels", senders.Channels()))

	hub := streaming.NewMemoryHub()
	eng := engine.New(st, evaluator, senders, hub, logger, engine.Config{
		PoolSize:       cfg.PoolSize,
		SweepBatchSize: cfg.SweepBatchSize,
	})
	defer eng.Shutdown()

	sched := scheduler.NewScheduler(st, eng, cfg.sweepInterval(), logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	srv := server.NewServer(server.Deps{
		Store:     st,
		Engine:    eng,
		Hub:       hub,
		Validator: validator,
		Logger:    logger,
	})
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
