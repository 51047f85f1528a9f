package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/andino-erp/andino-erp/internal/agreements"
	"github.com/andino-erp/andino-erp/internal/app"
	"github.com/andino-erp/andino-erp/internal/boleta"
	"github.com/andino-erp/andino-erp/internal/counting"
	"github.com/andino-erp/andino-erp/internal/directory"
	"github.com/andino-erp/andino-erp/internal/notify"
	"github.com/andino-erp/andino-erp/internal/platform/db"
	"github.com/andino-erp/andino-erp/internal/shared"
	"github.com/andino-erp/andino-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)

	directoryRepo := directory.NewRepository(pool)
	directoryService := directory.NewService(directoryRepo, redisClient, cfg.DirectoryCacheTTL, logger)

	var notifier *notify.Notifier
	if !cfg.NotifyDisabled {
		jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Error("init jobs client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobsClient.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		}()
		notifier = notify.NewNotifier(jobsClient, directoryService, cfg.ApproverInbox, logger)
	}

	agreementsRepo := agreements.NewRepository(pool)
	agreementsHandler := agreements.NewHandler(logger, agreementsRepo)

	countingRepo := counting.NewRepository(pool)
	countingService := counting.NewService(countingRepo, directoryService, auditLogger, notifierOrNil(notifier), logger)
	countingHandler := counting.NewHandler(logger, countingService)

	boletaRepo := boleta.NewRepository(pool)
	boletaService := boleta.NewService(boletaRepo, agreementsRepo, directoryService, auditLogger, boletaNotifierOrNil(notifier), logger)
	boletaHandler := boleta.NewHandler(logger, boletaService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AgreementsHandler: agreementsHandler,
		CountingHandler:   countingHandler,
		BoletaHandler:     boletaHandler,
		JobHandler:        jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

// notifierOrNil keeps the service's nil check meaningful when notifications
// are disabled; a typed nil *Notifier inside the interface would defeat it.
func notifierOrNil(n *notify.Notifier) counting.NotifierPort {
	if n == nil {
		return nil
	}
	return n
}

func boletaNotifierOrNil(n *notify.Notifier) boleta.NotifierPort {
	if n == nil {
		return nil
	}
	return n
}
