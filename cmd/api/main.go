package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"terraintake/internal/config"
	"terraintake/internal/database"
	"terraintake/internal/logging"
	"terraintake/internal/notification"
	"terraintake/internal/server"
	"terraintake/internal/services"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	readTimeout     = 15 * time.Second
	writeTimeout    = 15 * time.Second
	idleTimeout     = 60 * time.Second
)

func main() {
	if err := run(); err != nil {
		logrus.WithField("component", "API").WithError(err).Error("API exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger := logging.New(cfg.App.Debug)
	log := logging.Component(logger, "API")
	log.WithFields(logrus.Fields{
		"version": cfg.App.Version,
		"debug":   cfg.App.Debug,
		"port":    cfg.App.Port,
		"host":    cfg.App.Host,
	}).Infof("Starting %s", cfg.App.Name)

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		log.Info("Closing database connections...")
		if err := database.Close(db); err != nil {
			log.WithError(err).Warn("Error closing database")
		}
	}()

	transport, err := notification.NewTransport(cfg.Email, cfg.Notification.FromName, logger)
	if err != nil {
		return fmt.Errorf("failed to configure email transport: %w", err)
	}
	if transport == nil {
		log.Warn("EMAIL_PROVIDER not set: queued messages will be marked failed until a transport is configured")
	}

	log.Info("Initializing services...")
	queue := notification.NewQueue(db, transport, notification.Options{From: cfg.Notification.FromEmail, Logger: logger})
	handler := server.New(server.Deps{
		Config:    cfg,
		Inquiries: services.NewInquiryService(db, queue, cfg.Notification, logger),
		Quotes:    services.NewQuoteService(db, queue, cfg.Notification, logger),
		Queue:     queue,
		Health:    services.NewHealthService(db, queue, cfg.App.Name, cfg.App.Version, logger),
		Logger:    logger,
	})
	scheduler := notification.NewScheduler(queue, notification.SchedulerConfig{
		DrainInterval: cfg.Notification.DrainInterval,
		SweepInterval: cfg.Notification.SweepInterval,
		BatchSize:     cfg.Notification.BatchSize,
	}, logger)

	addr := fmt.Sprintf("%s:%s", cfg.App.Host, cfg.App.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		ErrorLog:     stdlog.New(logger.WriterLevel(logrus.ErrorLevel), "", 0),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", addr).Info("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		log.Info("Starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// let an in-flight drain finish recording its outcomes
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn("Drain still running at shutdown timeout")
		}

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Error during graceful shutdown, forcing close")
			_ = httpServer.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server shutdown complete")
	return nil
}

// validateConfig rejects settings that are only acceptable in development.
func validateConfig(cfg *config.Config) error {
	if cfg.Auth.SecretKey == "" || cfg.Auth.SecretKey == config.DefaultSecretKey {
		return fmt.Errorf("SECRET_KEY must be set and changed from default value")
	}
	if len(cfg.Auth.SecretKey) < 32 {
		return fmt.Errorf("SECRET_KEY must be at least 32 characters for security")
	}
	return nil
}
