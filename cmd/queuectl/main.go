package main

import (
	"fmt"
	"os"

	"terraintake/internal/config"
	"terraintake/internal/database"
	"terraintake/internal/logging"
	"terraintake/internal/notification"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// env is what the queue commands operate on.
type env struct {
	cfg   *config.Config
	queue *notification.Queue
	close func()
}

// opener builds an env. Tests swap it for an in-memory database.
type opener func(cmd *cobra.Command) (*env, error)

func openFromConfig(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.App.Debug)
	logger.SetOutput(cmd.ErrOrStderr())

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	transport, err := notification.NewTransport(cfg.Email, cfg.Notification.FromName, logger)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	if transport == nil {
		logger.WithField("component", "QUEUECTL").Warn("EMAIL_PROVIDER not set: deliveries will fail")
	}

	return &env{
		cfg:   cfg,
		queue: notification.NewQueue(db, transport, notification.Options{From: cfg.Notification.FromEmail, Logger: logger}),
		close: func() { _ = database.Close(db) },
	}, nil
}

func newRootCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "Inspect and operate the outbound email queue",
		Long:          "queuectl drains, retries and reports on the durable notification queue, and mints operator tokens for the API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDrainCmd(open, config.Load))
	cmd.AddCommand(newRetryCmd(open))
	cmd.AddCommand(newStatsCmd(open))
	cmd.AddCommand(newListCmd(open))
	cmd.AddCommand(newTokenCmd(config.Load))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "queuectl %s (commit: %s)\n", Version, Commit)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		logrus.WithField("component", "QUEUECTL").Error(err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd(openFromConfig)))
}
