package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/auth"
	"github.com/franckalain/fruitbeast/internal/logstore"
	"github.com/franckalain/fruitbeast/internal/scheduler"
	"github.com/franckalain/fruitbeast/internal/server"
	"github.com/franckalain/fruitbeast/internal/session"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(parent context.Context, cc *commandContext) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := cc.config
	logger := cc.log()
	defer logger.Sync()

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := cc.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	model, err := cc.openModel(ctx)
	if err != nil {
		return err
	}
	defer model.Close()

	if !cfg.Auth.Enabled {
		logger.Warn("auth disabled, every request runs as the demo user")
	}

	srv := server.New(cfg.Server,
		session.NewManager(model, db, logger),
		logstore.New(db, logger),
		auth.NewService(cfg.Auth, db, logger),
		logger)

	if cfg.Reminders.Enabled {
		sched, err := scheduler.New(cfg.Reminders.Timezone, logger)
		if err != nil {
			return err
		}
		if err := sched.AddJob("reminder", cfg.Reminders.Schedule, srv.SendReminders); err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	logger.Info("fruitbeast starting",
		zap.String("model", cfg.ML.Type),
		zap.String("database", cfg.Database.Driver))
	return srv.Run(ctx)
}
