package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/playbook/internal/scheduler"
	mcpserver "github.com/rendis/playbook/pkg/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow tools over MCP stdio and run scheduled workflows",
		Long: `Serve starts the MCP server on stdin/stdout and the cron scheduler.
Logs go to stderr (and log_file when configured); stdout carries the MCP
protocol only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, opts, true, func(a *app) error {
				return serve(ctx, a)
			})
		},
	}
}

func serve(ctx context.Context, a *app) error {
	srv := mcpserver.NewServer(mcpserver.ServerDeps{Service: a.svc, Version: version, Logger: a.logger})

	sched := scheduler.New(a.store, a.svc, scheduler.Config{
		Interval: a.cfg.SchedulerInterval,
		Notifier: mcpserver.NewRunNotifier(srv),
		Logger:   a.logger,
	})
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			a.logger.Warn("scheduler stop failed", "error", err)
		}
	}()

	a.logger.Info("playbook serving on stdio",
		"db_path", a.cfg.DBPath,
		"skills", a.skills.Skills(),
		"learning", a.cfg.LearningEnabled,
	)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
