package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/ff7link"
)

type ServeFlags struct {
	ConfigPath string
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the ff7link bridge",
		Long: `Run the bridge: watch for the game, serve the HTTP API and check for
updates once in the background. Without a config file the built-in defaults
are used.

Examples:
  ff7link serve
  ff7link serve ff7link.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, serveFlags)
		},
	}
	return cmd
}

func runServe(ctx context.Context, flags *ServeFlags, opts ...ff7link.Option) error {
	cfg, err := ff7link.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log := cfg.Log.NewSlogger()
	slog.SetDefault(log)
	app, err := ff7link.New(cfg, append([]ff7link.Option{ff7link.WithLogger(log)}, opts...)...)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		_ = app.Close()
		return err
	}
	<-ctx.Done()
	return app.Close()
}
