package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/findbot/findbot/pkg/channels"
	"github.com/findbot/findbot/pkg/engine"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Walk through the form in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newService(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			console := channels.NewConsoleChannel(rt.bus)
			g, gctx := errgroup.WithContext(ctx)
			rt.start(gctx, g, console, engine.LogNotifier{})

			g.Go(func() error {
				defer cancel()
				return console.Run(gctx)
			})
			return g.Wait()
		},
	}
}
