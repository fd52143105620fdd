package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/findbot/findbot/pkg/channels"
	"github.com/findbot/findbot/pkg/engine"
	"github.com/findbot/findbot/pkg/logger"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the form over Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newService(cfg)
			if err != nil {
				return err
			}

			tg, err := channels.NewTelegramChannel(cfg.Telegram, rt.bus)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			notifier := engine.MultiNotifier{engine.LogNotifier{}}
			if cfg.Operator.ChatID != "" {
				notifier = append(notifier, engine.NewChatNotifier(tg, cfg.Operator.ChatID, cfg.NotifyCooldown()))
			}

			g, gctx := errgroup.WithContext(ctx)
			if err := tg.Start(gctx); err != nil {
				return err
			}
			rt.start(gctx, g, tg, notifier)

			err = g.Wait()

			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if stopErr := tg.Stop(stopCtx); stopErr != nil {
				logger.WarnCF("main", "Failed to stop telegram channel", map[string]interface{}{"error": stopErr.Error()})
			}
			logger.InfoC("main", "findbot stopped")
			return err
		},
	}
}
