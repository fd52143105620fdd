package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/findbot/findbot/pkg/bus"
	"github.com/findbot/findbot/pkg/config"
	"github.com/findbot/findbot/pkg/engine"
	"github.com/findbot/findbot/pkg/journal"
	"github.com/findbot/findbot/pkg/logger"
	"github.com/findbot/findbot/pkg/metrics"
	"github.com/findbot/findbot/pkg/session"
)

// service is everything behind a gateway: sessions, the engine and its
// supporting services.
type service struct {
	cfg     *config.Config
	bus     *bus.MessageBus
	store   *session.Store
	sweeper *session.Sweeper
	journal *journal.Store
	metrics *metrics.Metrics
}

func newService(cfg *config.Config) (*service, error) {
	rt := &service{
		cfg:   cfg,
		bus:   bus.NewMessageBus(cfg.Engine.QueueSize),
		store: session.NewStore(),
	}

	sweeper, err := session.NewSweeper(rt.store, cfg.IdleTTL(), cfg.Sessions.SweepCron)
	if err != nil {
		return nil, err
	}
	rt.sweeper = sweeper

	if cfg.Journal.Enabled {
		js, err := journal.NewStore(cfg.JournalPath())
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.journal = js
	}

	if cfg.Metrics.Enabled {
		rt.metrics = metrics.New(rt.store.Len)
	}
	return rt, nil
}

// start launches the engine, the sweeper and the metrics server on g.
func (rt *service) start(ctx context.Context, g *errgroup.Group, sender engine.Sender, notifier engine.Notifier) *engine.Engine {
	opts := engine.Options{
		QueueSize:    rt.cfg.Engine.QueueSize,
		SendTimeout:  rt.cfg.SendTimeout(),
		DrainTimeout: rt.cfg.DrainTimeout(),
		Notifier:     notifier,
		Metrics:      rt.metrics,
	}
	if rt.journal != nil {
		opts.Journal = rt.journal
	}
	eng := engine.New(rt.bus, rt.store, sender, opts)

	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return rt.sweeper.Run(ctx) })
	if rt.metrics != nil {
		addr := rt.cfg.MetricsAddr()
		g.Go(func() error { return metrics.Serve(ctx, addr, metrics.NewRouter(rt.metrics)) })
	}

	logger.InfoCF("main", "Runtime started", map[string]interface{}{
		"journal": rt.journal != nil,
		"metrics": rt.metrics != nil,
	})
	return eng
}
