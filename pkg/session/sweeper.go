package session

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/findbot/findbot/pkg/logger"
)

// Sweeper drops sessions idle for longer than ttl on a cron schedule.
type Sweeper struct {
	store *Store
	ttl   time.Duration
	expr  string
	now   func() time.Time
}

func NewSweeper(store *Store, ttl time.Duration, expr string) (*Sweeper, error) {
	gx := gronx.New()
	if !gx.IsValid(expr) {
		return nil, fmt.Errorf("invalid sweep cron expression %q", expr)
	}
	return &Sweeper{store: store, ttl: ttl, expr: expr, now: time.Now}, nil
}

// Sweep removes sessions untouched since now-ttl.
func (sw *Sweeper) Sweep(now time.Time) int {
	if sw.ttl <= 0 {
		return 0
	}
	removed := sw.store.Expire(now.Add(-sw.ttl))
	if removed > 0 {
		logger.InfoCF("session", "Expired idle sessions", map[string]interface{}{
			"removed":   removed,
			"remaining": sw.store.Len(),
			"ttl":       sw.ttl.String(),
		})
	}
	return removed
}

// Run blocks until ctx is done. A zero ttl disables sweeping.
func (sw *Sweeper) Run(ctx context.Context) error {
	if sw.ttl <= 0 {
		logger.InfoC("session", "Idle session expiry disabled")
		<-ctx.Done()
		return nil
	}

	logger.InfoCF("session", "Session sweeper started", map[string]interface{}{
		"cron": sw.expr,
		"ttl":  sw.ttl.String(),
	})

	for {
		next, err := gronx.NextTickAfter(sw.expr, sw.now(), false)
		if err != nil {
			return fmt.Errorf("next sweep tick: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			sw.Sweep(sw.now())
		}
	}
}
