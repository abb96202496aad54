package sweeper

import (
	"context"
	"time"

	"canvasrelay/internal/canvasstate"
	"canvasrelay/internal/registry"

	"go.uber.org/zap"
)

// Config holds the eviction cadence and age thresholds.
type Config struct {
	Interval    time.Duration
	RoomMaxAge  time.Duration
	StateMaxAge time.Duration
}

// Run starts the periodic eviction loop: every tick, empty rooms past their
// inactivity age and canvas states past their write age are dropped. Both
// sweeps re-verify staleness at delete time, so running next to live
// connection handling is safe.
func Run(ctx context.Context, reg *registry.Registry, store *canvasstate.Store, cfg Config) {
	tk := time.NewTicker(cfg.Interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				sweepOnce(reg, store, cfg)
			}
		}
	}()
}

func sweepOnce(reg *registry.Registry, store *canvasstate.Store, cfg Config) {
	rooms := reg.SweepInactive(cfg.RoomMaxAge)
	states := store.Sweep(cfg.StateMaxAge)
	if rooms > 0 || states > 0 {
		zap.L().Info("sweep.done",
			zap.Int("rooms", rooms),
			zap.Int("states", states),
		)
	}
}
