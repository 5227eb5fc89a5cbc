package cache

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nightscape/holon/holonlog"
)

// InitialSync is one stream's one-shot "bring the cache to the
// provider's current position" step: call Sync once, Ingest whatever
// batches it published, return. A round's streams all run InitialSync
// concurrently; the Coordinator advances to the next round only once
// every stream in the current one has returned, so e.g. an Org-mode
// cache's directories round completes before its files round starts
// referencing directory ids that must already exist.
type InitialSync func(ctx context.Context) error

// Coordinator sequences a set of caches' initial sync across dependency
// rounds (spec.md §4.5: "a single coordinator that awaits each stream in
// dependency order per round"). Grounded on the teacher's worker.Pool,
// which spawns one goroutine per named queue; here one goroutine per
// stream within a round, gated by an errgroup barrier between rounds.
type Coordinator struct {
	rounds [][]InitialSync
}

// NewCoordinator takes rounds in dependency order; streams within the
// same round have no ordering requirement between each other.
func NewCoordinator(rounds ...[]InitialSync) *Coordinator {
	return &Coordinator{rounds: rounds}
}

// Run executes every round's streams concurrently, waiting for a round
// to finish before starting the next. The first stream to fail cancels
// its round's context; Run returns that error and does not start any
// later round.
func (c *Coordinator) Run(ctx context.Context) error {
	log := holonlog.For("cache.coordinator")
	for i, round := range c.rounds {
		g, gctx := errgroup.WithContext(ctx)
		for _, fn := range round {
			fn := fn
			g.Go(func() error { return fn(gctx) })
		}
		if err := g.Wait(); err != nil {
			log.WithError(err).WithField("round", i).Warn("initial sync round failed")
			return err
		}
	}
	return nil
}
