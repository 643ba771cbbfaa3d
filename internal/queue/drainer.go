package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grookai/vault-engine/internal/model"
	"github.com/grookai/vault-engine/internal/store"
)

// DrainerConfig tunes the worker pool.
type DrainerConfig struct {
	// Workers bounds concurrent item execution. Default: 2.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// Lease is how long a claimed item may stay in processing before a drain
	// reclaims it. Default: 10m.
	Lease time.Duration `yaml:"lease" mapstructure:"lease"`
}

// Drainer claims and executes queued work. Batches run on a bounded worker
// pool; each item's failure is isolated and turned into a scheduled retry,
// never an aborted batch.
type Drainer struct {
	store    store.Store
	registry *Registry
	importer *Importer
	workers  int
	lease    time.Duration
}

// NewDrainer wires a drainer over the store, the job registry, and the
// catalog importer.
func NewDrainer(st store.Store, reg *Registry, imp *Importer, cfg DrainerConfig) *Drainer {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	return &Drainer{
		store:    st,
		registry: reg,
		importer: imp,
		workers:  cfg.Workers,
		lease:    cfg.Lease,
	}
}

// DrainImports claims up to limit catalog import items and executes them.
// Counts are always returned, even when items failed.
func (d *Drainer) DrainImports(ctx context.Context, limit int) (model.DrainCounts, error) {
	var counts model.DrainCounts
	d.reclaim(ctx)

	items, err := d.store.ClaimImports(ctx, limit)
	if err != nil {
		return counts, err
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			res, execErr := d.importer.Execute(ctx, item.Identity())
			if execErr != nil {
				retryAt := NextRetry(time.Now().UTC(), item.Retries+1)
				if err := d.store.FailImport(ctx, item.ID, execErr.Error(), retryAt); err != nil {
					zap.L().Error("record import failure",
						zap.String("id", item.ID), zap.Error(err))
				}
				zap.L().Warn("catalog import failed",
					zap.String("id", item.ID),
					zap.String("set", item.SetCode),
					zap.String("number", item.Number),
					zap.Int("retries", item.Retries+1),
					zap.Error(execErr))
				mu.Lock()
				counts.Processed++
				counts.Failed++
				mu.Unlock()
				return nil
			}

			if err := d.store.CompleteImport(ctx, item.ID); err != nil {
				zap.L().Error("complete import",
					zap.String("id", item.ID), zap.Error(err))
			}
			mu.Lock()
			counts.Processed++
			counts.Succeeded++
			counts.PriceErrors += res.PriceErrors
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return counts, nil
}

// DrainJobs claims up to limit generic work items and dispatches them to
// their handlers.
func (d *Drainer) DrainJobs(ctx context.Context, limit int) (model.DrainCounts, error) {
	var counts model.DrainCounts
	d.reclaim(ctx)

	items, err := d.store.ClaimJobs(ctx, limit)
	if err != nil {
		return counts, err
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			execErr := d.registry.Dispatch(ctx, item)
			if execErr != nil {
				retryAt := NextRetry(time.Now().UTC(), item.Attempts+1)
				if err := d.store.FailJob(ctx, item.ID, execErr.Error(), retryAt); err != nil {
					zap.L().Error("record job failure",
						zap.String("id", item.ID), zap.Error(err))
				}
				zap.L().Warn("job failed",
					zap.String("id", item.ID),
					zap.String("name", string(item.Name)),
					zap.Int("attempts", item.Attempts+1),
					zap.Error(execErr))
				mu.Lock()
				counts.Processed++
				counts.Failed++
				mu.Unlock()
				return nil
			}

			if err := d.store.CompleteJob(ctx, item.ID); err != nil {
				zap.L().Error("complete job",
					zap.String("id", item.ID), zap.Error(err))
			}
			mu.Lock()
			counts.Processed++
			counts.Succeeded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return counts, nil
}

// reclaim sweeps both queues for items stuck past the lease. Failures are
// logged and ignored; a missed sweep only delays recovery until the next
// drain.
func (d *Drainer) reclaim(ctx context.Context) {
	n, err := d.store.ReclaimStale(ctx, d.lease)
	if err != nil {
		zap.L().Warn("reclaim sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("reclaimed stale queue items", zap.Int("count", n))
	}
}
