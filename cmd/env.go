package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grookai/vault-engine/internal/pricing"
	"github.com/grookai/vault-engine/internal/queue"
	"github.com/grookai/vault-engine/internal/resilience"
	"github.com/grookai/vault-engine/internal/scan"
	"github.com/grookai/vault-engine/internal/source"
	"github.com/grookai/vault-engine/internal/store"
	"github.com/grookai/vault-engine/pkg/ebay"
	"github.com/grookai/vault-engine/pkg/justtcg"
	"github.com/grookai/vault-engine/pkg/tcgdex"
)

// env carries the wired pipeline for one command invocation.
type env struct {
	store      store.Store
	catalog    *source.Catalog
	engine     *pricing.Engine
	drainer    *queue.Drainer
	identifier *scan.Identifier
}

func initStore(ctx context.Context) (store.Store, error) {
	queueCfg := store.QueueConfig{
		MaxAttempts:  cfg.Queue.MaxAttempts,
		LeaseTimeout: cfg.Queue.Lease,
	}
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.Path, queueCfg)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}, queueCfg)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv builds the full pipeline: store, source adapters behind circuit
// breakers, fusion engine, importer, job handlers, and drainer.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewSourceBreakers(resilience.DefaultCircuitBreakerConfig())

	catalog := source.NewCatalog(tcgdex.NewClient(
		tcgdex.WithBaseURL(cfg.TCGdex.BaseURL),
		tcgdex.WithRateLimit(cfg.TCGdex.RatePerSec, cfg.TCGdex.Burst),
	), breakers)

	retail := source.NewRetail(justtcg.NewClient(cfg.JustTCG.Key,
		justtcg.WithBaseURL(cfg.JustTCG.BaseURL),
	), breakers)

	market := source.NewMarket(ebay.NewClient(cfg.EBay.Token,
		ebay.WithBaseURL(cfg.EBay.BaseURL),
		ebay.WithMarketplace(cfg.EBay.Marketplace),
	), st, cfg.EBay.SearchLimit, breakers)

	engine := pricing.NewEngine(retail, market, st, pricing.EngineConfig{
		Currency: cfg.Pricing.Currency,
		Weights: pricing.Weights{
			Retail:   cfg.Pricing.RetailWeight,
			Market:   cfg.Pricing.MarketWeight,
			Baseline: cfg.Pricing.BaselineWeight,
		},
		Guard: pricing.Guard{
			MaxRise: cfg.Pricing.MaxRise,
			MaxDrop: cfg.Pricing.MaxDrop,
		},
		BaselineAge: cfg.Pricing.BaselineAge,
	})

	importer := queue.NewImporter(catalog, st, engine)
	registry := queue.NewHandlers(st, catalog, importer, engine)
	drainer := queue.NewDrainer(st, registry, importer, queue.DrainerConfig{
		Workers: cfg.Queue.Workers,
		Lease:   cfg.Queue.Lease,
	})

	return &env{
		store:      st,
		catalog:    catalog,
		engine:     engine,
		drainer:    drainer,
		identifier: scan.NewIdentifier(cfg.Scan.MaxInflight),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
