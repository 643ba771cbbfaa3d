package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grookai/vault-engine/internal/model"
	"github.com/grookai/vault-engine/pkg/justtcg"
)

// RetailSource supplies retail listing prices for a card print.
type RetailSource interface {
	RetailSamples(ctx context.Context, ident model.Identity) ([]model.PriceSample, error)
}

// QuoteSource supplies the retail provider's own low/mid/high summary. A
// retail source that also implements it seeds the blend's baseline component
// when no stored fused mid is fresh enough.
type QuoteSource interface {
	Quote(ctx context.Context, ident model.Identity) (*justtcg.Quote, error)
}

// MarketSource supplies peer-marketplace listings and sold comps.
type MarketSource interface {
	ActiveListings(ctx context.Context, ident model.Identity) ([]model.PriceSample, error)
	SoldListings(ctx context.Context, ident model.Identity) ([]model.PriceSample, error)
}

// Store is the slice of persistence the engine needs.
type Store interface {
	InsertCardFloor(ctx context.Context, floor model.CardFloor) error
	InsertPriceObservation(ctx context.Context, obs model.PriceObservation) error
	// LatestFusedMid returns the most recent fused mid for the card and
	// condition no older than maxAge, or nil when none exists. maxAge <= 0
	// applies no age bound.
	LatestFusedMid(ctx context.Context, cardID string, cond model.Condition, maxAge time.Duration) (*float64, error)
	LogPriceError(ctx context.Context, entry model.PriceErrorEntry) error
}

// EngineConfig carries the tunables for a price engine.
type EngineConfig struct {
	Currency    string
	Weights     Weights
	Guard       Guard
	BaselineAge time.Duration
	Converter   Converter
}

// DefaultEngineConfig returns USD pricing with the standard weights, guard
// thresholds, and a 7-day baseline freshness window.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Currency:    "USD",
		Weights:     DefaultWeights(),
		Guard:       DefaultGuard(),
		BaselineAge: 7 * 24 * time.Hour,
	}
}

// Engine computes per-source floors and fused prices for card prints.
type Engine struct {
	retail RetailSource
	market MarketSource
	store  Store
	cfg    EngineConfig

	nowFunc func() time.Time
}

// NewEngine wires an engine from its sources and store. Either source may be
// nil; the engine fuses whatever evidence remains.
func NewEngine(retail RetailSource, market MarketSource, store Store, cfg EngineConfig) *Engine {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Guard == (Guard{}) {
		cfg.Guard = DefaultGuard()
	}
	if cfg.BaselineAge <= 0 {
		cfg.BaselineAge = 7 * 24 * time.Hour
	}
	return &Engine{
		retail:  retail,
		market:  market,
		store:   store,
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// FloorResult reports the per-source floors computed for one card/condition.
type FloorResult struct {
	RetailFloor   *float64 `json:"retail_floor,omitempty"`
	MarketFloor   *float64 `json:"market_floor,omitempty"`
	RetailSamples int      `json:"retail_samples"`
	MarketSamples int      `json:"market_samples"`
	Currency      string   `json:"currency"`
}

// ComputeFloors queries both sources and derives 10th-percentile floors for
// the requested condition. Floors are persisted best-effort: a storage
// failure is logged but does not fail the computation.
func (e *Engine) ComputeFloors(ctx context.Context, cardID string, ident model.Identity, cond model.Condition) (FloorResult, error) {
	res := FloorResult{Currency: e.cfg.Currency}

	if e.retail != nil {
		samples, err := e.retail.RetailSamples(ctx, ident)
		if err != nil {
			return res, eris.Wrap(err, "pricing: retail samples")
		}
		prices := EffectivePrices(samples, e.cfg.Currency, e.cfg.Converter)
		res.RetailSamples = len(prices)
		if floor, ok := FloorP10(prices); ok {
			res.RetailFloor = &floor
			e.persistFloor(ctx, cardID, cond, model.SourceRetail, floor)
		}
	}

	if e.market != nil {
		samples, err := e.market.ActiveListings(ctx, ident)
		if err != nil {
			return res, eris.Wrap(err, "pricing: market listings")
		}
		samples = FilterByCondition(samples, cond)
		prices := EffectivePrices(samples, e.cfg.Currency, e.cfg.Converter)
		res.MarketSamples = len(prices)
		if floor, ok := FloorP10(prices); ok {
			res.MarketFloor = &floor
			e.persistFloor(ctx, cardID, cond, model.SourceMarket, floor)
		}
	}

	if res.RetailFloor == nil && res.MarketFloor == nil {
		return res, ErrNoSources
	}
	return res, nil
}

// SoldStats summarizes recent sold comps for a card/condition.
type SoldStats struct {
	Count    int      `json:"count"`
	Avg      *float64 `json:"avg,omitempty"`
	P10      *float64 `json:"p10,omitempty"`
	P90      *float64 `json:"p90,omitempty"`
	Currency string   `json:"currency"`
}

// SoldComps fetches sold listings from the marketplace source and summarizes
// them. A summary observation is recorded best-effort.
func (e *Engine) SoldComps(ctx context.Context, cardID string, ident model.Identity, cond model.Condition) (SoldStats, error) {
	stats := SoldStats{Currency: e.cfg.Currency}
	if e.market == nil {
		return stats, nil
	}

	samples, err := e.market.SoldListings(ctx, ident)
	if err != nil {
		return stats, eris.Wrap(err, "pricing: sold listings")
	}
	samples = FilterByCondition(samples, cond)
	prices := EffectivePrices(samples, e.cfg.Currency, e.cfg.Converter)
	stats.Count = len(prices)

	if avg, ok := Mean(prices); ok {
		stats.Avg = &avg
	}
	if p10, ok := FloorP10(prices); ok {
		stats.P10 = &p10
	}
	if p90, ok := CeilP90(prices); ok {
		stats.P90 = &p90
	}

	if stats.Avg != nil {
		obs := model.PriceObservation{
			CardID:     cardID,
			Condition:  cond,
			Source:     model.SourceEbaySold,
			Low:        derefOr(stats.P10, *stats.Avg),
			Mid:        *stats.Avg,
			High:       derefOr(stats.P90, *stats.Avg),
			Currency:   e.cfg.Currency,
			ObservedAt: e.nowFunc(),
		}
		if err := e.store.InsertPriceObservation(ctx, obs); err != nil {
			zap.L().Warn("sold observation insert failed",
				zap.String("card_id", cardID),
				zap.Error(err))
		}
	}
	return stats, nil
}

// RefreshOutcome reports what a price refresh did. Rejected outcomes carry
// the anomaly delta and are not persisted; the caller decides whether a
// rejection counts as a failure.
type RefreshOutcome struct {
	Fused        model.FusedPrice `json:"fused"`
	Persisted    bool             `json:"persisted"`
	Rejected     bool             `json:"rejected"`
	AnomalyDelta *float64         `json:"anomaly_delta,omitempty"`
}

// RefreshPrice runs the full fusion pipeline for one card/condition: gather
// floors and sold comps, load the prior fused mid as baseline, blend, apply
// the anomaly guard, and persist the fused observation when accepted.
func (e *Engine) RefreshPrice(ctx context.Context, cardID string, ident model.Identity, cond model.Condition) (RefreshOutcome, error) {
	var out RefreshOutcome

	floors, err := e.ComputeFloors(ctx, cardID, ident, cond)
	if err != nil && !eris.Is(err, ErrNoSources) {
		return out, err
	}

	sold, err := e.SoldComps(ctx, cardID, ident, cond)
	if err != nil {
		zap.L().Warn("sold comps unavailable",
			zap.String("card_id", cardID),
			zap.Error(err))
		sold = SoldStats{Currency: e.cfg.Currency}
	}

	baseline, err := e.store.LatestFusedMid(ctx, cardID, cond, e.cfg.BaselineAge)
	if err != nil {
		return out, eris.Wrap(err, "pricing: load baseline")
	}

	// The guard compares against the most recent stored mid regardless of
	// age; only the blend's baseline component demands a fresh one.
	prior := baseline
	if prior == nil {
		prior, err = e.store.LatestFusedMid(ctx, cardID, cond, 0)
		if err != nil {
			return out, eris.Wrap(err, "pricing: load prior mid")
		}
	}

	// No fresh stored mid: the provider's own quote can seed the baseline.
	if baseline == nil {
		if qs, ok := e.retail.(QuoteSource); ok {
			quote, qerr := qs.Quote(ctx, ident)
			if qerr != nil {
				zap.L().Warn("retail quote unavailable",
					zap.String("card_id", cardID),
					zap.Error(qerr))
			} else if quote != nil && quote.Mid > 0 {
				baseline = &quote.Mid
			}
		}
	}

	fused, err := Fuse(Components{
		RetailFloor: floors.RetailFloor,
		MarketFloor: floors.MarketFloor,
		SoldAvg:     sold.Avg,
		SoldP10:     sold.P10,
		SoldP90:     sold.P90,
		Baseline:    baseline,
	}, e.cfg.Weights, e.cfg.Currency)
	if err != nil {
		return out, err
	}
	out.Fused = fused

	delta, ok := e.cfg.Guard.Check(prior, fused.Mid)
	if !ok {
		out.Rejected = true
		out.AnomalyDelta = &delta
		e.logPriceError(ctx, ident, anomalyMessage(delta, derefOr(prior, 0), fused.Mid))
		zap.L().Warn("fused price rejected by anomaly guard",
			zap.String("card_id", cardID),
			zap.Float64("prev_mid", derefOr(prior, 0)),
			zap.Float64("new_mid", fused.Mid),
			zap.Float64("delta", delta))
		return out, nil
	}
	if prior != nil {
		out.AnomalyDelta = &delta
	}

	obs := model.PriceObservation{
		CardID:     cardID,
		Condition:  cond,
		Source:     model.SourceFused,
		Low:        fused.Low,
		Mid:        fused.Mid,
		High:       fused.High,
		Currency:   fused.Currency,
		ObservedAt: e.nowFunc(),
	}
	if err := e.store.InsertPriceObservation(ctx, obs); err != nil {
		return out, eris.Wrap(err, "pricing: persist fused price")
	}
	out.Persisted = true
	return out, nil
}

func (e *Engine) persistFloor(ctx context.Context, cardID string, cond model.Condition, source string, floor float64) {
	err := e.store.InsertCardFloor(ctx, model.CardFloor{
		CardID:     cardID,
		Condition:  cond,
		Source:     source,
		FloorPrice: floor,
		Currency:   e.cfg.Currency,
		ObservedAt: e.nowFunc(),
	})
	if err != nil {
		zap.L().Warn("floor insert failed",
			zap.String("card_id", cardID),
			zap.String("source", source),
			zap.Error(err))
	}
}

func (e *Engine) logPriceError(ctx context.Context, ident model.Identity, msg string) {
	err := e.store.LogPriceError(ctx, model.PriceErrorEntry{
		SetCode:   ident.SetCode,
		Number:    ident.Number,
		Lang:      ident.Lang,
		ErrorText: msg,
		CreatedAt: e.nowFunc(),
	})
	if err != nil {
		zap.L().Warn("price error log failed", zap.Error(err))
	}
}

func anomalyMessage(delta, prev, next float64) string {
	return fmt.Sprintf("anomaly: mid moved %.0f%% (prev %.2f, next %.2f)", delta*100, prev, next)
}
