package pricing

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/grookai/vault-engine/internal/model"
)

// ErrNoSources means no component carried a usable price, so nothing can be
// fused.
var ErrNoSources = eris.New("pricing: no price sources available")

// Weights are the blend weights applied to the components that are present.
// Absent components give up their weight to the rest via renormalization.
type Weights struct {
	Retail   float64
	Market   float64
	Baseline float64
}

// DefaultWeights favors retail floors, then live marketplace comps, then the
// prior fused baseline.
func DefaultWeights() Weights {
	return Weights{Retail: 0.45, Market: 0.35, Baseline: 0.20}
}

// Components holds the per-source inputs to a fusion. Nil fields mean the
// source produced nothing for this card.
type Components struct {
	RetailFloor *float64
	MarketFloor *float64
	SoldAvg     *float64
	SoldP10     *float64
	SoldP90     *float64
	Baseline    *float64
}

// Fuse blends the present components into a low/mid/high triple.
//
// Mid is the weighted average of retail floor, market evidence, and baseline,
// with weights renormalized over whichever components are present. Market
// evidence prefers the sold-comp average and falls back to the live market
// floor. Low is the cheapest credible acquisition price across floors and
// sold p10; high is sold p90 when available, otherwise 15% above the best
// observed value.
func Fuse(c Components, w Weights, currency string) (model.FusedPrice, error) {
	market := c.SoldAvg
	if market == nil {
		market = c.MarketFloor
	}

	type part struct {
		name   string
		value  *float64
		weight float64
	}
	parts := []part{
		{name: "retail", value: c.RetailFloor, weight: w.Retail},
		{name: "market", value: market, weight: w.Market},
		{name: "baseline", value: c.Baseline, weight: w.Baseline},
	}

	var total float64
	for _, p := range parts {
		if p.value != nil && isFinite(*p.value) {
			total += p.weight
		}
	}
	if total <= 0 {
		return model.FusedPrice{}, ErrNoSources
	}

	var mid float64
	applied := make(map[string]float64, len(parts))
	for _, p := range parts {
		if p.value == nil || !isFinite(*p.value) {
			continue
		}
		norm := p.weight / total
		mid += *p.value * norm
		applied[p.name] = norm
	}

	low := minPresent(c.RetailFloor, c.MarketFloor, c.SoldP10)
	if low == nil {
		low = &mid
	}

	var high float64
	if c.SoldP90 != nil && isFinite(*c.SoldP90) {
		high = *c.SoldP90
	} else {
		high = 1.15 * maxOf(mid, derefOr(c.RetailFloor, 0), derefOr(c.MarketFloor, 0))
	}
	if high < mid {
		high = mid
	}
	lowV := math.Min(*low, mid)

	return model.FusedPrice{
		Low:      round2(lowV),
		Mid:      round2(mid),
		High:     round2(high),
		Currency: currency,
		Weights:  applied,
	}, nil
}

func minPresent(vals ...*float64) *float64 {
	var best *float64
	for _, v := range vals {
		if v == nil || !isFinite(*v) {
			continue
		}
		if best == nil || *v < *best {
			best = v
		}
	}
	return best
}

func maxOf(vals ...float64) float64 {
	best := vals[0]
	for _, v := range vals[1:] {
		if v > best {
			best = v
		}
	}
	return best
}

func derefOr(v *float64, fallback float64) float64 {
	if v == nil || !isFinite(*v) {
		return fallback
	}
	return *v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
