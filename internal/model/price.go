package model

import "time"

// Condition is a canonical physical-condition bucket.
type Condition string

const (
	ConditionNM  Condition = "NM"  // near mint
	ConditionLP  Condition = "LP"  // lightly played
	ConditionMP  Condition = "MP"  // moderately played
	ConditionHP  Condition = "HP"  // heavily played
	ConditionGRD Condition = "GRD" // professionally graded
)

// Valid reports whether c is one of the canonical buckets.
func (c Condition) Valid() bool {
	switch c {
	case ConditionNM, ConditionLP, ConditionMP, ConditionHP, ConditionGRD:
		return true
	}
	return false
}

// Price source tags used on observations and floors.
const (
	SourceRetail   = "retail"
	SourceMarket   = "market"
	SourceEbaySold = "ebay_sold"
	SourceFused    = "fused"
)

// PriceObservation is one append-only price record for a card/condition from
// a single source. Observations are never updated in place; a retention job
// purges rows older than the configured horizon.
type PriceObservation struct {
	ID         string    `json:"id"`
	CardID     string    `json:"card_id"`
	Condition  Condition `json:"condition"`
	Source     string    `json:"source"`
	Low        float64   `json:"price_low"`
	Mid        float64   `json:"price_mid"`
	High       float64   `json:"price_high"`
	Currency   string    `json:"currency"`
	ObservedAt time.Time `json:"observed_at"`
}

// CardFloor is a derived low-end estimate per source, append-only.
type CardFloor struct {
	ID         string    `json:"id"`
	CardID     string    `json:"card_id"`
	Condition  Condition `json:"condition"`
	Source     string    `json:"source"`
	FloorPrice float64   `json:"floor_price"`
	Currency   string    `json:"currency"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceSample is a single raw price point pulled from a source adapter.
type PriceSample struct {
	Price    float64
	Shipping float64
	Currency string
	// RawCondition is the provider's free-form condition description before
	// bucket mapping. Empty for sources that do not report condition.
	RawCondition string
}

// FusedPrice is the blended output of the fusion engine. It is ephemeral:
// persisted only as a PriceObservation tagged SourceFused.
type FusedPrice struct {
	Low      float64            `json:"low"`
	Mid      float64            `json:"mid"`
	High     float64            `json:"high"`
	Currency string             `json:"currency"`
	// Weights holds the per-component weights actually used, after dropping
	// absent components and renormalizing to sum to 1.
	Weights map[string]float64 `json:"weights"`
}

// PriceErrorEntry is an append-only audit record for rejected or failed
// price updates (anomalies, provider misses).
type PriceErrorEntry struct {
	ID        string    `json:"id"`
	SetCode   string    `json:"set_code"`
	Number    string    `json:"number"`
	Lang      string    `json:"lang"`
	ErrorText string    `json:"error_text"`
	CreatedAt time.Time `json:"created_at"`
}
