package pricing

import (
	"math"
	"sort"
	"strings"

	"github.com/grookai/vault-engine/internal/model"
)

// Converter converts an amount in the given currency to the target currency.
// Wired from config; nil means no converter is available.
type Converter func(amount float64, currency string) (float64, error)

// ToCurrency normalizes an amount to the target currency. Pass-through when
// already in target. When no converter is available (or conversion fails),
// the amount is treated as already converted — a documented approximation,
// not a correctness guarantee.
func ToCurrency(amount float64, currency, target string, conv Converter) float64 {
	if !isFinite(amount) {
		return 0
	}
	cur := strings.ToUpper(currency)
	if cur == "" || cur == strings.ToUpper(target) {
		return amount
	}
	if conv != nil {
		if v, err := conv(amount, cur); err == nil {
			return v
		}
	}
	return amount
}

// EffectivePrice is the all-in cost of a listing: price plus shipping,
// never negative. Missing shipping is treated as zero.
func EffectivePrice(price, shipping float64) float64 {
	if !isFinite(price) {
		return 0
	}
	if !isFinite(shipping) {
		shipping = 0
	}
	return math.Max(0, price+shipping)
}

// FloorP10 computes the 10th-percentile floor with a small-sample guard:
// fewer than 5 valid samples uses the minimum observed value, otherwise the
// value at index floor(n*0.10)-1 (clamped to >= 0) of the ascending sort.
func FloorP10(samples []float64) (float64, bool) {
	vals := validSorted(samples)
	if len(vals) == 0 {
		return 0, false
	}
	if len(vals) < 5 {
		return vals[0], true
	}
	idx := int(math.Floor(float64(len(vals))*0.10)) - 1
	if idx < 0 {
		idx = 0
	}
	return vals[idx], true
}

// CeilP90 is the 90th-percentile analogue used for the high bound.
func CeilP90(samples []float64) (float64, bool) {
	vals := validSorted(samples)
	if len(vals) == 0 {
		return 0, false
	}
	idx := int(math.Floor(float64(len(vals))*0.90)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(vals)-1 {
		idx = len(vals) - 1
	}
	return vals[idx], true
}

// Mean returns the arithmetic mean of the valid samples.
func Mean(samples []float64) (float64, bool) {
	var sum float64
	var n int
	for _, v := range samples {
		if isFinite(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// EffectivePrices converts listing samples into all-in prices in the target
// currency.
func EffectivePrices(samples []model.PriceSample, target string, conv Converter) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		price := ToCurrency(s.Price, s.Currency, target, conv)
		out = append(out, EffectivePrice(price, s.Shipping))
	}
	return out
}

func validSorted(samples []float64) []float64 {
	vals := make([]float64, 0, len(samples))
	for _, v := range samples {
		if isFinite(v) {
			vals = append(vals, v)
		}
	}
	sort.Float64s(vals)
	return vals
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
