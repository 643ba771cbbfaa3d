// Package pricing implements the price-fusion engine: per-source floor
// statistics, condition bucket mapping, weighted blending across sources,
// and anomaly-based rejection of implausible updates.
package pricing

import (
	"strings"

	"github.com/grookai/vault-engine/internal/model"
)

// MapCondition maps a provider's free-form condition description into a
// canonical bucket using substring heuristics. Unrecognized descriptions
// default to NM, matching how marketplaces list unmarked singles.
func MapCondition(raw string) model.Condition {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return model.ConditionNM
	}
	switch {
	case strings.Contains(v, "new"), strings.Contains(v, "mint"), strings.Contains(v, "near"):
		return model.ConditionNM
	case strings.Contains(v, "light"):
		return model.ConditionLP
	case strings.Contains(v, "moderate"), strings.Contains(v, "play"):
		return model.ConditionMP
	case strings.Contains(v, "heavy"):
		return model.ConditionHP
	case strings.Contains(v, "psa"), strings.Contains(v, "bgs"), strings.Contains(v, "cgc"), strings.Contains(v, "graded"):
		return model.ConditionGRD
	default:
		return model.ConditionNM
	}
}

// FilterByCondition keeps only samples whose raw condition maps to want.
func FilterByCondition(samples []model.PriceSample, want model.Condition) []model.PriceSample {
	out := make([]model.PriceSample, 0, len(samples))
	for _, s := range samples {
		if MapCondition(s.RawCondition) == want {
			out = append(out, s)
		}
	}
	return out
}
