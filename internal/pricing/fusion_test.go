package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestFuse_AllComponentsPresent(t *testing.T) {
	t.Parallel()

	got, err := Fuse(Components{
		RetailFloor: ptr(10),
		SoldAvg:     ptr(12),
		SoldP10:     ptr(9),
		SoldP90:     ptr(15),
		Baseline:    ptr(11),
	}, DefaultWeights(), "USD")
	require.NoError(t, err)

	// 0.45*10 + 0.35*12 + 0.20*11 = 10.90
	assert.InDelta(t, 10.90, got.Mid, 0.01)
	assert.Equal(t, 9.0, got.Low, "low is the cheapest of floors and sold p10")
	assert.Equal(t, 15.0, got.High)
	assert.Equal(t, "USD", got.Currency)
	assert.InDelta(t, 1.0, got.Weights["retail"]+got.Weights["market"]+got.Weights["baseline"], 1e-9)
}

func TestFuse_RetailOnlyRenormalizesToOne(t *testing.T) {
	t.Parallel()

	got, err := Fuse(Components{RetailFloor: ptr(4.20)}, DefaultWeights(), "USD")
	require.NoError(t, err)

	assert.Equal(t, 4.20, got.Mid)
	assert.Equal(t, 1.0, got.Weights["retail"])
	assert.NotContains(t, got.Weights, "market")
	assert.NotContains(t, got.Weights, "baseline")
}

func TestFuse_SoldAvgPreferredOverMarketFloor(t *testing.T) {
	t.Parallel()

	got, err := Fuse(Components{
		MarketFloor: ptr(8),
		SoldAvg:     ptr(12),
	}, DefaultWeights(), "USD")
	require.NoError(t, err)

	// market evidence = sold avg (12), not the live floor; weight renormalized
	// to 1.0 since retail and baseline are absent.
	assert.Equal(t, 12.0, got.Mid)
	assert.Equal(t, 8.0, got.Low, "live floor still bounds the low")
}

func TestFuse_HighFallbackWithoutSoldP90(t *testing.T) {
	t.Parallel()

	got, err := Fuse(Components{RetailFloor: ptr(10)}, DefaultWeights(), "USD")
	require.NoError(t, err)
	assert.InDelta(t, 11.5, got.High, 0.01, "15% above best observed value")
}

func TestFuse_NoSources(t *testing.T) {
	t.Parallel()

	_, err := Fuse(Components{}, DefaultWeights(), "USD")
	assert.ErrorIs(t, err, ErrNoSources)

	_, err = Fuse(Components{SoldP90: ptr(20)}, DefaultWeights(), "USD")
	assert.ErrorIs(t, err, ErrNoSources, "p90 alone carries no mid evidence")
}

func TestFuse_LowNeverExceedsMid(t *testing.T) {
	t.Parallel()

	got, err := Fuse(Components{
		RetailFloor: ptr(20),
		Baseline:    ptr(5),
	}, DefaultWeights(), "USD")
	require.NoError(t, err)
	assert.LessOrEqual(t, got.Low, got.Mid)
	assert.GreaterOrEqual(t, got.High, got.Mid)
}
