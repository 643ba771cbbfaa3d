package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grookai/vault-engine/internal/identity"
	"github.com/grookai/vault-engine/internal/model"
	"github.com/grookai/vault-engine/internal/pricing"
	"github.com/grookai/vault-engine/internal/queue"
	"github.com/grookai/vault-engine/internal/scan"
	"github.com/grookai/vault-engine/internal/store"
)

type stubResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubResolver) ResolveCard(ctx context.Context, ident model.Identity) (*model.CardPrint, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &model.CardPrint{
		SetCode: ident.SetCode,
		Number:  ident.Number,
		Lang:    ident.Lang,
		Name:    "Test Card",
	}, nil
}

type stubFloors struct {
	res  pricing.FloorResult
	sold pricing.SoldStats
	err  error
}

func (s *stubFloors) ComputeFloors(ctx context.Context, cardID string, ident model.Identity, cond model.Condition) (pricing.FloorResult, error) {
	return s.res, s.err
}

func (s *stubFloors) SoldComps(ctx context.Context, cardID string, ident model.Identity, cond model.Condition) (pricing.SoldStats, error) {
	return s.sold, s.err
}

type stubRefresher struct {
	mu       sync.Mutex
	calls    int
	rejected bool
	err      error
}

func (s *stubRefresher) RefreshPrice(ctx context.Context, cardID string, ident model.Identity, cond model.Condition) (pricing.RefreshOutcome, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return pricing.RefreshOutcome{}, s.err
	}
	return pricing.RefreshOutcome{
		Fused:     model.FusedPrice{Mid: 10, Currency: "USD"},
		Persisted: !s.rejected,
		Rejected:  s.rejected,
	}, nil
}

type apiFixture struct {
	api       *api
	store     store.Store
	registry  *queue.Registry
	resolver  *stubResolver
	floors    *stubFloors
	refresher *stubRefresher
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	st, err := store.NewSQLite(":memory:", store.DefaultQueueConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	resolver := &stubResolver{}
	floors := &stubFloors{}
	refresher := &stubRefresher{}
	registry := queue.NewRegistry()
	importer := queue.NewImporter(resolver, st, nil)
	drainer := queue.NewDrainer(st, registry, importer, queue.DrainerConfig{Workers: 2})

	return &apiFixture{
		api: &api{
			store:      st,
			drainer:    drainer,
			floors:     floors,
			prices:     refresher,
			identifier: scan.NewIdentifier(2),
			drainLimit: 10,
			refreshAge: 7 * 24 * time.Hour,
		},
		store:     st,
		registry:  registry,
		resolver:  resolver,
		floors:    floors,
		refresher: refresher,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.api.router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestEnqueueImport(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/import/enqueue", map[string]string{
		"set_code": "me",
		"number":   "RC1",
		"lang":     "EN-us",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "g1", body["set_code"], "provider alias should canonicalize")
	assert.Equal(t, "RC1", body["number"])
	assert.Equal(t, "en", body["lang"])
	assert.Equal(t, string(model.JobStatusQueued), body["status"])
	assert.NotEmpty(t, body["id"])
}

func TestEnqueueImportRejectsMissingFields(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/import/enqueue", map[string]string{"set_code": "g1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "required")
}

func TestDrainImports(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	ident := identity.Normalize("g1", "25/102", "en")
	_, err := f.store.EnqueueImport(ctx, ident)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/import/drain", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Counts model.DrainCounts `json:"counts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Counts.Processed)
	assert.Equal(t, 1, resp.Counts.Succeeded)
	assert.Equal(t, 0, resp.Counts.Failed)

	print, err := f.store.GetCardPrint(ctx, ident)
	require.NoError(t, err)
	require.NotNil(t, print)
	assert.Equal(t, "Test Card", print.Name)
}

func TestEnqueueJob(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/jobs/enqueue", map[string]any{
		"name":    "refresh_prices",
		"payload": map[string]int{"limit": 5},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "refresh_prices", body["name"])
	assert.Equal(t, string(model.JobStatusQueued), body["status"])
}

func TestEnqueueJobValidatesPayload(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/jobs/enqueue", map[string]any{
		"name":    "import_set_cards",
		"payload": map[string]string{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "missing set_code")

	rec = f.do(t, http.MethodPost, "/v1/jobs/enqueue", map[string]any{
		"payload": map[string]string{"set_code": "g1"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/jobs/enqueue", map[string]any{
		"name": "sweep_floors",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "unknown name")
}

func TestDrainJobs(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	var handled int
	f.registry.Register(model.JobRefreshPrices, func(ctx context.Context, payload model.JobPayload) error {
		handled++
		return nil
	})

	_, err := f.store.EnqueueJob(ctx, model.JobRefreshPrices, json.RawMessage(`{"limit":3}`), "", time.Time{})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/jobs/drain", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Counts model.DrainCounts `json:"counts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Counts.Succeeded)
	assert.Equal(t, 1, handled)
}

func TestPriceFloor(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	print, err := f.store.UpsertCardPrint(ctx, model.CardPrint{
		SetCode: "g1", Number: "25/102", Lang: "en", Name: "Test Card",
	})
	require.NoError(t, err)

	retail, market := 4.20, 3.80
	f.floors.res = pricing.FloorResult{
		RetailFloor:   &retail,
		MarketFloor:   &market,
		RetailSamples: 6,
		MarketSamples: 9,
		Currency:      "USD",
	}

	rec := f.do(t, http.MethodPost, "/v1/prices/floor", map[string]string{
		"cardId":    print.ID,
		"condition": "NM",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.InDelta(t, 4.20, body["retailFloor"], 1e-9)
	assert.InDelta(t, 3.80, body["marketFloor"], 1e-9)
	samples := body["samples"].(map[string]any)
	assert.EqualValues(t, 6, samples["retail"])
	assert.EqualValues(t, 9, samples["market"])
}

func TestPriceFloorNoSources(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	print, err := f.store.UpsertCardPrint(ctx, model.CardPrint{
		SetCode: "g1", Number: "1", Lang: "en", Name: "Test Card",
	})
	require.NoError(t, err)

	f.floors.err = pricing.ErrNoSources

	rec := f.do(t, http.MethodPost, "/v1/prices/floor", map[string]string{
		"cardId":    print.ID,
		"condition": "LP",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Nil(t, body["retailFloor"])
	assert.Nil(t, body["marketFloor"])
}

func TestPriceSold(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	print, err := f.store.UpsertCardPrint(ctx, model.CardPrint{
		SetCode: "g1", Number: "4", Lang: "en", Name: "Test Card",
	})
	require.NoError(t, err)

	avg, p10, p90 := 12.50, 9.00, 18.00
	f.floors.sold = pricing.SoldStats{
		Count: 14, Avg: &avg, P10: &p10, P90: &p90, Currency: "USD",
	}

	rec := f.do(t, http.MethodPost, "/v1/prices/sold", map[string]string{
		"cardId":    print.ID,
		"condition": "NM",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.InDelta(t, 12.50, body["soldAvg"], 1e-9)
	assert.InDelta(t, 9.00, body["soldLowP10"], 1e-9)
	assert.InDelta(t, 18.00, body["soldHighP90"], 1e-9)
	assert.EqualValues(t, 14, body["count"])
}

func TestPriceFloorServesCachedFloors(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	print, err := f.store.UpsertCardPrint(ctx, model.CardPrint{
		SetCode: "g1", Number: "7", Lang: "en", Name: "Test Card",
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	for source, floor := range map[string]float64{
		model.SourceRetail: 5.25,
		model.SourceMarket: 4.75,
	} {
		require.NoError(t, f.store.InsertCardFloor(ctx, model.CardFloor{
			CardID:     print.ID,
			Condition:  model.ConditionNM,
			Source:     source,
			FloorPrice: floor,
			Currency:   "USD",
			ObservedAt: now,
		}))
	}

	// The compute path would fail; fresh floors must be served instead.
	f.floors.err = eris.New("justtcg: status 503")

	rec := f.do(t, http.MethodPost, "/v1/prices/floor", map[string]string{
		"cardId":    print.ID,
		"condition": "NM",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.InDelta(t, 5.25, body["retailFloor"], 1e-9)
	assert.InDelta(t, 4.75, body["marketFloor"], 1e-9)
}

func TestPriceFloorValidation(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/prices/floor", map[string]string{
		"cardId": "abc", "condition": "MINT",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "condition must be one of")

	rec = f.do(t, http.MethodPost, "/v1/prices/floor", map[string]string{
		"cardId": "00000000-0000-0000-0000-000000000000", "condition": "NM",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPriceUpdate(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	for _, n := range []string{"1", "2"} {
		_, err := f.store.UpsertCardPrint(ctx, model.CardPrint{
			SetCode: "g1", Number: n, Lang: "en", Name: "Card " + n,
		})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodPost, "/v1/prices/update", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Counts model.DrainCounts `json:"counts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Counts.Processed)
	assert.Equal(t, 2, resp.Counts.Succeeded)
	assert.Equal(t, 0, resp.Counts.PriceErrors)
	assert.Equal(t, 2, f.refresher.calls)
}

func TestPriceUpdateCountsRejections(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	ctx := context.Background()

	_, err := f.store.UpsertCardPrint(ctx, model.CardPrint{
		SetCode: "g1", Number: "1", Lang: "en", Name: "Card",
	})
	require.NoError(t, err)
	f.refresher.rejected = true

	rec := f.do(t, http.MethodPost, "/v1/prices/update", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Counts model.DrainCounts `json:"counts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Counts.Succeeded)
	assert.Equal(t, 1, resp.Counts.PriceErrors)
}

func TestScanResolve(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/scan/resolve", map[string]any{
		"candidates": []map[string]any{
			{"card_id": "a", "set_code": "g1", "number": "025", "lang": "en", "name": "Pikachu", "similarity": 0.9},
			{"card_id": "b", "set_code": "g1", "number": "026", "lang": "en", "name": "Raichu", "similarity": 0.8},
		},
		"number_hint": "25/102",
		"lang_hint":   "en",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scan.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "a", resp.Best.CardID)
	assert.True(t, resp.Best.NumberLangMatch)
	require.Len(t, resp.Alternatives, 1)
	assert.Equal(t, "b", resp.Alternatives[0].CardID)
	assert.Greater(t, resp.Best.Confidence, resp.Alternatives[0].Confidence)
}

func TestScanResolveRequiresCandidates(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/scan/resolve", map[string]any{
		"candidates": []map[string]any{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
