package justtcg

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceFixture() listResponse {
	return listResponse{
		Data: []CardPrices{
			{
				ID:       "genesis-25",
				Name:     "Thunder Sprite",
				Set:      "genesis",
				Number:   "025",
				Currency: "USD",
				Variants: []Variant{
					{Condition: "Near Mint", Printing: "Normal", Price: 4.50},
					{Condition: "Lightly Played", Printing: "Normal", Price: 3.75},
					{Condition: "Near Mint", Printing: "Holofoil", Price: 12.00},
				},
			},
		},
	}
}

func TestListPrices_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/cards", r.URL.Path)
		assert.Equal(t, "g1", r.URL.Query().Get("set"))
		assert.Equal(t, "025", r.URL.Query().Get("number"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(priceFixture())
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.ListPrices(context.Background(), "g1", "025")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Variants, 3)
	assert.Equal(t, 4.50, got[0].Variants[0].Price)
}

func TestListPrices_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.ListPrices(context.Background(), "g1", "999")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestListPrices_RetryOn429(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(priceFixture())
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000, 1000))
	got, err := client.ListPrices(context.Background(), "g1", "025")

	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestListPrices_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.ListPrices(context.Background(), "g1", "025")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestGetQuote_SummarizesVariants(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(priceFixture())
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.GetQuote(context.Background(), "g1", "025")

	require.NoError(t, err)
	assert.Equal(t, 3.75, got.Low)
	assert.Equal(t, 12.00, got.High)
	assert.InDelta(t, 6.75, got.Mid, 0.01)
	assert.Equal(t, 3, got.Samples)
	assert.Equal(t, "USD", got.Currency)
}

func TestGetQuote_NoPricedVariants(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(listResponse{Data: []CardPrices{
			{ID: "genesis-25", Variants: []Variant{{Condition: "Near Mint", Price: 0}}},
		}})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.GetQuote(context.Background(), "g1", "025")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient("my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, "https://api.justtcg.com", hc.baseURL)
	assert.NotNil(t, hc.http)
}
