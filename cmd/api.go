package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grookai/vault-engine/internal/identity"
	"github.com/grookai/vault-engine/internal/model"
	"github.com/grookai/vault-engine/internal/pricing"
	"github.com/grookai/vault-engine/internal/queue"
	"github.com/grookai/vault-engine/internal/scan"
	"github.com/grookai/vault-engine/internal/store"
)

// priceComputer is the slice of the price engine the read endpoints need.
type priceComputer interface {
	ComputeFloors(ctx context.Context, cardID string, ident model.Identity, cond model.Condition) (pricing.FloorResult, error)
	SoldComps(ctx context.Context, cardID string, ident model.Identity, cond model.Condition) (pricing.SoldStats, error)
}

// api holds the HTTP surface over the pipeline.
type api struct {
	store      store.Store
	drainer    *queue.Drainer
	floors     priceComputer
	prices     queue.PriceRefresher
	identifier *scan.Identifier

	drainLimit int
	refreshAge time.Duration
}

func newAPI(e *env, drainLimit int, refreshAge time.Duration) *api {
	if drainLimit <= 0 {
		drainLimit = 10
	}
	if refreshAge <= 0 {
		refreshAge = 7 * 24 * time.Hour
	}
	return &api{
		store:      e.store,
		drainer:    e.drainer,
		floors:     e.engine,
		prices:     e.engine,
		identifier: e.identifier,
		drainLimit: drainLimit,
		refreshAge: refreshAge,
	}
}

func (a *api) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", a.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/import/enqueue", a.handleEnqueueImport)
		r.Post("/import/drain", a.handleDrainImports)
		r.Post("/jobs/enqueue", a.handleEnqueueJob)
		r.Post("/jobs/drain", a.handleDrainJobs)
		r.Post("/prices/floor", a.handlePriceFloor)
		r.Post("/prices/sold", a.handlePriceSold)
		r.Post("/prices/update", a.handlePriceUpdate)
		r.Get("/prices/status", a.handlePriceStatus)
		r.Post("/scan/resolve", a.handleScanResolve)
	})

	return r
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleEnqueueImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SetCode string `json:"set_code"`
		Number  string `json:"number"`
		Lang    string `json:"lang"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SetCode == "" || req.Number == "" {
		writeError(w, http.StatusBadRequest, "set_code and number are required")
		return
	}

	ident := identity.Normalize(req.SetCode, req.Number, req.Lang)
	item, err := a.store.EnqueueImport(r.Context(), ident)
	if err != nil {
		writeServerError(w, "enqueue import", err)
		return
	}

	// Best-effort fast path: try the fresh item now instead of waiting for
	// the next scheduled drain.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := a.drainer.DrainImports(ctx, 1); err != nil {
			zap.L().Warn("enqueue drain kick failed", zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       item.ID,
		"status":   item.Status,
		"set_code": item.SetCode,
		"number":   item.Number,
		"lang":     item.Lang,
	})
}

func (a *api) handleDrainImports(w http.ResponseWriter, r *http.Request) {
	counts, err := a.drainer.DrainImports(r.Context(), a.batchLimit(r))
	if err != nil {
		writeServerError(w, "drain imports", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (a *api) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string          `json:"name"`
		Payload     json.RawMessage `json:"payload"`
		DedupKey    string          `json:"dedup_key"`
		ScheduledAt time.Time       `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	// Reject malformed payloads at the door instead of at drain time.
	if _, err := model.ParseJobPayload(model.JobName(req.Name), req.Payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := a.store.EnqueueJob(r.Context(), model.JobName(req.Name), req.Payload, req.DedupKey, req.ScheduledAt)
	if err != nil {
		writeServerError(w, "enqueue job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     item.ID,
		"name":   item.Name,
		"status": item.Status,
	})
}

func (a *api) handleDrainJobs(w http.ResponseWriter, r *http.Request) {
	counts, err := a.drainer.DrainJobs(r.Context(), a.batchLimit(r))
	if err != nil {
		writeServerError(w, "drain jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (a *api) handlePriceFloor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardID    string `json:"cardId"`
		Condition string `json:"condition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CardID == "" || req.Condition == "" {
		writeError(w, http.StatusBadRequest, "cardId and condition are required")
		return
	}
	cond := model.Condition(req.Condition)
	if !cond.Valid() {
		writeError(w, http.StatusBadRequest, "condition must be one of NM, LP, MP, HP, GRD")
		return
	}

	print, err := a.store.GetCardPrintByID(r.Context(), req.CardID)
	if err != nil {
		writeServerError(w, "load card", err)
		return
	}
	if print == nil {
		writeError(w, http.StatusNotFound, "card not found")
		return
	}

	// Recently persisted floors short-circuit the provider round trips.
	if cached, err := a.store.LatestFloors(r.Context(), print.ID, cond); err == nil {
		if resp, ok := cachedFloorResponse(cached, time.Now().UTC().Add(-floorCacheAge)); ok {
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	res, err := a.floors.ComputeFloors(r.Context(), print.ID, print.Identity(), cond)
	if err != nil && !eris.Is(err, pricing.ErrNoSources) {
		writeServerError(w, "compute floors", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"retailFloor": res.RetailFloor,
		"marketFloor": res.MarketFloor,
		"samples": map[string]int{
			"retail": res.RetailSamples,
			"market": res.MarketSamples,
		},
		"observedAt": time.Now().UTC(),
	})
}

func (a *api) handlePriceSold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardID    string `json:"cardId"`
		Condition string `json:"condition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CardID == "" || req.Condition == "" {
		writeError(w, http.StatusBadRequest, "cardId and condition are required")
		return
	}
	cond := model.Condition(req.Condition)
	if !cond.Valid() {
		writeError(w, http.StatusBadRequest, "condition must be one of NM, LP, MP, HP, GRD")
		return
	}

	print, err := a.store.GetCardPrintByID(r.Context(), req.CardID)
	if err != nil {
		writeServerError(w, "load card", err)
		return
	}
	if print == nil {
		writeError(w, http.StatusNotFound, "card not found")
		return
	}

	stats, err := a.floors.SoldComps(r.Context(), print.ID, print.Identity(), cond)
	if err != nil {
		writeServerError(w, "sold comps", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"soldAvg":     stats.Avg,
		"soldLowP10":  stats.P10,
		"soldHighP90": stats.P90,
		"count":       stats.Count,
		"currency":    stats.Currency,
	})
}

// handlePriceUpdate recomputes prices for a bounded batch of stale prints.
// The response always carries counts, even when individual cards failed.
func (a *api) handlePriceUpdate(w http.ResponseWriter, r *http.Request) {
	prints, err := a.store.ListPrintsNeedingRefresh(r.Context(), a.refreshAge, a.batchLimit(r))
	if err != nil {
		writeServerError(w, "list stale prints", err)
		return
	}

	var counts model.DrainCounts
	for _, print := range prints {
		counts.Processed++
		outcome, err := a.prices.RefreshPrice(r.Context(), print.ID, print.Identity(), model.ConditionNM)
		switch {
		case err != nil && eris.Is(err, pricing.ErrNoSources):
			counts.Succeeded++
			counts.PriceErrors++
		case err != nil:
			counts.Failed++
			zap.L().Warn("price update failed",
				zap.String("card_id", print.ID),
				zap.Error(err))
		case outcome.Rejected:
			counts.Succeeded++
			counts.PriceErrors++
		default:
			counts.Succeeded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (a *api) handlePriceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.store.PriceStatus(r.Context())
	if err != nil {
		writeServerError(w, "price status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) handleScanResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidates []struct {
			CardID     string  `json:"card_id"`
			SetCode    string  `json:"set_code"`
			Number     string  `json:"number"`
			Lang       string  `json:"lang"`
			Name       string  `json:"name"`
			Similarity float64 `json:"similarity"`
		} `json:"candidates"`
		NumberHint string `json:"number_hint"`
		NameHint   string `json:"name_hint"`
		LangHint   string `json:"lang_hint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Candidates) == 0 {
		writeError(w, http.StatusBadRequest, "candidates are required")
		return
	}

	candidates := make([]scan.Candidate, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		candidates = append(candidates, scan.Candidate{
			CardID:          c.CardID,
			SetCode:         c.SetCode,
			Number:          c.Number,
			Lang:            c.Lang,
			Name:            c.Name,
			Embedding:       c.Similarity,
			NumberLangMatch: scan.NumberLangMatches(c.Number, c.Lang, req.NumberHint, req.LangHint),
			NameLangMatch:   scan.NameLangMatches(c.Name, c.Lang, req.NameHint, req.LangHint),
		})
	}

	res, err := a.identifier.Identify(r.Context(), candidates)
	if err != nil {
		if eris.Is(err, scan.ErrBusy) {
			writeError(w, http.StatusTooManyRequests, "too many concurrent identifications")
			return
		}
		writeServerError(w, "identify", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// floorCacheAge is how long a persisted floor row satisfies the floor
// endpoint before the providers are queried again.
const floorCacheAge = 15 * time.Minute

// cachedFloorResponse assembles a floor response from persisted floor rows
// newer than cutoff. Sample counts are zero: no live samples were taken.
func cachedFloorResponse(floors []model.CardFloor, cutoff time.Time) (map[string]any, bool) {
	var retail, market *float64
	var newest time.Time
	for i := range floors {
		f := floors[i]
		if !f.ObservedAt.After(cutoff) {
			continue
		}
		switch f.Source {
		case model.SourceRetail:
			retail = &floors[i].FloorPrice
		case model.SourceMarket:
			market = &floors[i].FloorPrice
		}
		if f.ObservedAt.After(newest) {
			newest = f.ObservedAt
		}
	}
	if retail == nil && market == nil {
		return nil, false
	}
	return map[string]any{
		"retailFloor": retail,
		"marketFloor": market,
		"samples":     map[string]int{"retail": 0, "market": 0},
		"observedAt":  newest,
	}, true
}

// batchLimit reads an optional {"limit": n} body, falling back to the
// configured default.
func (a *api) batchLimit(r *http.Request) int {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Limit > 0 {
		return req.Limit
	}
	return a.drainLimit
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeServerError(w http.ResponseWriter, op string, err error) {
	zap.L().Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}
