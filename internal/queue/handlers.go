package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grookai/vault-engine/internal/identity"
	"github.com/grookai/vault-engine/internal/model"
	"github.com/grookai/vault-engine/internal/pricing"
)

// refreshMaxAge is the staleness horizon for the refresh_prices job: prints
// without a fused price newer than this get recomputed.
const refreshMaxAge = 7 * 24 * time.Hour

// SetImporter lists a set's full card roster from the catalog.
type SetImporter interface {
	SetCards(ctx context.Context, setCode, lang string) ([]model.CardPrint, error)
}

// HandlerStore is the persistence slice the built-in job handlers need.
type HandlerStore interface {
	BulkUpsertCardPrints(ctx context.Context, prints []model.CardPrint) (int64, error)
	ListCardPrintsBySet(ctx context.Context, setCode string, limit int) ([]model.CardPrint, error)
	ListPrintsNeedingRefresh(ctx context.Context, maxAge time.Duration, limit int) ([]model.CardPrint, error)
}

// NewHandlers builds the registry for the built-in job set.
func NewHandlers(st HandlerStore, sets SetImporter, importer *Importer, prices PriceRefresher) *Registry {
	r := NewRegistry()

	r.Register(model.JobImportSetCards, func(ctx context.Context, payload model.JobPayload) error {
		p := payload.(model.ImportSetCardsPayload)
		prints, err := sets.SetCards(ctx, p.SetCode, identity.NormalizeLang(p.Lang))
		if err != nil {
			return eris.Wrapf(err, "job: list set %s", p.SetCode)
		}
		n, err := st.BulkUpsertCardPrints(ctx, prints)
		if err != nil {
			return eris.Wrapf(err, "job: upsert set %s", p.SetCode)
		}
		zap.L().Info("set cards imported",
			zap.String("set", p.SetCode),
			zap.Int64("count", n))
		return nil
	})

	r.Register(model.JobImportSetPrices, func(ctx context.Context, payload model.JobPayload) error {
		p := payload.(model.ImportSetPricesPayload)
		prints, err := st.ListCardPrintsBySet(ctx, p.SetCode, 0)
		if err != nil {
			return eris.Wrapf(err, "job: list prints for %s", p.SetCode)
		}
		return refreshBatch(ctx, prices, prints, "set "+p.SetCode)
	})

	r.Register(model.JobHydrateCard, func(ctx context.Context, payload model.JobPayload) error {
		p := payload.(model.HydrateCardPayload)
		ident := identity.Normalize(p.SetCode, p.Number, p.Lang)
		_, err := importer.Execute(ctx, ident)
		return err
	})

	r.Register(model.JobRefreshPrices, func(ctx context.Context, payload model.JobPayload) error {
		p := payload.(model.RefreshPricesPayload)
		prints, err := st.ListPrintsNeedingRefresh(ctx, refreshMaxAge, p.Limit)
		if err != nil {
			return eris.Wrap(err, "job: list stale prints")
		}
		return refreshBatch(ctx, prices, prints, "stale batch")
	})

	return r
}

// refreshBatch refreshes each print in turn, tolerating per-card failures.
// The job only fails when every refresh attempt failed, which usually means
// the upstream sources are down rather than the cards being unpriceable.
func refreshBatch(ctx context.Context, prices PriceRefresher, prints []model.CardPrint, scope string) error {
	if len(prints) == 0 {
		return nil
	}
	var failed int
	for _, print := range prints {
		if _, err := prices.RefreshPrice(ctx, print.ID, print.Identity(), model.ConditionNM); err != nil {
			if eris.Is(err, pricing.ErrNoSources) {
				continue
			}
			failed++
			zap.L().Warn("price refresh failed",
				zap.String("card_id", print.ID),
				zap.String("set", print.SetCode),
				zap.String("number", print.Number),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return eris.Wrapf(ctx.Err(), "job: refresh %s interrupted", scope)
		}
	}
	if failed == len(prints) {
		return eris.Errorf("job: every price refresh failed for %s", scope)
	}
	return nil
}
