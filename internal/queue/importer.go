package queue

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grookai/vault-engine/internal/model"
	"github.com/grookai/vault-engine/internal/pricing"
	"github.com/grookai/vault-engine/internal/resilience"
)

// CardResolver looks up a card identity in the external catalog.
type CardResolver interface {
	ResolveCard(ctx context.Context, ident model.Identity) (*model.CardPrint, error)
}

// PriceRefresher runs the fusion pipeline for one print.
type PriceRefresher interface {
	RefreshPrice(ctx context.Context, cardID string, ident model.Identity, cond model.Condition) (pricing.RefreshOutcome, error)
}

// ImportStore is the persistence slice the importer needs.
type ImportStore interface {
	UpsertCardPrint(ctx context.Context, incoming model.CardPrint) (*model.CardPrint, error)
}

// Importer executes a single catalog import: resolve the identity against the
// catalog, land the print, then refresh its price. The price refresh is
// detached: it retries transient failures on its own, and its outcome never
// fails the import.
type Importer struct {
	resolver CardResolver
	store    ImportStore
	prices   PriceRefresher
	retry    resilience.RetryConfig
}

// NewImporter wires an importer. prices may be nil to import catalog data
// without pricing.
func NewImporter(resolver CardResolver, store ImportStore, prices PriceRefresher) *Importer {
	return &Importer{
		resolver: resolver,
		store:    store,
		prices:   prices,
		retry:    resilience.DefaultRetryConfig(),
	}
}

// ImportResult reports what one import landed.
type ImportResult struct {
	Print       *model.CardPrint
	PriceErrors int
}

// Execute runs the import for one normalized identity. A catalog miss comes
// back as a not-found error; the caller decides how many times to retry it.
func (im *Importer) Execute(ctx context.Context, ident model.Identity) (ImportResult, error) {
	var res ImportResult

	card, err := im.resolver.ResolveCard(ctx, ident)
	if err != nil {
		return res, eris.Wrapf(err, "import: resolve %s/%s", ident.SetCode, ident.Number)
	}

	saved, err := im.store.UpsertCardPrint(ctx, *card)
	if err != nil {
		return res, eris.Wrap(err, "import: persist print")
	}
	res.Print = saved

	res.PriceErrors = im.refreshDetached(ctx, saved.ID, ident)
	return res, nil
}

// refreshDetached refreshes the near-mint price and reports how many price
// errors it produced: 1 when the refresh ultimately failed, found no evidence,
// or was rejected by the anomaly guard, 0 otherwise.
func (im *Importer) refreshDetached(ctx context.Context, cardID string, ident model.Identity) int {
	if im.prices == nil {
		return 0
	}
	outcome, err := resilience.DoVal(ctx, im.retry, func(ctx context.Context) (pricing.RefreshOutcome, error) {
		return im.prices.RefreshPrice(ctx, cardID, ident, model.ConditionNM)
	})
	switch {
	case err != nil:
		if eris.Is(err, pricing.ErrNoSources) {
			zap.L().Info("no price evidence for print",
				zap.String("card_id", cardID),
				zap.String("set", ident.SetCode),
				zap.String("number", ident.Number))
			return 1
		}
		zap.L().Warn("detached price refresh failed",
			zap.String("card_id", cardID),
			zap.Error(err))
		return 1
	case outcome.Rejected:
		return 1
	default:
		return 0
	}
}
