// Package source adapts the external provider clients to the narrow
// interfaces the import pipeline and price engine consume. Each adapter runs
// behind a per-source circuit breaker and classifies provider errors into
// transient and not-found so callers can pick the right retry behavior.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/grookai/vault-engine/internal/identity"
	"github.com/grookai/vault-engine/internal/model"
	"github.com/grookai/vault-engine/internal/resilience"
	"github.com/grookai/vault-engine/pkg/ebay"
	"github.com/grookai/vault-engine/pkg/justtcg"
	"github.com/grookai/vault-engine/pkg/tcgdex"
)

// classify maps a provider error into the resilience taxonomy. A provider
// miss is definitive; rate limits, server errors, and network failures are
// upstream availability problems worth retrying. Everything else, a rejected
// request or a decode failure, is permanent and passes through untouched so
// it neither trips the breaker nor gets retried.
func classify(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if eris.Is(err, notFound) {
		return resilience.NewNotFoundError(err)
	}
	if resilience.IsTransient(err) || resilience.IsNotFound(err) {
		return err
	}
	var status interface{ HTTPStatus() int }
	if errors.As(err, &status) {
		if resilience.IsTransientHTTPStatus(status.HTTPStatus()) {
			return resilience.NewTransientError(err, status.HTTPStatus())
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.NewTransientError(err, 0)
	}
	return err
}

// Catalog resolves card identities against the TCGdex catalog, trying number
// variants before falling back to a full set listing.
type Catalog struct {
	client  tcgdex.Client
	breaker *resilience.CircuitBreaker
}

// NewCatalog wires a catalog source.
func NewCatalog(client tcgdex.Client, breakers *resilience.SourceBreakers) *Catalog {
	return &Catalog{client: client, breaker: breakers.Get("tcgdex")}
}

// ResolveCard looks up a normalized identity in the catalog. The zero-padded
// variant is tried first since catalogs usually store padded local numbers,
// then the raw and integer forms, then a set listing scan.
func (c *Catalog) ResolveCard(ctx context.Context, ident model.Identity) (*model.CardPrint, error) {
	variants := identity.NormalizeNumber(ident.Number)

	for _, number := range uniqueStrings(variants.Pad3, variants.Raw, variants.IntLike) {
		card, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*tcgdex.Card, error) {
			got, err := c.client.GetCard(ctx, ident.SetCode, number, ident.Lang)
			return got, classify(err, tcgdex.ErrNotFound)
		})
		if err != nil {
			if resilience.IsNotFound(err) {
				continue
			}
			return nil, eris.Wrap(err, "source: catalog lookup")
		}
		return printFromCard(ident, card.Name, card.Image, card.Rarity), nil
	}

	// Exact lookups missed every variant; scan the set listing in case the
	// catalog numbers cards differently than the request did.
	cards, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]tcgdex.CardBrief, error) {
		got, err := c.client.ListCards(ctx, ident.SetCode, ident.Lang)
		return got, classify(err, tcgdex.ErrNotFound)
	})
	if err != nil {
		if resilience.IsNotFound(err) {
			return nil, resilience.NewNotFoundError(eris.Errorf("source: set %s not in catalog", ident.SetCode))
		}
		return nil, eris.Wrap(err, "source: catalog set listing")
	}

	wanted := map[string]bool{variants.Raw: true, variants.Pad3: true, variants.IntLike: true}
	for _, brief := range cards {
		local := identity.NormalizeNumber(brief.LocalID)
		if wanted[local.Raw] || wanted[local.Pad3] || wanted[local.IntLike] {
			return printFromCard(ident, brief.Name, brief.Image, ""), nil
		}
	}
	return nil, resilience.NewNotFoundError(
		eris.Errorf("source: card %s/%s (%s) not in catalog", ident.SetCode, ident.Number, ident.Lang))
}

// SetCards lists every card in a set as catalog prints, ready for a bulk
// upsert.
func (c *Catalog) SetCards(ctx context.Context, setCode, lang string) ([]model.CardPrint, error) {
	cards, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]tcgdex.CardBrief, error) {
		got, err := c.client.ListCards(ctx, setCode, lang)
		return got, classify(err, tcgdex.ErrNotFound)
	})
	if err != nil {
		if resilience.IsNotFound(err) {
			return nil, resilience.NewNotFoundError(eris.Errorf("source: set %s not in catalog", setCode))
		}
		return nil, eris.Wrap(err, "source: catalog set listing")
	}

	prints := make([]model.CardPrint, 0, len(cards))
	for _, brief := range cards {
		number := strings.TrimSpace(brief.LocalID)
		if number == "" {
			continue
		}
		prints = append(prints, model.CardPrint{
			SetCode:  setCode,
			Number:   number,
			Lang:     lang,
			Name:     brief.Name,
			ImageURL: brief.Image,
		})
	}
	return prints, nil
}

func printFromCard(ident model.Identity, name, image, rarity string) *model.CardPrint {
	return &model.CardPrint{
		SetCode:  ident.SetCode,
		Number:   ident.Number,
		Lang:     ident.Lang,
		Name:     name,
		ImageURL: image,
		Rarity:   rarity,
	}
}

func uniqueStrings(vals ...string) []string {
	seen := make(map[string]bool, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Retail serves retail listing prices from JustTCG.
type Retail struct {
	client  justtcg.Client
	breaker *resilience.CircuitBreaker
}

// NewRetail wires a retail pricing source.
func NewRetail(client justtcg.Client, breakers *resilience.SourceBreakers) *Retail {
	return &Retail{client: client, breaker: breakers.Get("justtcg")}
}

// RetailSamples returns every priced variant for the identity. A provider
// miss yields an empty sample set, not an error; the fusion engine treats
// missing sources as absent components.
func (r *Retail) RetailSamples(ctx context.Context, ident model.Identity) ([]model.PriceSample, error) {
	cards, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) ([]justtcg.CardPrices, error) {
		got, err := r.client.ListPrices(ctx, ident.SetCode, ident.Number)
		return got, classify(err, justtcg.ErrNotFound)
	})
	if err != nil {
		if resilience.IsNotFound(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "source: retail prices")
	}

	var samples []model.PriceSample
	for _, card := range cards {
		currency := card.Currency
		if currency == "" {
			currency = "USD"
		}
		for _, v := range card.Variants {
			if v.Price <= 0 {
				continue
			}
			samples = append(samples, model.PriceSample{
				Price:        v.Price,
				Currency:     currency,
				RawCondition: v.Condition,
			})
		}
	}
	return samples, nil
}

// Quote returns the retail low/mid/high summary, or nil when nothing is
// priced.
func (r *Retail) Quote(ctx context.Context, ident model.Identity) (*justtcg.Quote, error) {
	quote, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*justtcg.Quote, error) {
		got, err := r.client.GetQuote(ctx, ident.SetCode, ident.Number)
		return got, classify(err, justtcg.ErrNotFound)
	})
	if err != nil {
		if resilience.IsNotFound(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "source: retail quote")
	}
	return quote, nil
}

// Namer resolves an identity to a display name for marketplace queries.
// Usually backed by the card_prints table.
type Namer interface {
	CardName(ctx context.Context, ident model.Identity) (string, error)
}

// Market serves peer-marketplace listings and sold comps from eBay.
type Market struct {
	client  ebay.Client
	namer   Namer
	limit   int
	breaker *resilience.CircuitBreaker
}

// NewMarket wires a marketplace source. namer may be nil, in which case
// queries fall back to the raw set code and number.
func NewMarket(client ebay.Client, namer Namer, limit int, breakers *resilience.SourceBreakers) *Market {
	if limit <= 0 {
		limit = 50
	}
	return &Market{client: client, namer: namer, limit: limit, breaker: breakers.Get("ebay")}
}

// query builds the marketplace search string: the card's display name plus
// its collector number when we know the name, otherwise set code and number.
func (m *Market) query(ctx context.Context, ident model.Identity) string {
	if m.namer != nil {
		if name, err := m.namer.CardName(ctx, ident); err == nil && name != "" {
			return fmt.Sprintf("%s %s", name, ident.Number)
		}
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s", ident.SetCode, ident.Number))
}

// ActiveListings returns current listings as price samples.
func (m *Market) ActiveListings(ctx context.Context, ident model.Identity) ([]model.PriceSample, error) {
	listings, err := resilience.ExecuteVal(ctx, m.breaker, func(ctx context.Context) ([]ebay.Listing, error) {
		got, err := m.client.SearchListings(ctx, m.query(ctx, ident), m.limit)
		return got, classify(err, ebay.ErrNotFound)
	})
	if err != nil {
		if resilience.IsNotFound(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "source: market listings")
	}

	samples := make([]model.PriceSample, 0, len(listings))
	for _, l := range listings {
		price := l.Price.Amount()
		if price <= 0 {
			continue
		}
		samples = append(samples, model.PriceSample{
			Price:        price,
			Shipping:     l.ShippingAmount(),
			Currency:     l.Price.Currency,
			RawCondition: l.Condition,
		})
	}
	return samples, nil
}

// SoldListings returns completed sales as price samples.
func (m *Market) SoldListings(ctx context.Context, ident model.Identity) ([]model.PriceSample, error) {
	sold, err := resilience.ExecuteVal(ctx, m.breaker, func(ctx context.Context) ([]ebay.SoldItem, error) {
		got, err := m.client.SearchSold(ctx, m.query(ctx, ident), m.limit)
		return got, classify(err, ebay.ErrNotFound)
	})
	if err != nil {
		if resilience.IsNotFound(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "source: sold listings")
	}

	samples := make([]model.PriceSample, 0, len(sold))
	for _, s := range sold {
		price := s.LastSoldPrice.Amount()
		if price <= 0 {
			continue
		}
		samples = append(samples, model.PriceSample{
			Price:        price,
			Currency:     s.LastSoldPrice.Currency,
			RawCondition: s.Condition,
		})
	}
	return samples, nil
}
