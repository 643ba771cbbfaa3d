package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grookai/vault-engine/internal/model"
	"github.com/grookai/vault-engine/internal/pricing"
	"github.com/grookai/vault-engine/internal/store"
)

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeResolver) ResolveCard(ctx context.Context, ident model.Identity) (*model.CardPrint, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &model.CardPrint{
		SetCode: ident.SetCode, Number: ident.Number, Lang: ident.Lang,
		Name: "Test Card", ImageURL: "card.png",
	}, nil
}

type fakeRefresher struct {
	mu       sync.Mutex
	calls    int
	rejected bool
	err      error
}

func (f *fakeRefresher) RefreshPrice(ctx context.Context, cardID string, ident model.Identity, cond model.Condition) (pricing.RefreshOutcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return pricing.RefreshOutcome{}, f.err
	}
	if f.rejected {
		return pricing.RefreshOutcome{Rejected: true}, nil
	}
	return pricing.RefreshOutcome{Persisted: true}, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(":memory:", store.DefaultQueueConfig())
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestDrainer(st *store.SQLiteStore, resolver CardResolver, prices PriceRefresher, reg *Registry) *Drainer {
	if reg == nil {
		reg = NewRegistry()
	}
	return NewDrainer(st, reg, NewImporter(resolver, st, prices), DrainerConfig{})
}

func TestDrainImports_Success(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := newTestDrainer(st, &fakeResolver{}, &fakeRefresher{}, nil)

	ident := model.Identity{SetCode: "g1", Number: "025", Lang: "en"}
	_, err := st.EnqueueImport(ctx, ident)
	require.NoError(t, err)

	counts, err := d.DrainImports(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.DrainCounts{Processed: 1, Succeeded: 1}, counts)

	print, err := st.GetCardPrint(ctx, ident)
	require.NoError(t, err)
	require.NotNil(t, print)
	assert.Equal(t, "Test Card", print.Name)

	// Nothing left to claim.
	counts, err = d.DrainImports(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, counts.Processed)
}

func TestDrainImports_FailureSchedulesRetry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	resolver := &fakeResolver{err: eris.New("catalog down")}
	d := newTestDrainer(st, resolver, &fakeRefresher{}, nil)

	_, err := st.EnqueueImport(ctx, model.Identity{SetCode: "g1", Number: "026", Lang: "en"})
	require.NoError(t, err)

	counts, err := d.DrainImports(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.DrainCounts{Processed: 1, Failed: 1}, counts)

	// The failed item is scheduled into the future, so an immediate drain
	// must not pick it up again.
	counts, err = d.DrainImports(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, counts.Processed)
	assert.Equal(t, 1, resolver.calls)
}

func TestDrainImports_AnomalyRejectionCountsPriceError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := newTestDrainer(st, &fakeResolver{}, &fakeRefresher{rejected: true}, nil)

	_, err := st.EnqueueImport(ctx, model.Identity{SetCode: "g1", Number: "027", Lang: "en"})
	require.NoError(t, err)

	counts, err := d.DrainImports(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.DrainCounts{Processed: 1, Succeeded: 1, PriceErrors: 1}, counts)
}

func TestDrainImports_PriceFailureDoesNotFailImport(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := newTestDrainer(st, &fakeResolver{}, &fakeRefresher{err: eris.New("pricing down")}, nil)

	ident := model.Identity{SetCode: "g1", Number: "028", Lang: "en"}
	_, err := st.EnqueueImport(ctx, ident)
	require.NoError(t, err)

	counts, err := d.DrainImports(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.DrainCounts{Processed: 1, Succeeded: 1, PriceErrors: 1}, counts)

	// The print still landed even though pricing failed.
	print, err := st.GetCardPrint(ctx, ident)
	require.NoError(t, err)
	assert.NotNil(t, print)
}

func TestDrainImports_BatchIsolatesFailures(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// The resolver fails only the "bad" number; the rest of the batch lands.
	resolver := &selectiveResolver{badNumber: "002"}
	d := newTestDrainer(st, resolver, &fakeRefresher{}, nil)

	for _, number := range []string{"001", "002", "003"} {
		_, err := st.EnqueueImport(ctx, model.Identity{SetCode: "g1", Number: number, Lang: "en"})
		require.NoError(t, err)
	}

	counts, err := d.DrainImports(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.DrainCounts{Processed: 3, Succeeded: 2, Failed: 1}, counts)
}

type selectiveResolver struct {
	badNumber string
}

func (r *selectiveResolver) ResolveCard(ctx context.Context, ident model.Identity) (*model.CardPrint, error) {
	if ident.Number == r.badNumber {
		return nil, eris.Errorf("no such card %s", ident.Number)
	}
	return &model.CardPrint{
		SetCode: ident.SetCode, Number: ident.Number, Lang: ident.Lang, Name: "Card " + ident.Number,
	}, nil
}

func TestDrainJobs_DispatchesHandlers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var handled []string
	var mu sync.Mutex
	reg := NewRegistry()
	reg.Register(model.JobImportSetCards, func(ctx context.Context, payload model.JobPayload) error {
		p := payload.(model.ImportSetCardsPayload)
		mu.Lock()
		handled = append(handled, p.SetCode)
		mu.Unlock()
		return nil
	})
	d := newTestDrainer(st, &fakeResolver{}, &fakeRefresher{}, reg)

	_, err := st.EnqueueJob(ctx, model.JobImportSetCards, []byte(`{"set_code":"g1"}`), "", time.Time{})
	require.NoError(t, err)

	counts, err := d.DrainJobs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.DrainCounts{Processed: 1, Succeeded: 1}, counts)
	assert.Equal(t, []string{"g1"}, handled)
}

func TestDrainJobs_UnknownJobFails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := newTestDrainer(st, &fakeResolver{}, &fakeRefresher{}, NewRegistry())

	_, err := st.EnqueueJob(ctx, model.JobImportSetCards, []byte(`{"set_code":"g1"}`), "", time.Time{})
	require.NoError(t, err)

	counts, err := d.DrainJobs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.DrainCounts{Processed: 1, Failed: 1}, counts)
}
