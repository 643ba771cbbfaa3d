package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grookai/vault-engine/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:", DefaultQueueConfig())
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_JobLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	item, err := s.EnqueueJob(ctx, model.JobImportSetCards, []byte(`{"set_code":"g1"}`), "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, item.Status)

	claimed, err := s.ClaimJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, model.JobStatusProcessing, claimed[0].Status)
	assert.NotNil(t, claimed[0].ClaimedAt)

	// A second claim must not hand out the in-flight item.
	again, err := s.ClaimJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, s.CompleteJob(ctx, item.ID))
	again, err = s.ClaimJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "done items are terminal")
}

func TestSQLite_EnqueueJob_Dedup(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	key := "import_set_cards:g1:en"
	first, err := s.EnqueueJob(ctx, model.JobImportSetCards, []byte(`{"set_code":"g1"}`), key, time.Time{})
	require.NoError(t, err)

	second, err := s.EnqueueJob(ctx, model.JobImportSetCards, []byte(`{"set_code":"g1"}`), key, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "a live dedup key must not produce a second item")

	claimed, err := s.ClaimJobs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestSQLite_FailJob_RetryThenTerminal(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	item, err := s.EnqueueJob(ctx, model.JobRefreshPrices, nil, "", time.Time{})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Second)
	for i := 0; i < 2; i++ {
		claimed, err := s.ClaimJobs(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NoError(t, s.FailJob(ctx, item.ID, "upstream 503", past))
	}

	// Two failures, one attempt left: still claimable.
	claimed, err := s.ClaimJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempts)

	require.NoError(t, s.FailJob(ctx, item.ID, "upstream 503", past))

	// Third failure exhausts the budget.
	claimed, err = s.ClaimJobs(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, claimed, "items at max attempts must never be re-claimed")
}

func TestSQLite_FailJob_BackoffGatesClaim(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	item, err := s.EnqueueJob(ctx, model.JobRefreshPrices, nil, "", time.Time{})
	require.NoError(t, err)

	claimed, err := s.ClaimJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, s.FailJob(ctx, item.ID, "boom", time.Now().UTC().Add(time.Hour)))

	claimed, err = s.ClaimJobs(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, claimed, "retry scheduled in the future must not be claimable yet")
}

func TestSQLite_ImportLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	ident := model.Identity{SetCode: "g1", Number: "025", Lang: "en"}

	item, err := s.EnqueueImport(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, item.Status)

	// Idempotent on the identity triple while live.
	dup, err := s.EnqueueImport(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, item.ID, dup.ID)

	claimed, err := s.ClaimImports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, s.CompleteImport(ctx, item.ID))

	// Done rows are audit history; the same identity can be imported again.
	fresh, err := s.EnqueueImport(ctx, ident)
	require.NoError(t, err)
	assert.NotEqual(t, item.ID, fresh.ID)
}

func TestSQLite_EnqueueImport_RevivesTerminalFailure(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	ident := model.Identity{SetCode: "g1", Number: "999", Lang: "en"}

	item, err := s.EnqueueImport(ctx, ident)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.FailImport(ctx, item.ID, "not_found", past))
	}

	claimed, err := s.ClaimImports(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "retries exhausted")

	revived, err := s.EnqueueImport(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, item.ID, revived.ID)
	assert.Equal(t, model.JobStatusQueued, revived.Status)
	assert.Equal(t, 0, revived.Retries)

	claimed, err = s.ClaimImports(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestSQLite_ReclaimStale(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	item, err := s.EnqueueJob(ctx, model.JobRefreshPrices, nil, "", time.Time{})
	require.NoError(t, err)
	_, err = s.ClaimJobs(ctx, 1)
	require.NoError(t, err)

	// Nothing stale yet with a generous lease.
	n, err := s.ReclaimStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// A zero lease makes the in-flight claim immediately stale.
	time.Sleep(5 * time.Millisecond)
	n, err = s.ReclaimStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	claimed, err := s.ClaimJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, item.ID, claimed[0].ID)
}

func TestSQLite_UpsertCardPrint_MergePolicy(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	created, err := s.UpsertCardPrint(ctx, model.CardPrint{
		SetCode: "g1", Number: "025", Lang: "en",
		Name: "Operator Name", ImageURL: "curated.png",
		CuratedName: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	merged, err := s.UpsertCardPrint(ctx, model.CardPrint{
		SetCode: "g1", Number: "025", Lang: "en",
		Name: "Imported Name", ImageURL: "import.png", Rarity: "Rare",
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, merged.ID)
	assert.Equal(t, "Operator Name", merged.Name, "curated name wins")
	assert.Equal(t, "import.png", merged.ImageURL, "uncurated image is refreshed")
	assert.Equal(t, "Rare", merged.Rarity)

	got, err := s.GetCardPrint(ctx, model.Identity{SetCode: "g1", Number: "025", Lang: "en"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Operator Name", got.Name)
	assert.True(t, got.CuratedName)
}

func TestSQLite_GetCardPrint_MissIsNil(t *testing.T) {
	s := newTestSQLite(t)

	got, err := s.GetCardPrint(context.Background(), model.Identity{SetCode: "zz", Number: "1", Lang: "en"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_PriceRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	print, err := s.UpsertCardPrint(ctx, model.CardPrint{
		SetCode: "g1", Number: "025", Lang: "en", Name: "Thunder Sprite",
	})
	require.NoError(t, err)

	require.NoError(t, s.InsertCardFloor(ctx, model.CardFloor{
		CardID: print.ID, Condition: model.ConditionNM, Source: model.SourceRetail,
		FloorPrice: 4.20, Currency: "USD",
	}))
	require.NoError(t, s.InsertPriceObservation(ctx, model.PriceObservation{
		CardID: print.ID, Condition: model.ConditionNM, Source: model.SourceFused,
		Low: 4, Mid: 5, High: 7, Currency: "USD",
	}))

	mid, err := s.LatestFusedMid(ctx, print.ID, model.ConditionNM, 7*24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, mid)
	assert.Equal(t, 5.0, *mid)

	floors, err := s.LatestFloors(ctx, print.ID, model.ConditionNM)
	require.NoError(t, err)
	require.Len(t, floors, 1)
	assert.Equal(t, 4.20, floors[0].FloorPrice)

	name, err := s.CardName(ctx, print.Identity())
	require.NoError(t, err)
	assert.Equal(t, "Thunder Sprite", name)
}

func TestSQLite_LatestFusedMid_IgnoresOldAndOtherSources(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	print, err := s.UpsertCardPrint(ctx, model.CardPrint{SetCode: "g1", Number: "1", Lang: "en"})
	require.NoError(t, err)

	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	require.NoError(t, s.InsertPriceObservation(ctx, model.PriceObservation{
		CardID: print.ID, Condition: model.ConditionNM, Source: model.SourceFused,
		Low: 1, Mid: 2, High: 3, Currency: "USD", ObservedAt: old,
	}))
	require.NoError(t, s.InsertPriceObservation(ctx, model.PriceObservation{
		CardID: print.ID, Condition: model.ConditionNM, Source: model.SourceEbaySold,
		Low: 8, Mid: 9, High: 10, Currency: "USD",
	}))

	mid, err := s.LatestFusedMid(ctx, print.ID, model.ConditionNM, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, mid, "stale fused and non-fused observations are not baselines")

	// Without an age bound the stale fused mid is still the prior.
	mid, err = s.LatestFusedMid(ctx, print.ID, model.ConditionNM, 0)
	require.NoError(t, err)
	require.NotNil(t, mid)
	assert.Equal(t, 2.0, *mid)
}

func TestSQLite_ConcurrentClaimSingleWinner(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.EnqueueImport(ctx, model.Identity{SetCode: "g1", Number: "025", Lang: "en"})
	require.NoError(t, err)
	_, err = s.EnqueueJob(ctx, model.JobRefreshPrices, []byte(`{}`), "", time.Time{})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		imports int
		jobs    int
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			claimedImports, err := s.ClaimImports(ctx, 10)
			assert.NoError(t, err)
			claimedJobs, err := s.ClaimJobs(ctx, 10)
			assert.NoError(t, err)

			mu.Lock()
			imports += len(claimedImports)
			jobs += len(claimedJobs)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, imports, "racing claimers must not both receive the import")
	assert.Equal(t, 1, jobs, "racing claimers must not both receive the job")
}

func TestSQLite_PurgeObservations(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	print, err := s.UpsertCardPrint(ctx, model.CardPrint{SetCode: "g1", Number: "1", Lang: "en"})
	require.NoError(t, err)

	old := time.Now().UTC().Add(-120 * 24 * time.Hour)
	require.NoError(t, s.InsertPriceObservation(ctx, model.PriceObservation{
		CardID: print.ID, Condition: model.ConditionNM, Source: model.SourceFused,
		Low: 1, Mid: 2, High: 3, Currency: "USD", ObservedAt: old,
	}))
	require.NoError(t, s.InsertPriceObservation(ctx, model.PriceObservation{
		CardID: print.ID, Condition: model.ConditionNM, Source: model.SourceFused,
		Low: 4, Mid: 5, High: 6, Currency: "USD",
	}))
	require.NoError(t, s.InsertCardFloor(ctx, model.CardFloor{
		CardID: print.ID, Condition: model.ConditionNM, Source: model.SourceRetail,
		FloorPrice: 1, Currency: "USD", ObservedAt: old,
	}))

	n, err := s.PurgeObservations(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mid, err := s.LatestFusedMid(ctx, print.ID, model.ConditionNM, 7*24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, mid)
	assert.Equal(t, 5.0, *mid)
}

func TestSQLite_PriceStatus(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	priced, err := s.UpsertCardPrint(ctx, model.CardPrint{SetCode: "g1", Number: "1", Lang: "en"})
	require.NoError(t, err)
	_, err = s.UpsertCardPrint(ctx, model.CardPrint{SetCode: "g1", Number: "2", Lang: "en"})
	require.NoError(t, err)

	require.NoError(t, s.InsertPriceObservation(ctx, model.PriceObservation{
		CardID: priced.ID, Condition: model.ConditionNM, Source: model.SourceFused,
		Low: 1, Mid: 2, High: 3, Currency: "USD",
	}))
	require.NoError(t, s.LogPriceError(ctx, model.PriceErrorEntry{
		SetCode: "g1", Number: "2", Lang: "en", ErrorText: "anomaly",
	}))

	status, err := s.PriceStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalPrints)
	assert.Equal(t, 1, status.PricedFresh)
	assert.Equal(t, 0, status.PricedStale)
	assert.Equal(t, 1, status.Unpriced)
	assert.Equal(t, 1, status.ErrorEntries)
}

func TestSQLite_BulkUpsertCardPrints(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	n, err := s.BulkUpsertCardPrints(ctx, []model.CardPrint{
		{SetCode: "g1", Number: "001", Lang: "en", Name: "Ember Cub"},
		{SetCode: "g1", Number: "002", Lang: "en", Name: "Mist Fawn"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	prints, err := s.ListCardPrintsBySet(ctx, "g1", 0)
	require.NoError(t, err)
	assert.Len(t, prints, 2)
}
