package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/catalogwatch/harvester/internal/catalog"
	"github.com/catalogwatch/harvester/internal/store"
	"github.com/catalogwatch/harvester/internal/store/memory"
)

type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func testClock() *steppingClock {
	return &steppingClock{
		now:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		step: time.Second,
	}
}

func sampleRecord(price string) catalog.Record {
	return catalog.Record{
		ID:           "1000",
		Name:         "A Light in the Attic",
		PriceInclTax: price,
		PriceExclTax: price,
		Tax:          "0.00",
		Availability: "In stock (22 available)",
		UPC:          "a897fe39b1053632",
		PageURL:      "https://books.toscrape.com/catalogue/a-light-in-the-attic_1000/index.html",
	}
}

func TestUpsertInsertsNewRecord(t *testing.T) {
	t.Parallel()
	st := memory.New()
	d := New(st, testClock(), nil)
	ctx := context.Background()

	kind, err := d.Upsert(ctx, sampleRecord("51.77"), "run-1")
	require.NoError(t, err)
	require.Equal(t, catalog.ChangeInsert, kind)

	stored, err := st.GetRecord(ctx, "1000")
	require.NoError(t, err)
	require.Equal(t, "51.77", stored.PriceInclTax)
	require.NotEmpty(t, stored.Fingerprint)

	entries, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, catalog.ChangeInsert, entries[0].Kind)
	require.Equal(t, "run-1", entries[0].RunID)
	require.Empty(t, entries[0].Old)
	require.Equal(t, "51.77", entries[0].New["price_incl_tax"])
}

func TestUpsertUnchangedWritesNothing(t *testing.T) {
	t.Parallel()
	st := memory.New()
	d := New(st, testClock(), nil)
	ctx := context.Background()

	_, err := d.Upsert(ctx, sampleRecord("51.77"), "run-1")
	require.NoError(t, err)

	kind, err := d.Upsert(ctx, sampleRecord("51.77"), "run-2")
	require.NoError(t, err)
	require.Equal(t, catalog.ChangeKind(""), kind)

	entries, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestUpsertDetectsPriceChange(t *testing.T) {
	t.Parallel()
	st := memory.New()
	d := New(st, testClock(), nil)
	ctx := context.Background()

	_, err := d.Upsert(ctx, sampleRecord("51.77"), "run-1")
	require.NoError(t, err)

	changed := sampleRecord("55.00")
	kind, err := d.Upsert(ctx, changed, "run-2")
	require.NoError(t, err)
	require.Equal(t, catalog.ChangeUpdate, kind)

	stored, err := st.GetRecord(ctx, "1000")
	require.NoError(t, err)
	require.Equal(t, "55.00", stored.PriceInclTax)
	require.Equal(t, changed.Fingerprint(), stored.Fingerprint)

	entries, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	update := entries[0]
	require.Equal(t, catalog.ChangeUpdate, update.Kind)
	require.Equal(t, "51.77", update.Old["price_incl_tax"])
	require.Equal(t, "55.00", update.New["price_incl_tax"])
}

func TestUpsertDetectsRatingChange(t *testing.T) {
	t.Parallel()
	st := memory.New()
	d := New(st, testClock(), nil)
	ctx := context.Background()

	first := sampleRecord("51.77")
	first.Category = "Poetry"
	first.Rating = 3
	_, err := d.Upsert(ctx, first, "run-1")
	require.NoError(t, err)

	// Same price and fields, only the star rating moved.
	changed := sampleRecord("51.77")
	changed.Category = "Poetry"
	changed.Rating = 4
	kind, err := d.Upsert(ctx, changed, "run-2")
	require.NoError(t, err)
	require.Equal(t, catalog.ChangeUpdate, kind)

	stored, err := st.GetRecord(ctx, "1000")
	require.NoError(t, err)
	require.Equal(t, 4, stored.Rating)

	entries, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "3", entries[0].Old["rating"])
	require.Equal(t, "4", entries[0].New["rating"])
}

func TestUpsertRejectsMissingIdentifier(t *testing.T) {
	t.Parallel()
	d := New(memory.New(), testClock(), nil)

	_, err := d.Upsert(context.Background(), catalog.Record{Name: "no id"}, "run-1")
	require.Error(t, err)
}

func TestUpsertTimestampsNeverDecrease(t *testing.T) {
	t.Parallel()
	st := memory.New()
	d := New(st, testClock(), nil)
	ctx := context.Background()

	prices := []string{"10.00", "20.00", "30.00", "40.00"}
	for i, p := range prices {
		_, err := d.Upsert(ctx, sampleRecord(p), "run-1")
		require.NoError(t, err, "upsert %d", i)
	}

	entries, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, len(prices))
	for i := 1; i < len(entries); i++ {
		require.False(t, entries[i-1].Timestamp.Before(entries[i].Timestamp))
	}
}

func TestUpsertConcurrentSameIdentifier(t *testing.T) {
	t.Parallel()
	st := memory.New()
	d := New(st, testClock(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Upsert(ctx, sampleRecord("51.77"), "run-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Exactly one writer should observe the insert; the rest are unchanged.
	entries, err := st.RecentChanges(ctx, 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, catalog.ChangeInsert, entries[0].Kind)

	count, err := st.CountRecords(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

var _ store.Store = (*memory.Store)(nil)
