package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/observability"
	"github.com/scanlog/server/internal/repository"
)

// base is 2024-05-01 10:00 UTC
var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

const baseDay = "2024-05-01"

func newTestStore(t *testing.T) (*TallyStore, *repository.MemoryStore) {
	t.Helper()
	prefs := repository.NewMemoryStore(nil)
	t.Cleanup(func() { prefs.Close() })

	store := NewTallyStore(prefs,
		WithLocation(time.UTC),
		WithClock(func() time.Time { return base }),
		WithLogger(observability.Discard()),
	)
	return store, prefs
}

func dayCounts(t *testing.T, store *TallyStore, day string) map[string]int {
	t.Helper()
	root, err := store.Root(context.Background())
	require.NoError(t, err)
	return DayCounts(root, day)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ABC", Normalize(" abc "))
	assert.Equal(t, "", Normalize("   "))

	for _, in := range []string{"abc", " A b ", "\tx-1\n", "ÄBC", ""} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestRecordScan(t *testing.T) {
	ctx := context.Background()

	t.Run("records normalized code", func(t *testing.T) {
		store, _ := newTestStore(t)

		result, err := store.RecordScan(ctx, " abc ", base)
		require.NoError(t, err)
		assert.True(t, result.Recorded)
		assert.Equal(t, models.OutcomeRecorded, result.Outcome)
		require.NotNil(t, result.CountAfter)
		assert.Equal(t, 1, *result.CountAfter)
		assert.Equal(t, "ABC", result.Code)
		assert.Equal(t, baseDay, result.Day)

		root, err := store.Root(ctx)
		require.NoError(t, err)
		day := root.Day(baseDay)
		require.NotNil(t, day.LastCode)
		assert.Equal(t, "ABC", *day.LastCode)
		require.NotNil(t, day.LastTsMs)
		assert.Equal(t, base.UnixMilli(), *day.LastTsMs)
	})

	t.Run("blank input is a no-op", func(t *testing.T) {
		store, prefs := newTestStore(t)

		for _, raw := range []string{"", "   ", "\t\n"} {
			result, err := store.RecordScan(ctx, raw, base)
			require.NoError(t, err)
			assert.False(t, result.Recorded)
			assert.Nil(t, result.CountAfter)
			assert.Equal(t, models.OutcomeInvalidInput, result.Outcome)
		}

		snap, err := prefs.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, snap.Len())
	})

	t.Run("suppresses repeats inside the window", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.RecordScan(ctx, "A", base)
		require.NoError(t, err)
		result, err := store.RecordScan(ctx, "A", base.Add(1999*time.Millisecond))
		require.NoError(t, err)

		assert.False(t, result.Recorded)
		assert.Nil(t, result.CountAfter)
		assert.Equal(t, models.OutcomeDuplicate, result.Outcome)
		assert.Equal(t, map[string]int{"A": 1}, dayCounts(t, store, baseDay))
	})

	t.Run("counts repeats at the window edge", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.RecordScan(ctx, "A", base)
		require.NoError(t, err)
		result, err := store.RecordScan(ctx, "A", base.Add(2000*time.Millisecond))
		require.NoError(t, err)

		assert.True(t, result.Recorded)
		assert.Equal(t, map[string]int{"A": 2}, dayCounts(t, store, baseDay))
	})

	t.Run("duplicate does not refresh the window", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.RecordScan(ctx, "A", base)
		require.NoError(t, err)
		_, err = store.RecordScan(ctx, "A", base.Add(1500*time.Millisecond))
		require.NoError(t, err)
		result, err := store.RecordScan(ctx, "A", base.Add(2500*time.Millisecond))
		require.NoError(t, err)

		assert.True(t, result.Recorded)
		assert.Equal(t, 2, *result.CountAfter)
	})

	t.Run("different code is never a duplicate", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.RecordScan(ctx, "A", base)
		require.NoError(t, err)
		result, err := store.RecordScan(ctx, "B", base.Add(time.Millisecond))
		require.NoError(t, err)
		assert.True(t, result.Recorded)
	})

	t.Run("disabled guard counts every scan", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.SetDuplicateGuardEnabled(ctx, false))

		for i := 0; i < 3; i++ {
			_, err := store.RecordScan(ctx, "A", base)
			require.NoError(t, err)
		}
		assert.Equal(t, map[string]int{"A": 3}, dayCounts(t, store, baseDay))
	})

	t.Run("window change applies to the next scan", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.RecordScan(ctx, "A", base)
		require.NoError(t, err)
		require.NoError(t, store.SetDuplicateWindowMs(ctx, 100))

		result, err := store.RecordScan(ctx, "A", base.Add(150*time.Millisecond))
		require.NoError(t, err)
		assert.True(t, result.Recorded)
	})

	t.Run("buckets by the scan instant", func(t *testing.T) {
		store, _ := newTestStore(t)
		lateNight := time.Date(2024, 4, 30, 23, 59, 59, 0, time.UTC)

		result, err := store.RecordScan(ctx, "A", lateNight)
		require.NoError(t, err)
		assert.Equal(t, "2024-04-30", result.Day)
		assert.Equal(t, map[string]int{"A": 1}, dayCounts(t, store, "2024-04-30"))
		assert.Empty(t, dayCounts(t, store, baseDay))
	})

	t.Run("days are isolated", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.RecordScan(ctx, "A", base)
		require.NoError(t, err)
		_, err = store.RecordScan(ctx, "B", base.Add(24*time.Hour))
		require.NoError(t, err)

		assert.Equal(t, map[string]int{"A": 1}, dayCounts(t, store, baseDay))
		assert.Equal(t, map[string]int{"B": 1}, dayCounts(t, store, "2024-05-02"))
	})

	t.Run("persistence failure leaves state intact", func(t *testing.T) {
		store, prefs := newTestStore(t)
		_, err := store.RecordScan(ctx, "A", base)
		require.NoError(t, err)

		diskFull := errors.New("disk full")
		prefs.FailCommits(diskFull)
		_, err = store.RecordScan(ctx, "B", base.Add(time.Second))
		assert.ErrorIs(t, err, diskFull)

		prefs.FailCommits(nil)
		assert.Equal(t, map[string]int{"A": 1}, dayCounts(t, store, baseDay))
	})

	t.Run("concurrent scans lose no updates", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.SetDuplicateGuardEnabled(ctx, false))

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				code := "A"
				if i%2 == 1 {
					code = "B"
				}
				_, err := store.RecordScan(ctx, code, base)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, map[string]int{"A": 25, "B": 25}, dayCounts(t, store, baseDay))
	})
}

func TestUndoLast(t *testing.T) {
	ctx := context.Background()

	t.Run("reverses exactly one scan", func(t *testing.T) {
		store, _ := newTestStore(t)
		for i := 0; i < 3; i++ {
			_, err := store.RecordScan(ctx, "A", base.Add(time.Duration(i)*3*time.Second))
			require.NoError(t, err)
		}

		result, err := store.UndoLast(ctx, base.Add(10*time.Second))
		require.NoError(t, err)
		assert.True(t, result.Undone)
		assert.Equal(t, "A", result.Code)
		assert.Equal(t, 2, result.CountAfter)

		result, err = store.UndoLast(ctx, base.Add(11*time.Second))
		require.NoError(t, err)
		assert.False(t, result.Undone)
		assert.Equal(t, map[string]int{"A": 2}, dayCounts(t, store, baseDay))
	})

	t.Run("removes entry at zero and clears marker", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.RecordScan(ctx, "A", base)
		require.NoError(t, err)

		_, err = store.UndoLast(ctx, base)
		require.NoError(t, err)

		root, err := store.Root(ctx)
		require.NoError(t, err)
		day := root.Day(baseDay)
		assert.Empty(t, day.Counts)
		assert.Nil(t, day.LastCode)
		assert.Nil(t, day.LastTsMs)
	})

	t.Run("no scans today is a no-op", func(t *testing.T) {
		store, prefs := newTestStore(t)

		result, err := store.UndoLast(ctx, base)
		require.NoError(t, err)
		assert.False(t, result.Undone)

		snap, err := prefs.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, snap.Len())
	})

	t.Run("only targets today", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.RecordScan(ctx, "A", base)
		require.NoError(t, err)

		result, err := store.UndoLast(ctx, base.Add(24*time.Hour))
		require.NoError(t, err)
		assert.False(t, result.Undone)
		assert.Equal(t, map[string]int{"A": 1}, dayCounts(t, store, baseDay))
	})

	t.Run("a scan after undo re-arms it", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.RecordScan(ctx, "A", base)
		require.NoError(t, err)
		_, err = store.UndoLast(ctx, base)
		require.NoError(t, err)

		// The marker is gone, so the same code inside the window counts again
		result, err := store.RecordScan(ctx, "A", base.Add(time.Millisecond))
		require.NoError(t, err)
		assert.True(t, result.Recorded)

		undo, err := store.UndoLast(ctx, base)
		require.NoError(t, err)
		assert.True(t, undo.Undone)
	})
}

func TestIncrementCode(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, store *TallyStore, code string, n int) {
		t.Helper()
		require.NoError(t, store.SetDuplicateGuardEnabled(ctx, false))
		for i := 0; i < n; i++ {
			_, err := store.RecordScan(ctx, code, base)
			require.NoError(t, err)
		}
	}

	t.Run("floors at zero and removes the entry", func(t *testing.T) {
		store, _ := newTestStore(t)
		seed(t, store, "A", 5)

		qty, err := store.IncrementCode(ctx, baseDay, "a", -1_000_000)
		require.NoError(t, err)
		assert.Equal(t, 0, qty)

		counts := dayCounts(t, store, baseDay)
		_, ok := counts["A"]
		assert.False(t, ok)
	})

	t.Run("clearing the last code stops undo resurrecting it", func(t *testing.T) {
		store, _ := newTestStore(t)
		seed(t, store, "A", 2)

		require.NoError(t, store.DeleteCode(ctx, baseDay, "A"))
		result, err := store.UndoLast(ctx, base)
		require.NoError(t, err)
		assert.False(t, result.Undone)
		assert.Empty(t, dayCounts(t, store, baseDay))
	})

	t.Run("keeps last code when entry survives", func(t *testing.T) {
		store, _ := newTestStore(t)
		seed(t, store, "A", 3)

		qty, err := store.IncrementCode(ctx, baseDay, "A", -1)
		require.NoError(t, err)
		assert.Equal(t, 2, qty)

		root, err := store.Root(ctx)
		require.NoError(t, err)
		require.NotNil(t, root.Day(baseDay).LastCode)
	})

	t.Run("creates entries on historical days", func(t *testing.T) {
		store, _ := newTestStore(t)

		qty, err := store.IncrementCode(ctx, "2023-12-31", " x ", 4)
		require.NoError(t, err)
		assert.Equal(t, 4, qty)
		assert.Equal(t, map[string]int{"X": 4}, dayCounts(t, store, "2023-12-31"))
	})

	t.Run("decrement on absent day creates nothing", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.IncrementCode(ctx, "2023-12-31", "X", -1)
		require.NoError(t, err)

		root, err := store.Root(ctx)
		require.NoError(t, err)
		assert.Empty(t, root)
	})

	t.Run("blank code and zero delta are no-ops", func(t *testing.T) {
		store, _ := newTestStore(t)
		seed(t, store, "A", 1)

		qty, err := store.IncrementCode(ctx, baseDay, "  ", 5)
		require.NoError(t, err)
		assert.Equal(t, 0, qty)

		qty, err = store.IncrementCode(ctx, baseDay, "A", 0)
		require.NoError(t, err)
		assert.Equal(t, 1, qty)
	})

	t.Run("huge delta saturates instead of wrapping", func(t *testing.T) {
		store, _ := newTestStore(t)
		seed(t, store, "A", 5)

		qty, err := store.IncrementCode(ctx, baseDay, "A", math.MaxInt)
		require.NoError(t, err)
		assert.Equal(t, math.MaxInt, qty)
		assert.Equal(t, map[string]int{"A": math.MaxInt}, dayCounts(t, store, baseDay))

		qty, err = store.IncrementCode(ctx, baseDay, "A", 1)
		require.NoError(t, err)
		assert.Equal(t, math.MaxInt, qty)

		qty, err = store.IncrementCode(ctx, baseDay, "A", math.MinInt)
		require.NoError(t, err)
		assert.Equal(t, 0, qty)
	})

	t.Run("rejects malformed days", func(t *testing.T) {
		store, _ := newTestStore(t)
		for _, day := range []string{"", "2024-5-1", "2024-02-30", "today"} {
			_, err := store.IncrementCode(ctx, day, "A", 1)
			assert.ErrorIs(t, err, models.ErrInvalidDay, day)
		}
	})
}

func TestSetCodeCount(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	qty, err := store.SetCodeCount(ctx, baseDay, "a", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, qty)

	qty, err = store.SetCodeCount(ctx, baseDay, "A", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, qty)

	qty, err = store.SetCodeCount(ctx, baseDay, "A", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, qty)
	assert.Empty(t, dayCounts(t, store, baseDay))

	_, err = store.SetCodeCount(ctx, baseDay, "A", -1)
	assert.ErrorIs(t, err, models.ErrNegativeCount)
}

func TestDeleteDay(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.RecordScan(ctx, "A", base)
	require.NoError(t, err)
	_, err = store.RecordScan(ctx, "B", base.Add(24*time.Hour))
	require.NoError(t, err)

	require.NoError(t, store.DeleteDay(ctx, baseDay))
	root, err := store.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-02"}, AllDaysDescending(root))

	// absent day is fine
	require.NoError(t, store.DeleteDay(ctx, "2020-01-01"))
	assert.ErrorIs(t, store.DeleteDay(ctx, "nope"), models.ErrInvalidDay)
}

func TestDuplicateGuardSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		store, _ := newTestStore(t)
		guard, err := store.DuplicateGuard(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.DuplicateGuardSettings{Enabled: true, WindowMs: 2000}, guard)
	})

	t.Run("persists updates", func(t *testing.T) {
		store, prefs := newTestStore(t)
		require.NoError(t, store.SetDuplicateGuardEnabled(ctx, false))
		require.NoError(t, store.SetDuplicateWindowMs(ctx, 500))

		guard, err := store.DuplicateGuard(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.DuplicateGuardSettings{Enabled: false, WindowMs: 500}, guard)

		snap, err := prefs.Snapshot(ctx)
		require.NoError(t, err)
		window, ok := snap.Long(models.KeyDupWindowMs)
		assert.True(t, ok)
		assert.Equal(t, int64(500), window)
	})

	t.Run("rejects negative window", func(t *testing.T) {
		store, _ := newTestStore(t)
		assert.ErrorIs(t, store.SetDuplicateWindowMs(ctx, -1), models.ErrNegativeWindow)
	})

	t.Run("updates both fields together", func(t *testing.T) {
		store, _ := newTestStore(t)
		enabled, window := false, int64(750)

		guard, err := store.UpdateDuplicateGuard(ctx, &enabled, &window)
		require.NoError(t, err)
		assert.Equal(t, models.DuplicateGuardSettings{Enabled: false, WindowMs: 750}, guard)

		window = 100
		guard, err = store.UpdateDuplicateGuard(ctx, nil, &window)
		require.NoError(t, err)
		assert.Equal(t, models.DuplicateGuardSettings{Enabled: false, WindowMs: 100}, guard)
	})

	t.Run("failed update changes neither field", func(t *testing.T) {
		store, prefs := newTestStore(t)
		enabled, window := false, int64(750)

		prefs.FailCommits(errors.New("disk full"))
		_, err := store.UpdateDuplicateGuard(ctx, &enabled, &window)
		require.Error(t, err)
		prefs.FailCommits(nil)

		guard, err := store.DuplicateGuard(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.DefaultDuplicateGuard(), guard)
	})

	t.Run("negative window rejects the whole update", func(t *testing.T) {
		store, _ := newTestStore(t)
		enabled, window := false, int64(-1)

		_, err := store.UpdateDuplicateGuard(ctx, &enabled, &window)
		assert.ErrorIs(t, err, models.ErrNegativeWindow)

		guard, err := store.DuplicateGuard(ctx)
		require.NoError(t, err)
		assert.True(t, guard.Enabled)
	})

	t.Run("reads legacy string flag", func(t *testing.T) {
		prefs := repository.NewMemoryStore(map[string]models.PreferenceValue{
			models.KeyDupGuardEnabled: models.StringValue("false"),
		})
		defer prefs.Close()
		store := NewTallyStore(prefs, WithLogger(observability.Discard()))

		guard, err := store.DuplicateGuard(ctx)
		require.NoError(t, err)
		assert.False(t, guard.Enabled)
	})
}

func TestCorruptDocumentReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	prefs := repository.NewMemoryStore(map[string]models.PreferenceValue{
		models.KeyDaysJSON: models.StringValue("{not json"),
	})
	defer prefs.Close()
	store := NewTallyStore(prefs, WithLocation(time.UTC), WithLogger(observability.Discard()))

	root, err := store.Root(ctx)
	require.NoError(t, err)
	assert.Empty(t, root)

	result, err := store.RecordScan(ctx, "A", base)
	require.NoError(t, err)
	assert.True(t, result.Recorded)
	assert.Equal(t, map[string]int{"A": 1}, dayCounts(t, store, baseDay))
}

func TestTodayKey(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	prefs := repository.NewMemoryStore(nil)
	defer prefs.Close()

	store := NewTallyStore(prefs,
		WithLocation(loc),
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC) }),
		WithLogger(observability.Discard()),
	)
	assert.Equal(t, "2024-05-02", store.TodayKey())
}
