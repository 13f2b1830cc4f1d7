package services

import (
	"context"
	"reflect"
	"sort"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/observability"
	"github.com/scanlog/server/internal/repository"
)

// DayCounts returns a copy of day's counts, empty when the day is absent
func DayCounts(root models.Root, day string) map[string]int {
	return root.Day(day).Counts
}

// AllDaysDescending returns every day key, newest first
func AllDaysDescending(root models.Root) []string {
	days := make([]string, 0, len(root))
	for day := range root {
		days = append(days, day)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	return days
}

// SortedCounts orders counts by mode. SortByCount breaks ties by code so
// the order is total.
func SortedCounts(counts map[string]int, mode models.SortMode) []models.CountEntry {
	entries := make([]models.CountEntry, 0, len(counts))
	for code, n := range counts {
		entries = append(entries, models.CountEntry{Code: code, Count: n})
	}

	sort.Slice(entries, func(i, j int) bool {
		if mode != models.SortByCode && entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Code < entries[j].Code
	})
	return entries
}

// Total sums the quantities in counts
func Total(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// Projector derives read models from the preference store. One-shot reads
// take a snapshot; Watch variants follow every commit and only emit when
// the derived value changes.
type Projector struct {
	prefs  repository.PreferenceStore
	store  *TallyStore
	logger *observability.Logger
}

// NewProjector creates a Projector over the tally store's preferences
func NewProjector(store *TallyStore) *Projector {
	return &Projector{
		prefs:  store.Preferences(),
		store:  store,
		logger: store.logger.With("component", "projection"),
	}
}

func (p *Projector) root(ctx context.Context) (models.Root, error) {
	prefs, err := p.prefs.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return RootFromPreferences(prefs, p.logger), nil
}

// DayCounts returns the counts for day
func (p *Projector) DayCounts(ctx context.Context, day string) (map[string]int, error) {
	root, err := p.root(ctx)
	if err != nil {
		return nil, err
	}
	return DayCounts(root, day), nil
}

// TodayCounts returns the counts for the store's current day
func (p *Projector) TodayCounts(ctx context.Context) (map[string]int, error) {
	return p.DayCounts(ctx, p.store.TodayKey())
}

// Days returns every day with data, newest first
func (p *Projector) Days(ctx context.Context) ([]string, error) {
	root, err := p.root(ctx)
	if err != nil {
		return nil, err
	}
	return AllDaysDescending(root), nil
}

// Sorted returns day's entries in mode order
func (p *Projector) Sorted(ctx context.Context, day string, mode models.SortMode) ([]models.CountEntry, error) {
	counts, err := p.DayCounts(ctx, day)
	if err != nil {
		return nil, err
	}
	return SortedCounts(counts, mode), nil
}

// Total returns the sum of day's quantities
func (p *Projector) Total(ctx context.Context, day string) (int, error) {
	counts, err := p.DayCounts(ctx, day)
	if err != nil {
		return 0, err
	}
	return Total(counts), nil
}

// WatchDayCounts follows day's counts
func (p *Projector) WatchDayCounts(ctx context.Context, day string) (<-chan map[string]int, error) {
	return watch(ctx, p, func(root models.Root) map[string]int {
		return DayCounts(root, day)
	})
}

// WatchDays follows the list of days
func (p *Projector) WatchDays(ctx context.Context) (<-chan []string, error) {
	return watch(ctx, p, AllDaysDescending)
}

// WatchSorted follows day's entries in mode order
func (p *Projector) WatchSorted(ctx context.Context, day string, mode models.SortMode) (<-chan []models.CountEntry, error) {
	return watch(ctx, p, func(root models.Root) []models.CountEntry {
		return SortedCounts(DayCounts(root, day), mode)
	})
}

// WatchTotal follows the sum of day's quantities
func (p *Projector) WatchTotal(ctx context.Context, day string) (<-chan int, error) {
	return watch(ctx, p, func(root models.Root) int {
		return Total(DayCounts(root, day))
	})
}

// WatchGuard follows the duplicate guard settings
func (p *Projector) WatchGuard(ctx context.Context) (<-chan models.DuplicateGuardSettings, error) {
	src, err := p.prefs.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return distinct(ctx, src, GuardFromPreferences), nil
}

func watch[T any](ctx context.Context, p *Projector, project func(models.Root) T) (<-chan T, error) {
	src, err := p.prefs.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return distinct(ctx, src, func(prefs models.Preferences) T {
		return project(RootFromPreferences(prefs, p.logger))
	}), nil
}

// distinct maps every snapshot from src and forwards only values that
// differ from the previous one. The output has the same single-slot
// conflation as the source, and closes when src closes.
func distinct[T any](ctx context.Context, src <-chan models.Preferences, project func(models.Preferences) T) <-chan T {
	out := make(chan T, 1)
	go func() {
		defer close(out)

		var last T
		first := true
		for prefs := range src {
			v := project(prefs)
			if !first && reflect.DeepEqual(v, last) {
				continue
			}
			first = false
			last = v

			select {
			case <-out:
			default:
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
