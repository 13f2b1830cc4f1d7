package services

import (
	"context"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/observability"
	"github.com/scanlog/server/internal/repository"
)

// deleteDelta zeroes any realistic count when applied through IncrementCode
const deleteDelta = -1_000_000

// TallyStore owns the per-day scan tallies and duplicate guard settings.
// Every mutation is a single PreferenceStore transaction, so concurrent
// callers never lose updates and a failed write leaves state untouched.
type TallyStore struct {
	prefs   repository.PreferenceStore
	loc     *time.Location
	clock   func() time.Time
	logger  *observability.Logger
	metrics *observability.TallyMetrics
}

// TallyOption configures a TallyStore
type TallyOption func(*TallyStore)

// WithLocation sets the zone used to derive day keys. Defaults to time.Local.
func WithLocation(loc *time.Location) TallyOption {
	return func(s *TallyStore) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the wall clock used by TodayKey
func WithClock(clock func() time.Time) TallyOption {
	return func(s *TallyStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) TallyOption {
	return func(s *TallyStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables scan, undo and edit counters
func WithMetrics(metrics *observability.TallyMetrics) TallyOption {
	return func(s *TallyStore) {
		s.metrics = metrics
	}
}

// NewTallyStore creates a TallyStore over prefs
func NewTallyStore(prefs repository.PreferenceStore, opts ...TallyOption) *TallyStore {
	s := &TallyStore{
		prefs:  prefs,
		loc:    time.Local,
		clock:  time.Now,
		logger: observability.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tally")
	return s
}

// Normalize trims whitespace and upper-cases a raw scan
func Normalize(code string) string {
	return models.NormalizeCode(code)
}

// Location returns the zone used for day keys
func (s *TallyStore) Location() *time.Location {
	return s.loc
}

// Now returns the store clock's current time
func (s *TallyStore) Now() time.Time {
	return s.clock()
}

// DayKey returns the day key for t in the store location
func (s *TallyStore) DayKey(t time.Time) string {
	return models.DayKey(t, s.loc)
}

// TodayKey returns the day key for the current clock time
func (s *TallyStore) TodayKey() string {
	return s.DayKey(s.clock())
}

// RecordScan counts one scan of raw at now. Blank input and repeats of the
// day's last code inside the duplicate window are reported through the
// outcome and change nothing.
func (s *TallyStore) RecordScan(ctx context.Context, raw string, now time.Time) (models.RecordResult, error) {
	code := Normalize(raw)
	day := s.DayKey(now)
	if code == "" {
		s.metrics.RecordScan(ctx, string(models.OutcomeInvalidInput))
		return models.NotRecordedResult(models.OutcomeInvalidInput, "", day), nil
	}

	ctx, span := s.startSpan(ctx, "RecordScan", day)
	defer span.End()
	span.SetAttributes(observability.Code(code))

	result := models.NotRecordedResult(models.OutcomeDuplicate, code, day)
	_, err := s.prefs.Transact(ctx, func(edit *models.PreferenceEdit) error {
		root := s.readRoot(edit)
		guard := readGuard(edit)
		state := root.Day(day)

		nowMs := now.UnixMilli()
		if isDuplicate(guard, state, code, nowMs) {
			return nil
		}

		state.Counts[code] = saturatingAdd(state.Counts[code], 1)
		state.SetLast(code, nowMs)
		root[day] = state

		if err := writeRoot(edit, root); err != nil {
			return err
		}
		result = models.RecordedResult(code, day, state.Counts[code])
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		s.logger.WithContext(ctx).Error("record scan failed", "code", code, "day", day, "error", err)
		return models.RecordResult{}, err
	}

	s.metrics.RecordScan(ctx, string(result.Outcome))
	span.SetAttributes(observability.Outcome(string(result.Outcome)))
	observability.SetSuccess(span)
	s.logger.WithContext(ctx).Debug("scan processed", "code", code, "day", day, "outcome", result.Outcome)
	return result, nil
}

func isDuplicate(guard models.DuplicateGuardSettings, state models.DayState, code string, nowMs int64) bool {
	return guard.Enabled &&
		state.LastCode != nil && *state.LastCode == code &&
		state.LastTsMs != nil &&
		nowMs-*state.LastTsMs < guard.WindowMs
}

// UndoLast reverses the most recent recorded scan of the day containing now.
// Undo is single-level: the last-scan marker is cleared, so a second call is
// a no-op until the next scan.
func (s *TallyStore) UndoLast(ctx context.Context, now time.Time) (models.UndoResult, error) {
	day := s.DayKey(now)
	ctx, span := s.startSpan(ctx, "UndoLast", day)
	defer span.End()

	result := models.UndoResult{Day: day}
	_, err := s.prefs.Transact(ctx, func(edit *models.PreferenceEdit) error {
		root := s.readRoot(edit)
		if _, ok := root[day]; !ok {
			return nil
		}
		state := root.Day(day)
		if state.LastCode == nil {
			return nil
		}

		code := *state.LastCode
		qty := state.Counts[code]
		if qty <= 0 {
			return nil
		}

		qty--
		if qty == 0 {
			delete(state.Counts, code)
		} else {
			state.Counts[code] = qty
		}
		state.ClearLast()
		root[day] = state

		if err := writeRoot(edit, root); err != nil {
			return err
		}
		result = models.UndoResult{Undone: true, Code: code, Day: day, CountAfter: qty}
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return models.UndoResult{}, err
	}

	s.metrics.RecordUndo(ctx, result.Undone)
	observability.SetSuccess(span)
	if result.Undone {
		s.logger.WithContext(ctx).Info("undid last scan", "code", result.Code, "day", day, "count", result.CountAfter)
	}
	return result, nil
}

// IncrementCode applies delta to code on day and returns the resulting
// quantity. Quantities floor at zero and a zero quantity removes the entry.
// A blank code is ignored.
func (s *TallyStore) IncrementCode(ctx context.Context, day, code string, delta int) (int, error) {
	return s.edit(ctx, "IncrementCode", day, code, func(current int) int {
		return saturatingAdd(current, delta)
	})
}

// saturatingAdd adds delta to a non-negative count, pinning at math.MaxInt
// instead of wrapping
func saturatingAdd(current, delta int) int {
	if delta > 0 && current > math.MaxInt-delta {
		return math.MaxInt
	}
	return current + delta
}

// DeleteCode removes code from day
func (s *TallyStore) DeleteCode(ctx context.Context, day, code string) error {
	_, err := s.IncrementCode(ctx, day, code, deleteDelta)
	return err
}

// SetCodeCount sets code on day to exactly n. The delta is computed against
// the quantity read inside the same transaction.
func (s *TallyStore) SetCodeCount(ctx context.Context, day, code string, n int) (int, error) {
	if n < 0 {
		return 0, models.ErrNegativeCount
	}
	return s.edit(ctx, "SetCodeCount", day, code, func(int) int {
		return n
	})
}

func (s *TallyStore) edit(ctx context.Context, op, day, code string, target func(current int) int) (int, error) {
	if err := models.ValidateDayKey(day); err != nil {
		return 0, err
	}
	code = Normalize(code)
	if code == "" {
		return 0, nil
	}

	ctx, span := s.startSpan(ctx, op, day)
	defer span.End()
	span.SetAttributes(observability.Code(code))

	var qty int
	_, err := s.prefs.Transact(ctx, func(edit *models.PreferenceEdit) error {
		root := s.readRoot(edit)
		_, exists := root[day]
		state := root.Day(day)

		current := state.Counts[code]
		qty = applyDelta(&state, code, target(current)-current)
		if qty == current {
			return nil
		}
		if !exists && qty == 0 {
			return nil
		}

		root[day] = state
		return writeRoot(edit, root)
	})
	if err != nil {
		observability.RecordError(span, err)
		return 0, err
	}

	s.metrics.RecordEdit(ctx, op)
	observability.SetSuccess(span)
	s.logger.WithContext(ctx).Info("code edited", "op", op, "day", day, "code", code, "count", qty)
	return qty, nil
}

// applyDelta is the single edit primitive: floor at zero, drop empty
// entries, and forget the last-scan marker when its code is gone so undo
// cannot resurrect it.
func applyDelta(state *models.DayState, code string, delta int) int {
	qty := state.Counts[code] + delta
	if qty < 0 {
		qty = 0
	}
	if qty == 0 {
		delete(state.Counts, code)
		if state.LastCode != nil && *state.LastCode == code {
			state.ClearLast()
		}
		return 0
	}
	state.Counts[code] = qty
	return qty
}

// DeleteDay removes day and everything recorded on it
func (s *TallyStore) DeleteDay(ctx context.Context, day string) error {
	if err := models.ValidateDayKey(day); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, "DeleteDay", day)
	defer span.End()

	deleted := false
	_, err := s.prefs.Transact(ctx, func(edit *models.PreferenceEdit) error {
		root := s.readRoot(edit)
		if _, ok := root[day]; !ok {
			return nil
		}
		delete(root, day)
		deleted = true
		return writeRoot(edit, root)
	})
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	observability.SetSuccess(span)
	if deleted {
		s.metrics.RecordEdit(ctx, "DeleteDay")
		s.logger.WithContext(ctx).Info("day deleted", "day", day)
	}
	return nil
}

// SetDuplicateGuardEnabled turns the duplicate guard on or off for later scans
func (s *TallyStore) SetDuplicateGuardEnabled(ctx context.Context, enabled bool) error {
	_, err := s.prefs.Transact(ctx, func(edit *models.PreferenceEdit) error {
		edit.SetBool(models.KeyDupGuardEnabled, enabled)
		return nil
	})
	if err == nil {
		s.logger.Info("duplicate guard updated", "enabled", enabled)
	}
	return err
}

// SetDuplicateWindowMs sets the duplicate window for later scans
func (s *TallyStore) SetDuplicateWindowMs(ctx context.Context, ms int64) error {
	if ms < 0 {
		return models.ErrNegativeWindow
	}
	_, err := s.prefs.Transact(ctx, func(edit *models.PreferenceEdit) error {
		edit.SetLong(models.KeyDupWindowMs, ms)
		return nil
	})
	if err == nil {
		s.logger.Info("duplicate window updated", "window_ms", ms)
	}
	return err
}

// UpdateDuplicateGuard changes the guard in one transaction. Nil fields keep
// their stored value; nothing is written when the window is negative.
func (s *TallyStore) UpdateDuplicateGuard(ctx context.Context, enabled *bool, windowMs *int64) (models.DuplicateGuardSettings, error) {
	if windowMs != nil && *windowMs < 0 {
		return models.DuplicateGuardSettings{}, models.ErrNegativeWindow
	}

	committed, err := s.prefs.Transact(ctx, func(edit *models.PreferenceEdit) error {
		if windowMs != nil {
			edit.SetLong(models.KeyDupWindowMs, *windowMs)
		}
		if enabled != nil {
			edit.SetBool(models.KeyDupGuardEnabled, *enabled)
		}
		return nil
	})
	if err != nil {
		return models.DuplicateGuardSettings{}, err
	}

	guard := GuardFromPreferences(committed)
	s.logger.Info("duplicate guard updated", "enabled", guard.Enabled, "window_ms", guard.WindowMs)
	return guard, nil
}

// DuplicateGuard returns the stored guard settings, or the defaults
func (s *TallyStore) DuplicateGuard(ctx context.Context) (models.DuplicateGuardSettings, error) {
	prefs, err := s.prefs.Snapshot(ctx)
	if err != nil {
		return models.DuplicateGuardSettings{}, err
	}
	return GuardFromPreferences(prefs), nil
}

// Root returns a snapshot of every day
func (s *TallyStore) Root(ctx context.Context) (models.Root, error) {
	prefs, err := s.prefs.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return RootFromPreferences(prefs, s.logger), nil
}

// Preferences exposes the underlying store for projections
func (s *TallyStore) Preferences() repository.PreferenceStore {
	return s.prefs
}

func (s *TallyStore) startSpan(ctx context.Context, op, day string) (context.Context, trace.Span) {
	ctx, span := observability.StartServiceSpan(ctx, "TallyStore", op)
	span.SetAttributes(observability.DayKey(day))
	return ctx, span
}

// readRoot decodes the stored document. An unreadable document reads as
// empty so a bad write can never take the scanner down.
func (s *TallyStore) readRoot(edit *models.PreferenceEdit) models.Root {
	raw, _ := edit.String(models.KeyDaysJSON)
	return decodeOrEmpty(raw, s.logger)
}

func writeRoot(edit *models.PreferenceEdit, root models.Root) error {
	data, err := models.EncodeRoot(root)
	if err != nil {
		return err
	}
	edit.SetString(models.KeyDaysJSON, data)
	return nil
}

func readGuard(edit *models.PreferenceEdit) models.DuplicateGuardSettings {
	guard := models.DefaultDuplicateGuard()
	if enabled, ok := edit.Bool(models.KeyDupGuardEnabled); ok {
		guard.Enabled = enabled
	}
	if window, ok := edit.Long(models.KeyDupWindowMs); ok && window >= 0 {
		guard.WindowMs = window
	}
	return guard
}

// GuardFromPreferences reads duplicate guard settings from a snapshot
func GuardFromPreferences(prefs models.Preferences) models.DuplicateGuardSettings {
	return readGuard(prefs.Edit())
}

// RootFromPreferences decodes the day map from a snapshot, reading a
// corrupt document as empty
func RootFromPreferences(prefs models.Preferences, logger *observability.Logger) models.Root {
	raw, _ := prefs.String(models.KeyDaysJSON)
	return decodeOrEmpty(raw, logger)
}

func decodeOrEmpty(raw string, logger *observability.Logger) models.Root {
	root, err := models.DecodeRoot(raw)
	if err != nil {
		if logger != nil && errors.Is(err, models.ErrCorruptRoot) {
			logger.Warn("stored tally document unreadable, treating as empty", "error", err)
		}
		return models.Root{}
	}
	return root
}
