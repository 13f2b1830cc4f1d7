package models

import (
	"time"

	"github.com/google/uuid"
)

// Preference keys owned by the tally store
const (
	KeyDaysJSON        = "days_json"
	KeyDupGuardEnabled = "dup_guard_enabled"
	KeyDupWindowMs     = "dup_window_ms"
)

// Duplicate guard defaults
const (
	DefaultDupGuardEnabled = true
	DefaultDupWindowMs     = int64(2000)
)

// DuplicateGuardSettings controls suppression of rapid repeat scans
type DuplicateGuardSettings struct {
	Enabled  bool  `json:"enabled"`
	WindowMs int64 `json:"windowMs"`
}

// DefaultDuplicateGuard returns the guard used when nothing is stored
func DefaultDuplicateGuard() DuplicateGuardSettings {
	return DuplicateGuardSettings{Enabled: DefaultDupGuardEnabled, WindowMs: DefaultDupWindowMs}
}

// Window returns the window as a duration
func (s DuplicateGuardSettings) Window() time.Duration {
	return time.Duration(s.WindowMs) * time.Millisecond
}

// ScanOutcome says what happened to a scan input
type ScanOutcome string

const (
	OutcomeRecorded     ScanOutcome = "recorded"
	OutcomeInvalidInput ScanOutcome = "invalid_input"
	OutcomeDuplicate    ScanOutcome = "duplicate"
	OutcomeInactive     ScanOutcome = "inactive"
)

// RecordResult is returned by RecordScan
type RecordResult struct {
	Recorded   bool        `json:"recorded"`
	CountAfter *int        `json:"countAfter"`
	Outcome    ScanOutcome `json:"outcome"`
	Code       string      `json:"code,omitempty"`
	Day        string      `json:"day,omitempty"`
}

// RecordedResult builds a successful result
func RecordedResult(code, day string, countAfter int) RecordResult {
	n := countAfter
	return RecordResult{Recorded: true, CountAfter: &n, Outcome: OutcomeRecorded, Code: code, Day: day}
}

// NotRecordedResult builds a result for a scan that changed nothing
func NotRecordedResult(outcome ScanOutcome, code, day string) RecordResult {
	return RecordResult{Recorded: false, Outcome: outcome, Code: code, Day: day}
}

// UndoResult reports whether undo reversed a scan
type UndoResult struct {
	Undone     bool   `json:"undone"`
	Code       string `json:"code,omitempty"`
	Day        string `json:"day"`
	CountAfter int    `json:"countAfter"`
}

// ScanEvent is one entry of the recent scans feed
type ScanEvent struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	CountAfter int       `json:"countAfter"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewScanEvent creates a feed entry for a recorded scan
func NewScanEvent(code string, countAfter int, ts time.Time) ScanEvent {
	return ScanEvent{
		ID:         uuid.New().String(),
		Code:       code,
		CountAfter: countAfter,
		Timestamp:  ts,
	}
}

// SortMode selects the ordering of a day's counts
type SortMode string

const (
	SortByCount SortMode = "count" // count desc, then code asc
	SortByCode  SortMode = "code"  // code asc
)

// ParseSortMode maps a query value to a sort mode, defaulting to by-count
func ParseSortMode(s string) SortMode {
	switch s {
	case "code", "alpha", "by_code":
		return SortByCode
	default:
		return SortByCount
	}
}

// CountEntry is one (code, count) pair in a sorted projection
type CountEntry struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}
