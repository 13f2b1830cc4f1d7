package models

import (
	"encoding/json"
	"strings"
	"time"
)

// DayKeyLayout is the ISO calendar date format used for day keys
const DayKeyLayout = "2006-01-02"

// DayState holds the tally for a single calendar day
type DayState struct {
	Counts   map[string]int `json:"counts"`
	LastCode *string        `json:"lastCode"`
	LastTsMs *int64         `json:"lastTsMs"`
}

// NewDayState returns an empty day with no last scan
func NewDayState() DayState {
	return DayState{Counts: make(map[string]int)}
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (d DayState) Clone() DayState {
	out := DayState{Counts: make(map[string]int, len(d.Counts))}
	for k, v := range d.Counts {
		out.Counts[k] = v
	}
	if d.LastCode != nil {
		code := *d.LastCode
		out.LastCode = &code
	}
	if d.LastTsMs != nil {
		ts := *d.LastTsMs
		out.LastTsMs = &ts
	}
	return out
}

// SetLast marks code as the most recent scan at tsMs
func (d *DayState) SetLast(code string, tsMs int64) {
	d.LastCode = &code
	d.LastTsMs = &tsMs
}

// ClearLast removes the last-scan marker
func (d *DayState) ClearLast() {
	d.LastCode = nil
	d.LastTsMs = nil
}

// Total sums every quantity for the day
func (d DayState) Total() int {
	total := 0
	for _, n := range d.Counts {
		total += n
	}
	return total
}

// Root maps a day key to that day's state. It is the whole persisted domain.
type Root map[string]DayState

// Day returns the state for key, or an empty day if absent
func (r Root) Day(key string) DayState {
	if d, ok := r[key]; ok {
		return d.Clone()
	}
	return NewDayState()
}

// Clone returns a deep copy of the root
func (r Root) Clone() Root {
	out := make(Root, len(r))
	for k, v := range r {
		out[k] = v.Clone()
	}
	return out
}

// EncodeRoot serializes the root to the persisted JSON document
func EncodeRoot(r Root) (string, error) {
	if r == nil {
		r = Root{}
	}
	out := make(map[string]DayState, len(r))
	for k, v := range r {
		if v.Counts == nil {
			v.Counts = map[string]int{}
		}
		out[k] = v
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeRoot parses the persisted JSON document. A blank document is an
// empty root. Non-positive quantities are dropped on the way in.
func DecodeRoot(data string) (Root, error) {
	if strings.TrimSpace(data) == "" {
		return Root{}, nil
	}

	var raw map[string]DayState
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, ErrCorruptRoot.Wrap(err)
	}

	root := make(Root, len(raw))
	for day, state := range raw {
		counts := make(map[string]int, len(state.Counts))
		for code, n := range state.Counts {
			if n > 0 {
				counts[code] = n
			}
		}
		state.Counts = counts
		root[day] = state
	}
	return root, nil
}

// DayKey formats t as a day key in loc
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DayKeyLayout)
}

// ValidateDayKey checks that key is a real YYYY-MM-DD date
func ValidateDayKey(key string) error {
	t, err := time.Parse(DayKeyLayout, key)
	if err != nil || t.Format(DayKeyLayout) != key {
		return ErrInvalidDay
	}
	return nil
}

// NormalizeCode trims whitespace and upper-cases a scanned code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
