package models

import (
	"sort"
	"strconv"
)

// PreferenceType is the primitive type of a stored preference value
type PreferenceType string

const (
	PreferenceString PreferenceType = "string"
	PreferenceLong   PreferenceType = "long"
	PreferenceBool   PreferenceType = "bool"
)

// PreferenceValue is a single typed value in the key-value store.
// Raw always holds the textual form so it can live in one TEXT column.
type PreferenceValue struct {
	Type PreferenceType `json:"type"`
	Raw  string         `json:"raw"`
}

// StringValue builds a string preference value
func StringValue(v string) PreferenceValue {
	return PreferenceValue{Type: PreferenceString, Raw: v}
}

// LongValue builds an int64 preference value
func LongValue(v int64) PreferenceValue {
	return PreferenceValue{Type: PreferenceLong, Raw: strconv.FormatInt(v, 10)}
}

// BoolValue builds a boolean preference value
func BoolValue(v bool) PreferenceValue {
	return PreferenceValue{Type: PreferenceBool, Raw: strconv.FormatBool(v)}
}

// Preferences is an immutable snapshot of every key in the store
type Preferences struct {
	values map[string]PreferenceValue
}

// NewPreferences copies values into a new snapshot
func NewPreferences(values map[string]PreferenceValue) Preferences {
	out := make(map[string]PreferenceValue, len(values))
	for k, v := range values {
		out[k] = v
	}
	return Preferences{values: out}
}

// Value returns the raw typed value for key
func (p Preferences) Value(key string) (PreferenceValue, bool) {
	v, ok := p.values[key]
	return v, ok
}

// String returns a string preference. Values of other types are reported as absent.
func (p Preferences) String(key string) (string, bool) {
	v, ok := p.values[key]
	if !ok || v.Type != PreferenceString {
		return "", false
	}
	return v.Raw, true
}

// Long returns an int64 preference
func (p Preferences) Long(key string) (int64, bool) {
	v, ok := p.values[key]
	if !ok || v.Type != PreferenceLong {
		return 0, false
	}
	n, err := strconv.ParseInt(v.Raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Bool returns a boolean preference. Strings holding "true" or "false" are
// accepted as well, since older stores wrote the guard flag as a string.
func (p Preferences) Bool(key string) (bool, bool) {
	v, ok := p.values[key]
	if !ok {
		return false, false
	}
	switch v.Type {
	case PreferenceBool, PreferenceString:
		b, err := strconv.ParseBool(v.Raw)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// Keys returns all keys in ascending order
func (p Preferences) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys
func (p Preferences) Len() int {
	return len(p.values)
}

// Edit starts a mutable view over the snapshot
func (p Preferences) Edit() *PreferenceEdit {
	return &PreferenceEdit{base: p, changes: make(map[string]*PreferenceValue)}
}

// PreferenceEdit records changes made inside a transaction. Reads see the
// pending changes. A nil entry in changes marks a removal.
type PreferenceEdit struct {
	base    Preferences
	changes map[string]*PreferenceValue
}

func (e *PreferenceEdit) current() Preferences {
	if len(e.changes) == 0 {
		return e.base
	}
	return e.Apply()
}

// String reads a string preference including pending changes
func (e *PreferenceEdit) String(key string) (string, bool) {
	return e.current().String(key)
}

// Long reads an int64 preference including pending changes
func (e *PreferenceEdit) Long(key string) (int64, bool) {
	return e.current().Long(key)
}

// Bool reads a boolean preference including pending changes
func (e *PreferenceEdit) Bool(key string) (bool, bool) {
	return e.current().Bool(key)
}

// Set stores a typed value. Writing the value already stored is not a change.
func (e *PreferenceEdit) Set(key string, value PreferenceValue) {
	if existing, ok := e.base.values[key]; ok && existing == value {
		delete(e.changes, key)
		return
	}
	v := value
	e.changes[key] = &v
}

// SetString stores a string preference
func (e *PreferenceEdit) SetString(key, value string) {
	e.Set(key, StringValue(value))
}

// SetLong stores an int64 preference
func (e *PreferenceEdit) SetLong(key string, value int64) {
	e.Set(key, LongValue(value))
}

// SetBool stores a boolean preference
func (e *PreferenceEdit) SetBool(key string, value bool) {
	e.Set(key, BoolValue(value))
}

// Remove deletes a key
func (e *PreferenceEdit) Remove(key string) {
	if _, ok := e.base.values[key]; !ok {
		delete(e.changes, key)
		return
	}
	e.changes[key] = nil
}

// Changed reports whether the edit would modify the store
func (e *PreferenceEdit) Changed() bool {
	return len(e.changes) > 0
}

// Changes returns the pending writes; a nil value means delete
func (e *PreferenceEdit) Changes() map[string]*PreferenceValue {
	out := make(map[string]*PreferenceValue, len(e.changes))
	for k, v := range e.changes {
		out[k] = v
	}
	return out
}

// Apply returns the snapshot that results from committing the edit
func (e *PreferenceEdit) Apply() Preferences {
	out := make(map[string]PreferenceValue, len(e.base.values)+len(e.changes))
	for k, v := range e.base.values {
		out[k] = v
	}
	for k, v := range e.changes {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = *v
	}
	return Preferences{values: out}
}
