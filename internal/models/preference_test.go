package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreferences(t *testing.T) {
	prefs := NewPreferences(map[string]PreferenceValue{
		"name":    StringValue("scanner"),
		"window":  LongValue(2000),
		"enabled": BoolValue(false),
		"legacy":  StringValue("true"),
	})

	t.Run("typed getters", func(t *testing.T) {
		s, ok := prefs.String("name")
		assert.True(t, ok)
		assert.Equal(t, "scanner", s)

		n, ok := prefs.Long("window")
		assert.True(t, ok)
		assert.Equal(t, int64(2000), n)

		b, ok := prefs.Bool("enabled")
		assert.True(t, ok)
		assert.False(t, b)
	})

	t.Run("bool accepts string encoded flags", func(t *testing.T) {
		b, ok := prefs.Bool("legacy")
		assert.True(t, ok)
		assert.True(t, b)
	})

	t.Run("type mismatch reads as absent", func(t *testing.T) {
		_, ok := prefs.Long("name")
		assert.False(t, ok)
		_, ok = prefs.String("window")
		assert.False(t, ok)
	})

	t.Run("keys are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"enabled", "legacy", "name", "window"}, prefs.Keys())
	})
}

func TestPreferenceEdit(t *testing.T) {
	base := NewPreferences(map[string]PreferenceValue{"a": LongValue(1)})

	t.Run("writing the same value is not a change", func(t *testing.T) {
		edit := base.Edit()
		edit.SetLong("a", 1)
		assert.False(t, edit.Changed())
	})

	t.Run("removing a missing key is not a change", func(t *testing.T) {
		edit := base.Edit()
		edit.Remove("missing")
		assert.False(t, edit.Changed())
	})

	t.Run("reads see pending writes", func(t *testing.T) {
		edit := base.Edit()
		edit.SetLong("a", 5)
		edit.SetString("b", "x")

		n, _ := edit.Long("a")
		assert.Equal(t, int64(5), n)
		s, _ := edit.String("b")
		assert.Equal(t, "x", s)
	})

	t.Run("apply leaves the base untouched", func(t *testing.T) {
		edit := base.Edit()
		edit.Remove("a")
		next := edit.Apply()

		_, ok := next.Long("a")
		assert.False(t, ok)
		n, ok := base.Long("a")
		assert.True(t, ok)
		assert.Equal(t, int64(1), n)
	})

	t.Run("changes marks removals with nil", func(t *testing.T) {
		edit := base.Edit()
		edit.Remove("a")
		changes := edit.Changes()
		v, ok := changes["a"]
		assert.True(t, ok)
		assert.Nil(t, v)
	})
}
