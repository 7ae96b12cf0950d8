package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_MergeIsDeep(t *testing.T) {
	s := NewSnapshot(map[string]any{
		"washerDryer": map[string]any{"state": "RUNNING", "remainTimeMinute": 20.0},
		"power":       "ON",
	})

	s.Merge(map[string]any{"washerDryer": map[string]any{"state": "END"}})

	section := s.Section("washerDryer")
	assert.Equal(t, "END", section["state"])
	assert.Equal(t, 20.0, section["remainTimeMinute"])
	assert.Equal(t, "ON", s.String("power"))
}

func TestSnapshot_CopyIsDetached(t *testing.T) {
	src := map[string]any{"nested": map[string]any{"a": 1.0}}
	s := NewSnapshot(src)

	src["nested"].(map[string]any)["a"] = 2.0
	out := s.Copy()
	out["nested"].(map[string]any)["a"] = 3.0

	assert.Equal(t, 1.0, s.Section("nested")["a"])
}

func TestSnapshot_Accessors(t *testing.T) {
	s := NewSnapshot(map[string]any{
		"float":   26.5,
		"numeric": "18",
		"flag":    true,
		"zero":    "0",
		"other":   []any{1},
	})

	assert.Equal(t, 26.5, s.Float("float"))
	assert.Equal(t, 26, s.Int("float"))
	assert.Equal(t, 18.0, s.Float("numeric"))
	assert.Equal(t, "26.5", s.String("float"))
	assert.True(t, s.Bool("flag"))
	assert.True(t, s.Bool("numeric"))
	assert.False(t, s.Bool("zero"))
	assert.False(t, s.Bool("missing"))
	assert.Equal(t, "", s.String("other"))
	assert.Equal(t, 0.0, s.Float("missing"))
	assert.Nil(t, s.Section("float"))
}

func TestSnapshot_ConcurrentMergeAndCopy(t *testing.T) {
	s := NewSnapshot(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Merge(map[string]any{"a": i, "b": i})
		}(i)
		go func() {
			defer wg.Done()
			snap := s.Copy()
			assert.Equal(t, snap["a"], snap["b"])
		}()
	}
	wg.Wait()

	v, ok := s.Get("a")
	require.True(t, ok)
	assert.NotNil(t, v)
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{1.5, 1.5, true},
		{float32(2), 2, true},
		{3, 3, true},
		{int64(4), 4, true},
		{"5.5", 5.5, true},
		{"abc", 0, false},
		{true, 1, true},
		{false, 0, true},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}
