package models

import (
	"strconv"
	"sync"
)

// Snapshot is the latest known mapping of property paths to raw values.
//
// Writers only merge: keys are overwritten (last writer wins) but never
// removed. A Merge is applied under one lock, so readers never observe a
// partially applied batch.
type Snapshot struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewSnapshot wraps a copy of the given raw snapshot.
func NewSnapshot(data map[string]any) *Snapshot {
	s := &Snapshot{data: make(map[string]any, len(data))}
	deepMerge(s.data, data)
	return s
}

// Get returns the raw value at key.
func (s *Snapshot) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Float returns the value at key as a number, or 0 when absent or not numeric.
func (s *Snapshot) Float(key string) float64 {
	v, _ := s.Get(key)
	f, _ := ToFloat(v)
	return f
}

// Int is Float truncated to an int.
func (s *Snapshot) Int(key string) int {
	return int(s.Float(key))
}

// Bool reports whether the value at key is truthy.
func (s *Snapshot) Bool(key string) bool {
	v, _ := s.Get(key)
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b != "" && b != "0"
	}
	f, ok := ToFloat(v)
	return ok && f != 0
}

// String returns the value at key as a string.
func (s *Snapshot) String(key string) string {
	v, _ := s.Get(key)
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	if f, ok := ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// Section returns a copy of a nested object, for devices that report
// grouped state (e.g. "washerDryer").
func (s *Snapshot) Section(key string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nested, ok := s.data[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(nested))
	deepMerge(out, nested)
	return out
}

// Merge applies a fragment atomically; nested objects are merged recursively.
func (s *Snapshot) Merge(fragment map[string]any) {
	if len(fragment) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deepMerge(s.data, fragment)
}

// Set stores a single value.
func (s *Snapshot) Set(key string, value any) {
	s.Merge(map[string]any{key: value})
}

// Copy returns a deep copy of the current state.
func (s *Snapshot) Copy() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	deepMerge(out, s.data)
	return out
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		srcMap, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		dstMap, ok := dst[k].(map[string]any)
		if !ok {
			dstMap = make(map[string]any, len(srcMap))
			dst[k] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

// ToFloat converts JSON-decoded numbers, numeric strings and bools to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
