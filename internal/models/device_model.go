package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValueKind is the shape of a model property.
type ValueKind string

const (
	ValueKindEnum    ValueKind = "enum"
	ValueKindRange   ValueKind = "range"
	ValueKindUnknown ValueKind = "unknown"
)

// ValueSpec describes the valid values of one property.
// Options maps raw value to its symbolic name for enum properties.
type ValueSpec struct {
	Kind    ValueKind
	Min     float64
	Max     float64
	Step    float64
	Options map[string]string
}

// DeviceModel is a parsed device model document.
// Both the current ("data_type"/"value_mapping") and the legacy
// ("type"/"option") shapes are understood.
type DeviceModel struct {
	raw        json.RawMessage
	values     map[string]any
	monitoring map[string]any
}

// ParseDeviceModel decodes a device model document.
func ParseDeviceModel(data []byte) (*DeviceModel, error) {
	var doc struct {
		Value           map[string]any `json:"Value"`
		MonitoringValue map[string]any `json:"MonitoringValue"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse device model: %w", err)
	}

	monitoring := doc.MonitoringValue
	if monitoring == nil {
		monitoring = doc.Value
	}

	return &DeviceModel{
		raw:        append(json.RawMessage(nil), data...),
		values:     doc.Value,
		monitoring: monitoring,
	}, nil
}

// Raw returns the document the model was parsed from.
func (m *DeviceModel) Raw() json.RawMessage {
	return m.raw
}

// IsSmart reports whether the model carries any value or monitoring section.
func (m *DeviceModel) IsSmart() bool {
	return len(m.values) > 0 || len(m.monitoring) > 0
}

// Value returns the spec of a control property.
func (m *DeviceModel) Value(path string) (ValueSpec, bool) {
	entry, ok := m.values[path].(map[string]any)
	if !ok {
		return ValueSpec{}, false
	}
	return parseValueSpec(entry), true
}

// LookupRawValue returns the raw value whose symbolic name is symbol.
func (m *DeviceModel) LookupRawValue(path, symbol string) (string, bool) {
	entry, _ := m.values[path].(map[string]any)
	return lookup(entry, symbol)
}

// LookupMonitorValue is LookupRawValue over the monitoring section.
func (m *DeviceModel) LookupMonitorValue(path, symbol string) (string, bool) {
	entry, _ := m.monitoring[path].(map[string]any)
	return lookup(entry, symbol)
}

func lookup(entry map[string]any, symbol string) (string, bool) {
	if entry == nil {
		return "", false
	}
	for raw, name := range parseValueSpec(entry).Options {
		if name == symbol {
			return raw, true
		}
	}
	return "", false
}

func parseValueSpec(entry map[string]any) ValueSpec {
	kind := strings.ToLower(firstString(entry, "data_type", "dataType", "type"))
	switch kind {
	case "enum", "boolean":
		return ValueSpec{
			Kind:    ValueKindEnum,
			Options: parseOptions(firstMap(entry, "value_mapping", "valueMapping", "option")),
		}
	case "range", "number":
		bounds := firstMap(entry, "value_validation", "valueValidation", "option")
		spec := ValueSpec{Kind: ValueKindRange, Step: 1}
		spec.Min, _ = ToFloat(bounds["min"])
		spec.Max, _ = ToFloat(bounds["max"])
		if step, ok := ToFloat(bounds["step"]); ok && step > 0 {
			spec.Step = step
		}
		return spec
	}
	return ValueSpec{Kind: ValueKindUnknown}
}

// parseOptions flattens option maps whose entries are either labels or
// objects carrying a "label" member.
func parseOptions(options map[string]any) map[string]string {
	out := make(map[string]string, len(options))
	for raw, v := range options {
		switch label := v.(type) {
		case string:
			out[raw] = label
		case map[string]any:
			if s, ok := label["label"].(string); ok {
				out[raw] = s
			} else {
				out[raw] = raw
			}
		}
	}
	return out
}

func firstString(entry map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := entry[k].(string); ok {
			return s
		}
	}
	return ""
}

func firstMap(entry map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if m, ok := entry[k].(map[string]any); ok {
			return m
		}
	}
	return nil
}
