package models

import "github.com/benmeehan/thinq-agent/internal/constants"

// Command is a single control action aimed at one device.
// Either Key/Value or Batch is set; a Batch changes several properties together.
type Command struct {
	DeviceID string
	Key      string
	Value    any
	Batch    map[string]any
	CtrlKey  string
	Kind     constants.CommandKind
}

// NewSetCommand builds a single-property "Set" command in the basic control group.
func NewSetCommand(deviceID, key string, value any) Command {
	return Command{
		DeviceID: deviceID,
		Key:      key,
		Value:    value,
		CtrlKey:  constants.CtrlBasic,
		Kind:     constants.CommandSet,
	}
}

// NewBatchCommand builds a multi-property "Set" command in the favorite control group.
func NewBatchCommand(deviceID string, values map[string]any) Command {
	return Command{
		DeviceID: deviceID,
		Batch:    values,
		CtrlKey:  constants.CtrlFavorite,
		Kind:     constants.CommandSet,
	}
}

// IsBatch reports whether the command carries several properties.
func (c Command) IsBatch() bool {
	return len(c.Batch) > 0
}

// Values returns every property the command changes, keyed by property path.
func (c Command) Values() map[string]any {
	if c.IsBatch() {
		out := make(map[string]any, len(c.Batch))
		for k, v := range c.Batch {
			out[k] = v
		}
		return out
	}
	return map[string]any{c.Key: c.Value}
}

// ControlRequest is the JSON body of a current-platform control-sync call.
type ControlRequest struct {
	CtrlKey     string         `json:"ctrlKey"`
	Command     string         `json:"command"`
	DataKey     *string        `json:"dataKey"`
	DataValue   any            `json:"dataValue"`
	DataSetList map[string]any `json:"dataSetList,omitempty"`
	DataGetList any            `json:"dataGetList,omitempty"`
}

// LegacyControlRequest is the JSON body of a legacy platform rtiControl call.
type LegacyControlRequest struct {
	Root LegacyControlBody `json:"lgedmRoot"`
}

// LegacyControlBody carries string-encoded values for legacy devices.
type LegacyControlBody struct {
	Cmd      string            `json:"cmd"`
	CmdOpt   string            `json:"cmdOpt"`
	Value    map[string]string `json:"value"`
	DeviceID string            `json:"deviceId"`
	WorkID   string            `json:"workId"`
	Data     string            `json:"data"`
}
