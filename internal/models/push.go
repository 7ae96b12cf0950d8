package models

// PushMessage is a state fragment delivered by the broker.
type PushMessage struct {
	DeviceID string `json:"deviceId"`
	Type     string `json:"type"`
	Data     struct {
		State struct {
			Reported map[string]any `json:"reported"`
		} `json:"state"`
	} `json:"data"`
}

// Reported returns the reported property fragment, or nil when absent.
func (m *PushMessage) Reported() map[string]any {
	return m.Data.State.Reported
}
