package models

import (
	"github.com/benmeehan/thinq-agent/internal/constants"
)

// DeviceInfo is a device entry as listed by the homes API.
type DeviceInfo struct {
	DeviceID     string         `json:"deviceId"`
	Alias        string         `json:"alias"`
	ModelName    string         `json:"modelName"`
	DeviceType   int            `json:"deviceType"`
	PlatformType string         `json:"platformType"`
	ModelJSONURI string         `json:"modelJsonUri"`
	Online       bool           `json:"online"`
	Snapshot     map[string]any `json:"snapshot"`
}

// Device is a registered appliance and its live snapshot.
// Controllers hold the *Device, never a copy, so push updates and
// optimistic updates are seen by everyone.
type Device struct {
	ID           string
	Name         string
	Model        string
	Type         int
	Platform     constants.PlatformVariant
	ModelJSONURI string
	Snapshot     *Snapshot
	DeviceModel  *DeviceModel
}

// NewDevice builds a Device from its API listing.
func NewDevice(info DeviceInfo) *Device {
	platform := constants.PlatformCurrent
	if info.PlatformType == string(constants.PlatformLegacy) {
		platform = constants.PlatformLegacy
	}

	return &Device{
		ID:           info.DeviceID,
		Name:         info.Alias,
		Model:        info.ModelName,
		Type:         info.DeviceType,
		Platform:     platform,
		ModelJSONURI: info.ModelJSONURI,
		Snapshot:     NewSnapshot(info.Snapshot),
	}
}

// IsLegacy reports whether the device only understands legacy commands.
func (d *Device) IsLegacy() bool {
	return d.Platform == constants.PlatformLegacy
}
