package controllers

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/mocks"
	"github.com/benmeehan/thinq-agent/internal/models"
)

const washerModel = `{"MonitoringValue": {
	"remoteStart": {"dataType": "enum", "valueMapping": {"REMOTE_START_OFF": {"label": "@CP_OFF_EN_W"}, "REMOTE_START_ON": {"label": "@CP_ON_EN_W"}}},
	"doorLock": {"dataType": "enum", "valueMapping": {"DOOR_LOCK_OFF": {"label": "@CP_OFF_EN_W"}, "DOOR_LOCK_ON": {"label": "@CP_ON_EN_W"}}}
}}`

func newWasher(t *testing.T, section map[string]any) *WasherDryerController {
	t.Helper()
	device := models.NewDevice(models.DeviceInfo{
		DeviceID:   "wd-1",
		DeviceType: constants.DeviceTypeWasher,
		Snapshot:   map[string]any{washerSection: section},
	})
	model, err := models.ParseDeviceModel([]byte(washerModel))
	require.NoError(t, err)
	device.DeviceModel = model
	return NewWasherDryerController(device, new(mocks.MockCommander), zerolog.Nop())
}

func TestWasherDryer_Status(t *testing.T) {
	wd := newWasher(t, map[string]any{
		"state":            "RUNNING",
		"remainTimeHour":   1.0,
		"remainTimeMinute": 25.0,
		"remoteStart":      "REMOTE_START_ON",
		"doorLock":         "DOOR_LOCK_OFF",
		"TCLCount":         42.0,
	})

	assert.True(t, wd.IsPowerOn())
	assert.True(t, wd.IsRunning())
	assert.False(t, wd.IsError())
	assert.True(t, wd.IsRemoteStartEnabled())
	assert.False(t, wd.IsDoorLocked())
	assert.Equal(t, time.Hour+25*time.Minute, wd.RemainingDuration())
	assert.Equal(t, 30, wd.TubCleanCount())
	assert.True(t, wd.NeedsTubClean())
}

func TestWasherDryer_PoweredOff(t *testing.T) {
	wd := newWasher(t, map[string]any{"state": "POWEROFF", "remainTimeHour": 1.0})

	assert.False(t, wd.IsPowerOn())
	assert.False(t, wd.IsRunning())
	assert.Zero(t, wd.RemainingDuration())
}

func TestWasherDryer_FinishedDetection(t *testing.T) {
	wd := newWasher(t, map[string]any{"state": "RUNNING"})

	finished := 0
	wd.OnFinished(func(*models.Device) { finished++ })

	wd.Update(map[string]any{washerSection: map[string]any{"state": "RINSING"}})
	assert.Equal(t, 0, finished)

	wd.Update(map[string]any{washerSection: map[string]any{"state": "END", "preState": "SPINNING"}})
	assert.Equal(t, 1, finished)

	wd.Update(map[string]any{washerSection: map[string]any{"state": "POWEROFF", "preState": "END"}})
	assert.Equal(t, 1, finished)
}
