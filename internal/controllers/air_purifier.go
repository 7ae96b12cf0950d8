package controllers

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/models"
)

// Air purifier property paths.
const (
	apOperation    = "airState.operation"
	apOpMode       = "airState.opMode"
	apWindStrength = "airState.windStrength"
	apRotate       = "airState.circulate.rotate"
	apSignal       = "airState.lightingState.signal"
	apAirFast      = "airState.miscFuncState.airFast"
	apSensorMon    = "airState.quality.sensorMon"
	apOverall      = "airState.quality.overall"
	apPM2          = "airState.quality.PM2"
	apPM10         = "airState.quality.PM10"
	apFilterMax    = "airState.filterMngStates.maxTime"
	apFilterUse    = "airState.filterMngStates.useTime"
)

// Raw air purifier operation modes.
const (
	purifierModeNormal = 14
	purifierModeAuto   = 16
)

// RotateSpeed is a raw air purifier wind strength.
type RotateSpeed int

const (
	RotateSpeedLow    RotateSpeed = 2
	RotateSpeedMedium RotateSpeed = 4
	RotateSpeedHigh   RotateSpeed = 6
	RotateSpeedExtra  RotateSpeed = 7
)

// rotateSpeeds orders the speeds as levels 1 to 4.
var rotateSpeeds = []RotateSpeed{RotateSpeedLow, RotateSpeedMedium, RotateSpeedHigh, RotateSpeedExtra}

// AirQuality is the sensor reading of an air purifier.
type AirQuality struct {
	IsOn    bool
	Overall int
	PM2     int
	PM10    int
}

// AirPurifierController controls an air purifier.
type AirPurifierController struct {
	*Base
}

// NewAirPurifierController creates a controller for an air purifier.
func NewAirPurifierController(device *models.Device, commander Commander, logger zerolog.Logger) *AirPurifierController {
	return &AirPurifierController{Base: newBase(device, commander, logger)}
}

func (c *AirPurifierController) data() *models.Snapshot {
	return c.device.Snapshot
}

func (c *AirPurifierController) IsPowerOn() bool {
	return c.data().Bool(apOperation)
}

func (c *AirPurifierController) IsLightOn() bool {
	return c.IsPowerOn() && c.data().Bool(apSignal)
}

func (c *AirPurifierController) IsSwing() bool {
	return c.data().Bool(apRotate)
}

// IsNormalMode reports manual mode, the only one that accepts a speed.
func (c *AirPurifierController) IsNormalMode() bool {
	return c.data().Int(apOpMode) == purifierModeNormal
}

func (c *AirPurifierController) IsAirFastEnabled() bool {
	return c.data().Bool(apAirFast)
}

// AirQuality returns the sensor values. The sensor may run while the
// purifier is off.
func (c *AirPurifierController) AirQuality() AirQuality {
	return AirQuality{
		IsOn:    c.IsPowerOn() || c.data().Bool(apSensorMon),
		Overall: c.data().Int(apOverall),
		PM2:     c.data().Int(apPM2),
		PM10:    c.data().Int(apPM10),
	}
}

// RotationSpeed returns the speed level from 1 to 4. Unknown strengths
// report the middle level.
func (c *AirPurifierController) RotationSpeed() int {
	strength := RotateSpeed(c.data().Int(apWindStrength))
	for i, speed := range rotateSpeeds {
		if speed == strength {
			return i + 1
		}
	}
	return len(rotateSpeeds) / 2
}

func (c *AirPurifierController) FilterMaxTime() int {
	return c.data().Int(apFilterMax)
}

func (c *AirPurifierController) FilterUseTime() int {
	return c.data().Int(apFilterUse)
}

// FilterLifePercent is the remaining filter life, 0 when unknown.
func (c *AirPurifierController) FilterLifePercent() int {
	maxTime := c.FilterMaxTime()
	if maxTime == 0 {
		return 0
	}
	return int(math.Round((1 - float64(c.FilterUseTime())/float64(maxTime)) * 100))
}

func (c *AirPurifierController) SetActive(ctx context.Context, on bool) error {
	if c.IsPowerOn() == on {
		return nil
	}
	return c.set(ctx, apOperation, boolToInt(on))
}

// SetTargetState switches between automatic and manual mode.
func (c *AirPurifierController) SetTargetState(ctx context.Context, auto bool) error {
	if !c.IsPowerOn() || auto == !c.IsNormalMode() {
		return nil
	}
	mode := purifierModeNormal
	if auto {
		mode = purifierModeAuto
	}
	return c.set(ctx, apOpMode, mode)
}

// SetRotationSpeed is debounced. Levels outside 1 to 4 select the
// highest speed.
func (c *AirPurifierController) SetRotationSpeed(ctx context.Context, level float64) {
	speed := RotateSpeedExtra
	if i := int(math.Round(level)) - 1; i >= 0 && i < len(rotateSpeeds) {
		speed = rotateSpeeds[i]
	}

	c.setLater(ctx, apWindStrength, func(ctx context.Context) error {
		if !c.IsPowerOn() || !c.IsNormalMode() || RotateSpeed(c.data().Int(apWindStrength)) == speed {
			return nil
		}
		return c.set(ctx, apWindStrength, int(speed))
	})
}

func (c *AirPurifierController) SetSwingMode(ctx context.Context, on bool) error {
	if !c.IsPowerOn() || !c.IsNormalMode() || c.IsSwing() == on {
		return nil
	}
	return c.set(ctx, apRotate, boolToInt(on))
}

func (c *AirPurifierController) SetLight(ctx context.Context, on bool) error {
	if !c.IsPowerOn() || c.IsLightOn() == on {
		return nil
	}
	return c.set(ctx, apSignal, boolToInt(on))
}

func (c *AirPurifierController) SetAirFast(ctx context.Context, on bool) error {
	if !c.IsPowerOn() || c.IsAirFastEnabled() == on {
		return nil
	}
	return c.set(ctx, apAirFast, boolToInt(on))
}
