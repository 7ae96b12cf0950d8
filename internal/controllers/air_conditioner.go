package controllers

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/models"
)

// Air conditioner property paths.
const (
	acOperation      = "airState.operation"
	acOpMode         = "airState.opMode"
	acWindStrength   = "airState.windStrength"
	acCurrentTemp    = "airState.tempState.current"
	acTargetTemp     = "airState.tempState.target"
	acTempLimitMin   = "airState.tempState.limitMin"
	acDisplayControl = "airState.lightingState.displayControl"
	acVStep          = "airState.wDir.vStep"
	acHStep          = "airState.wDir.hStep"
	acSleepTime      = "airState.reservation.sleepTime"
	acJet            = "airState.wMode.jet"
	acRacSubMode     = "support.racSubMode"
)

// CurrentMode is the derived heating/cooling state.
type CurrentMode int

const (
	CurrentModeCool CurrentMode = iota
	CurrentModeHeat
	CurrentModeOff
)

// WindMode is a bit set of the swing axes a unit supports.
type WindMode int

const (
	WindModeNone       WindMode = 0
	WindModeVertical   WindMode = 1
	WindModeHorizontal WindMode = 2
	WindModeBoth       WindMode = WindModeVertical | WindModeHorizontal
)

// OpMode is the raw operation mode of an air conditioner.
type OpMode int

const (
	OpModeCool     OpMode = 0
	OpModeDry      OpMode = 1
	OpModeFan      OpMode = 2
	OpModeHeat     OpMode = 4
	OpModeAirClean OpMode = 5
	OpModeAuto     OpMode = 6
)

// FanSpeed is the raw wind strength of an air conditioner.
type FanSpeed int

const (
	FanSpeedLow        FanSpeed = 2
	FanSpeedLowMedium  FanSpeed = 3
	FanSpeedMedium     FanSpeed = 4
	FanSpeedMediumHigh FanSpeed = 5
	FanSpeedHigh       FanSpeed = 6
	FanSpeedAuto       FanSpeed = 8
)

const (
	swingOn          = 100
	comfortSleepTime = 420
)

// ACController derives air conditioner state from the snapshot and turns
// desired changes into commands.
type ACController struct {
	*Base
}

// NewACController creates a controller for an air conditioner.
func NewACController(device *models.Device, commander Commander, logger zerolog.Logger) *ACController {
	return &ACController{Base: newBase(device, commander, logger)}
}

func (c *ACController) data() *models.Snapshot {
	return c.device.Snapshot
}

func (c *ACController) IsPowerOn() bool {
	return c.data().Bool(acOperation)
}

func (c *ACController) IsLightOn() bool {
	return c.data().Bool(acDisplayControl)
}

func (c *ACController) WindStrength() FanSpeed {
	return FanSpeed(c.data().Int(acWindStrength))
}

// IsSwingOn reports whether either axis is swinging.
func (c *ACController) IsSwingOn() bool {
	vStep := c.data().Int(acVStep) / 100
	hStep := c.data().Int(acHStep) / 100
	return vStep+hStep != 0
}

func (c *ACController) CurrentTemperature() float64 {
	return c.data().Float(acCurrentTemp)
}

func (c *ACController) TargetTemperature() float64 {
	return c.data().Float(acTargetTemp)
}

func (c *ACController) ComfortMode() bool {
	return c.data().Float(acSleepTime) > 0
}

func (c *ACController) JetMode() bool {
	return c.data().Bool(acJet)
}

func (c *ACController) opMode() OpMode {
	return OpMode(c.data().Int(acOpMode))
}

// CurrentMode is OFF while powered down. Modes other than heat and cool
// are reported by comparing the current and target temperatures.
func (c *ACController) CurrentMode() CurrentMode {
	if !c.IsPowerOn() {
		return CurrentModeOff
	}

	switch c.opMode() {
	case OpModeHeat:
		return CurrentModeHeat
	case OpModeCool:
		return CurrentModeCool
	}
	if c.CurrentTemperature() <= c.TargetTemperature() {
		return CurrentModeCool
	}
	return CurrentModeHeat
}

// TargetTemperatureRange returns the settable range, preferring the
// limitMin property over the target one.
func (c *ACController) TargetTemperatureRange() (models.ValueSpec, bool) {
	model := c.device.DeviceModel
	if model == nil {
		return models.ValueSpec{}, false
	}
	if spec, ok := model.Value(acTempLimitMin); ok {
		return spec, true
	}
	return model.Value(acTargetTemp)
}

// WindDirectionAllowed lists the swing axes advertised by the model.
func (c *ACController) WindDirectionAllowed() WindMode {
	allowed := WindModeNone
	if c.device.DeviceModel == nil {
		return allowed
	}
	spec, ok := c.device.DeviceModel.Value(acRacSubMode)
	if !ok {
		return allowed
	}
	for _, name := range spec.Options {
		if strings.Contains(name, "WIND_DIRECTION_STEP_LEFT_RIGHT") {
			allowed |= WindModeHorizontal
		}
		if strings.Contains(name, "WIND_DIRECTION_STEP_UP_DOWN") {
			allowed |= WindModeVertical
		}
	}
	return allowed
}

// SetActive powers the unit on or off. Powering on also selects AUTO mode.
func (c *ACController) SetActive(ctx context.Context, on bool) error {
	if c.IsPowerOn() == on {
		return nil
	}

	cmd := models.NewSetCommand(c.device.ID, acOperation, boolToInt(on))
	cmd.Kind = constants.CommandOperation
	if err := c.dispatch(ctx, cmd); err != nil {
		return err
	}

	if on {
		return c.setOpMode(ctx, OpModeAuto)
	}
	return nil
}

// SetTargetTemperature switches to AUTO mode if needed and sets the target.
func (c *ACController) SetTargetTemperature(ctx context.Context, temperature float64) error {
	if !c.IsPowerOn() || temperature == c.TargetTemperature() {
		return nil
	}

	if err := c.ensureAutoMode(ctx); err != nil {
		return err
	}
	return c.set(ctx, acTargetTemp, temperature)
}

// SetFanSpeed is debounced: only the last speed requested within the
// window is considered, against the state at the end of the window.
func (c *ACController) SetFanSpeed(ctx context.Context, speed FanSpeed) {
	c.setLater(ctx, acWindStrength, func(ctx context.Context) error {
		if !c.IsPowerOn() || c.WindStrength() == speed {
			return nil
		}
		return c.set(ctx, acWindStrength, int(speed))
	})
}

func (c *ACController) SetLight(ctx context.Context, on bool) error {
	if !c.IsPowerOn() || c.IsLightOn() == on {
		return nil
	}
	return c.set(ctx, acDisplayControl, boolToInt(on))
}

// SetSwingMode swings every axis the unit supports. Both axes change in a
// single command.
func (c *ACController) SetSwingMode(ctx context.Context, on bool) error {
	if !c.IsPowerOn() || c.IsSwingOn() == on {
		return nil
	}

	value := 0
	if on {
		value = swingOn
	}

	switch c.WindDirectionAllowed() {
	case WindModeBoth:
		return c.dispatch(ctx, models.NewBatchCommand(c.device.ID, map[string]any{
			acVStep: value,
			acHStep: value,
		}))
	case WindModeVertical:
		return c.set(ctx, acVStep, value)
	case WindModeHorizontal:
		return c.set(ctx, acHStep, value)
	}
	return nil
}

// SetComfortSleep changes the sleep timer and the vertical step together.
func (c *ACController) SetComfortSleep(ctx context.Context, on bool) error {
	if c.ComfortMode() == on {
		return nil
	}

	sleepTime, vStep := 0, 0
	if on {
		sleepTime, vStep = comfortSleepTime, 1
	}
	return c.dispatch(ctx, models.NewBatchCommand(c.device.ID, map[string]any{
		acSleepTime: sleepTime,
		acVStep:     vStep,
	}))
}

func (c *ACController) SetJetMode(ctx context.Context, on bool) error {
	if c.JetMode() == on {
		return nil
	}
	return c.set(ctx, acJet, boolToInt(on))
}

// setOpMode also turns the display light off, as mode changes turn it on.
func (c *ACController) setOpMode(ctx context.Context, mode OpMode) error {
	if c.opMode() == mode {
		return nil
	}
	if err := c.set(ctx, acOpMode, int(mode)); err != nil {
		return err
	}
	return c.SetLight(ctx, false)
}

func (c *ACController) ensureAutoMode(ctx context.Context) error {
	if c.opMode() != OpModeAuto {
		return c.setOpMode(ctx, OpModeAuto)
	}
	return nil
}
