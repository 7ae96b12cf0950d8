package controllers

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/models"
)

// New creates the controller matching the device type.
func New(device *models.Device, commander Commander, debounce time.Duration, logger zerolog.Logger) (Controller, error) {
	var base *Base
	var controller Controller

	switch device.Type {
	case constants.DeviceTypeAirConditioner:
		c := NewACController(device, commander, logger)
		base, controller = c.Base, c
	case constants.DeviceTypeAirPurifier:
		c := NewAirPurifierController(device, commander, logger)
		base, controller = c.Base, c
	case constants.DeviceTypeWasher, constants.DeviceTypeDryer:
		c := NewWasherDryerController(device, commander, logger)
		base, controller = c.Base, c
	default:
		return nil, fmt.Errorf("%w: device type %d", ErrUnsupportedDevice, device.Type)
	}

	if debounce > 0 {
		base.SetDebounceWindow(debounce)
	}
	return controller, nil
}
