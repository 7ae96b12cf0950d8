package constants

import "time"

// PlatformVariant tags which command encoding a device understands.
type PlatformVariant string

const (
	PlatformLegacy  PlatformVariant = "thinq1"
	PlatformCurrent PlatformVariant = "thinq2"
)

// CommandKind is the "command" member of a control request.
type CommandKind string

const (
	CommandSet       CommandKind = "Set"
	CommandOperation CommandKind = "Operation"
)

// Control groups ("ctrlKey").
const (
	CtrlBasic    = "basicCtrl"
	CtrlFavorite = "favoriteCtrl"
)

// Device type codes reported by the platform.
const (
	DeviceTypeWasher         = 201
	DeviceTypeDryer          = 202
	DeviceTypeAirConditioner = 401
	DeviceTypeAirPurifier    = 402
)

// DebounceWindow is how long fan-speed style setters wait for a newer call.
const DebounceWindow = time.Second
