package controllers

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/models"
	"github.com/benmeehan/thinq-agent/internal/utils"
)

const (
	washerSection   = "washerDryer"
	washerOnSymbol  = "@CP_ON_EN_W"
	maxTubCleanRuns = 30
)

// notRunningStates are washer states in which no program is running.
var notRunningStates = utils.SliceToSet([]string{"COOLDOWN", "POWEROFF", "POWERFAIL", "INITIAL", "PAUSE",
	"AUDIBLE_DIAGNOSIS", "FIRMWARE", "COURSE_DOWNLOAD", "ERROR", "END"})

func isStopped(state string) bool {
	_, ok := notRunningStates[state]
	return ok
}

// WasherDryerController exposes washer and dryer status. These appliances
// take no remote commands here.
type WasherDryerController struct {
	*Base

	mu         sync.Mutex
	running    bool
	onFinished []Listener
}

// NewWasherDryerController creates a status accessor for a washer or dryer.
func NewWasherDryerController(device *models.Device, commander Commander, logger zerolog.Logger) *WasherDryerController {
	c := &WasherDryerController{Base: newBase(device, commander, logger)}
	c.running = c.IsRunning()
	return c
}

func (c *WasherDryerController) section() map[string]any {
	return c.device.Snapshot.Section(washerSection)
}

func (c *WasherDryerController) state() string {
	return sectionString(c.section(), "state")
}

func (c *WasherDryerController) IsPowerOn() bool {
	state := c.state()
	return state != "POWEROFF" && state != "POWERFAIL"
}

func (c *WasherDryerController) IsRunning() bool {
	return c.IsPowerOn() && !isStopped(c.state())
}

func (c *WasherDryerController) IsError() bool {
	return c.state() == "ERROR"
}

func (c *WasherDryerController) IsRemoteStartEnabled() bool {
	return c.matchesOn("remoteStart")
}

func (c *WasherDryerController) IsDoorLocked() bool {
	return c.matchesOn("doorLock")
}

func (c *WasherDryerController) matchesOn(key string) bool {
	if c.device.DeviceModel == nil {
		return false
	}
	on, ok := c.device.DeviceModel.LookupMonitorValue(key, washerOnSymbol)
	return ok && sectionString(c.section(), key) == on
}

// RemainingDuration is zero unless a program is running.
func (c *WasherDryerController) RemainingDuration() time.Duration {
	if !c.IsRunning() {
		return 0
	}
	data := c.section()
	hours, _ := models.ToFloat(data["remainTimeHour"])
	minutes, _ := models.ToFloat(data["remainTimeMinute"])
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
}

// TubCleanCount is the number of washes since the last tub clean, capped at 30.
func (c *WasherDryerController) TubCleanCount() int {
	count, _ := models.ToFloat(c.section()["TCLCount"])
	return min(int(count), maxTubCleanRuns)
}

// NeedsTubClean reports whether the tub clean reminder is due.
func (c *WasherDryerController) NeedsTubClean() bool {
	return c.TubCleanCount() >= maxTubCleanRuns
}

// OnFinished registers a listener called when a program ends.
func (c *WasherDryerController) OnFinished(listener Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFinished = append(c.onFinished, listener)
}

// Update merges the fragment and detects the end of a program: either the
// state moves to END or COOLDOWN from a running state, or the washer
// stops running.
func (c *WasherDryerController) Update(fragment map[string]any) {
	c.Base.Update(fragment)

	incoming, ok := fragment[washerSection].(map[string]any)
	if !ok {
		return
	}

	running := c.IsRunning()
	state := sectionString(incoming, "state")
	previous := sectionString(incoming, "preState")
	if previous == "" {
		previous = sectionString(incoming, "processState")
	}

	c.mu.Lock()
	finished := (state == "END" || state == "COOLDOWN") && previous != "" && !isStopped(previous)
	finished = finished || (c.running && !running)
	c.running = running
	listeners := append([]Listener(nil), c.onFinished...)
	c.mu.Unlock()

	if !finished {
		return
	}
	c.logger.Info().Msg("Program finished")
	for _, l := range listeners {
		l(c.device)
	}
}

func sectionString(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
