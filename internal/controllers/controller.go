package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/models"
	"github.com/benmeehan/thinq-agent/internal/services"
)

// Commander sends a command to a device. It is implemented by
// services.DeviceService.
type Commander interface {
	Control(ctx context.Context, device *models.Device, cmd models.Command) *services.Response
}

// Listener observes a device after its snapshot changed.
type Listener func(device *models.Device)

// Controller is the common surface of every appliance controller.
type Controller interface {
	Device() *models.Device
	Subscribe(listener Listener)
	Update(fragment map[string]any)
}

// Base carries the state shared by all controllers: the device, the
// command sink, the update listeners and one debouncer.
type Base struct {
	device    *models.Device
	commander Commander
	logger    zerolog.Logger

	mu        sync.Mutex
	listeners []Listener
	debounce  *Debouncer
}

func newBase(device *models.Device, commander Commander, logger zerolog.Logger) *Base {
	return &Base{
		device:    device,
		commander: commander,
		logger:    logger.With().Str("device_id", device.ID).Str("device", device.Name).Logger(),
		debounce:  NewDebouncer(constants.DebounceWindow),
	}
}

// Device returns the controlled device. The pointer is shared with the
// registry so push updates are visible here.
func (b *Base) Device() *models.Device {
	return b.device
}

// SetDebounceWindow changes the wait of debounced setters.
func (b *Base) SetDebounceWindow(window time.Duration) {
	b.debounce.SetWindow(window)
}

// Subscribe registers a listener called after every snapshot change.
func (b *Base) Subscribe(listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, listener)
}

// Update merges a pushed state fragment and notifies listeners.
func (b *Base) Update(fragment map[string]any) {
	if len(fragment) == 0 {
		return
	}
	b.device.Snapshot.Merge(fragment)
	b.emit()
}

func (b *Base) emit() {
	b.mu.Lock()
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, l := range listeners {
		l(b.device)
	}
}

// dispatch sends cmd and, when the device accepted it or already held the
// value, merges every sent value into the snapshot in one step.
func (b *Base) dispatch(ctx context.Context, cmd models.Command) error {
	resp := b.commander.Control(ctx, b.device, cmd)
	if !resp.OK() && !resp.Duplicate() {
		b.logger.Warn().Err(resp.Err).Interface("values", cmd.Values()).Msg("Device control failed")
		return fmt.Errorf("failed to control device %s: %w", b.device.ID, resp.Err)
	}

	b.logger.Debug().Interface("values", cmd.Values()).Msg("Device control applied")
	b.device.Snapshot.Merge(cmd.Values())
	b.emit()
	return nil
}

// set dispatches a single-property command in the basic group.
func (b *Base) set(ctx context.Context, key string, value any) error {
	return b.dispatch(ctx, models.NewSetCommand(b.device.ID, key, value))
}

// setLater debounces fn: only the last call inside the window runs, and its
// preconditions are checked when the window closes.
func (b *Base) setLater(ctx context.Context, key string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	b.debounce.Do(func() {
		if err := fn(ctx); err != nil {
			b.logger.Error().Err(err).Str("key", key).Msg("Debounced control failed")
		}
	})
}

// Close cancels any pending debounced command.
func (b *Base) Close() {
	b.debounce.Cancel()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// ErrUnsupportedDevice is returned by New for device types without a controller.
var ErrUnsupportedDevice = errors.New("unsupported device")
