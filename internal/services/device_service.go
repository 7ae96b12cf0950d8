package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/models"
	"github.com/benmeehan/thinq-agent/pkg/persist"
)

// legacyKeys maps current property paths onto legacy command names.
var legacyKeys = map[string]string{
	"airState.operation":                    "Operation",
	"airState.opMode":                       "OpMode",
	"airState.windStrength":                 "WindStrength",
	"airState.tempState.target":             "TempCfg",
	"airState.circulate.rotate":             "CirculateDir",
	"airState.lightingState.signal":         "SignalLighting",
	"airState.lightingState.displayControl": "DisplayControl",
	"airState.miscFuncState.airFast":        "AirFast",
	"airState.wDir.vStep":                   "WDirVStep",
	"airState.wDir.hStep":                   "WDirHStep",
	"airState.wMode.jet":                    "Jet",
	"airState.reservation.sleepTime":        "SleepTime",
}

// DeviceRegistry holds every discovered device by id.
type DeviceRegistry struct {
	devices cmap.ConcurrentMap[string, *models.Device]
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{devices: cmap.New[*models.Device]()}
}

// Upsert registers device, or merges its snapshot into the already
// registered device with the same id and returns that one.
func (r *DeviceRegistry) Upsert(device *models.Device) *models.Device {
	return r.devices.Upsert(device.ID, device, func(exist bool, existing, incoming *models.Device) *models.Device {
		if !exist {
			return incoming
		}
		existing.Snapshot.Merge(incoming.Snapshot.Copy())
		return existing
	})
}

// Get returns the device with id.
func (r *DeviceRegistry) Get(id string) (*models.Device, bool) {
	return r.devices.Get(id)
}

// All returns every registered device.
func (r *DeviceRegistry) All() []*models.Device {
	out := make([]*models.Device, 0, r.devices.Count())
	for _, d := range r.devices.Items() {
		out = append(out, d)
	}
	return out
}

// ApplyPush merges a push message into the matching device snapshot.
// It returns the device, or false when the device is unknown or the
// message carries no state.
func (r *DeviceRegistry) ApplyPush(msg models.PushMessage) (*models.Device, bool) {
	device, ok := r.devices.Get(msg.DeviceID)
	if !ok {
		return nil, false
	}
	reported := msg.Reported()
	if len(reported) == 0 {
		return device, false
	}
	device.Snapshot.Merge(reported)
	return device, true
}

// DeviceService discovers devices, loads their models and encodes control
// commands for either platform variant.
type DeviceService struct {
	Dispatcher Dispatcher
	Sessions   SessionManager
	Cache      persist.Cache
	Registry   *DeviceRegistry
	Logger     zerolog.Logger

	homesMu sync.Mutex
	homes   []string
}

// NewDeviceService initializes a new DeviceService.
func NewDeviceService(dispatcher Dispatcher, sessions SessionManager, cache persist.Cache, registry *DeviceRegistry, logger zerolog.Logger) *DeviceService {
	return &DeviceService{
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Cache:      cache,
		Registry:   registry,
		Logger:     logger,
	}
}

// ListHomes returns the home ids of the account; the list is fetched once.
func (s *DeviceService) ListHomes(ctx context.Context) ([]string, error) {
	s.homesMu.Lock()
	defer s.homesMu.Unlock()
	if s.homes != nil {
		return s.homes, nil
	}

	resp := s.Dispatcher.Execute(ctx, http.MethodGet, "service/homes", nil, nil)
	if !resp.OK() {
		return nil, fmt.Errorf("failed to list homes: %w", resp.Err)
	}

	var result struct {
		Item []struct {
			HomeID string `json:"homeId"`
		} `json:"item"`
	}
	if err := resp.Decode(&result); err != nil {
		return nil, err
	}

	homes := make([]string, 0, len(result.Item))
	for _, item := range result.Item {
		homes = append(homes, item.HomeID)
	}
	s.homes = homes
	return homes, nil
}

// ListDevices returns the devices of every home, in home order.
func (s *DeviceService) ListDevices(ctx context.Context) ([]models.DeviceInfo, error) {
	homes, err := s.ListHomes(ctx)
	if err != nil {
		return nil, err
	}

	perHome := make([][]models.DeviceInfo, len(homes))
	g, gctx := errgroup.WithContext(ctx)
	for i, homeID := range homes {
		i, homeID := i, homeID
		g.Go(func() error {
			resp := s.Dispatcher.Execute(gctx, http.MethodGet, "service/homes/"+homeID, nil, nil)
			if !resp.OK() {
				return fmt.Errorf("failed to list devices of home %s: %w", homeID, resp.Err)
			}
			var result struct {
				Devices []models.DeviceInfo `json:"devices"`
			}
			if err := resp.Decode(&result); err != nil {
				return err
			}
			perHome[i] = result.Devices
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var devices []models.DeviceInfo
	for _, list := range perHome {
		devices = append(devices, list...)
	}
	return devices, nil
}

// GetDevice fetches a single device with its current snapshot.
func (s *DeviceService) GetDevice(ctx context.Context, deviceID string) (models.DeviceInfo, error) {
	resp := s.Dispatcher.Execute(ctx, http.MethodGet, "service/devices/"+deviceID, nil, nil)
	if !resp.OK() {
		return models.DeviceInfo{}, fmt.Errorf("failed to get device %s: %w", deviceID, resp.Err)
	}
	var info models.DeviceInfo
	if err := resp.Decode(&info); err != nil {
		return models.DeviceInfo{}, err
	}
	return info, nil
}

// Discover lists, registers and sets up every device. A device whose model
// cannot be loaded is still registered.
func (s *DeviceService) Discover(ctx context.Context) ([]*models.Device, error) {
	infos, err := s.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	devices := make([]*models.Device, 0, len(infos))
	for _, info := range infos {
		device := s.Registry.Upsert(models.NewDevice(info))
		if device.DeviceModel == nil {
			if _, err := s.LoadDeviceModel(ctx, device); err != nil {
				s.Logger.Warn().Err(err).Str("device_id", device.ID).Msg("Failed to load device model")
			}
		}
		devices = append(devices, device)
	}

	s.Logger.Info().Int("count", len(devices)).Msg("Devices discovered")
	return devices, nil
}

// LoadDeviceModel returns the device model, downloading it on a cache miss.
func (s *DeviceService) LoadDeviceModel(ctx context.Context, device *models.Device) (*models.DeviceModel, error) {
	key := constants.CacheKeyModel + device.ID

	data, ok, err := s.Cache.Get(ctx, key)
	if err != nil {
		s.Logger.Warn().Err(err).Str("device_id", device.ID).Msg("Device model cache unreadable")
	}
	if !ok {
		s.Logger.Debug().Str("device_id", device.ID).Msg("Device model cache missed")
		if device.ModelJSONURI == "" {
			return nil, fmt.Errorf("device %s has no model document", device.ID)
		}
		if data, err = s.Dispatcher.FetchRaw(ctx, device.ModelJSONURI); err != nil {
			return nil, err
		}
		if err := s.Cache.Set(ctx, key, data); err != nil {
			s.Logger.Warn().Err(err).Str("device_id", device.ID).Msg("Failed to cache device model")
		}
	}

	model, err := models.ParseDeviceModel(data)
	if err != nil {
		return nil, err
	}
	if !model.IsSmart() {
		s.Logger.Warn().Str("device", device.Name).Msg("This device may not be a smart device, ignoring its model")
	}

	device.DeviceModel = model
	return model, nil
}

// Control sends cmd to device using the encoding of its platform variant.
func (s *DeviceService) Control(ctx context.Context, device *models.Device, cmd models.Command) *Response {
	if device.IsLegacy() {
		return s.controlLegacy(ctx, device, cmd)
	}
	return s.Dispatcher.Execute(ctx, http.MethodPost, "service/devices/"+device.ID+"/control-sync", EncodeControl(cmd), nil)
}

func (s *DeviceService) controlLegacy(ctx context.Context, device *models.Device, cmd models.Command) *Response {
	gw := s.Sessions.Gateway()
	if gw == nil || gw.Thinq1URL == "" {
		return failed("", fmt.Errorf("%w: legacy endpoint unknown", models.ErrNotConnected))
	}
	return s.Dispatcher.Execute(ctx, http.MethodPost, gw.LegacyControlURL()+"rti/rtiControl",
		EncodeLegacyControl(device.ID, cmd, uuid.NewString()), nil)
}

// EncodeControl builds the structured body of a control-sync call.
func EncodeControl(cmd models.Command) models.ControlRequest {
	req := models.ControlRequest{
		CtrlKey: cmd.CtrlKey,
		Command: string(cmd.Kind),
	}
	if cmd.IsBatch() {
		req.DataSetList = cmd.Batch
		return req
	}
	key := cmd.Key
	req.DataKey = &key
	req.DataValue = cmd.Value
	return req
}

// EncodeLegacyControl builds the single-string body understood by legacy devices.
func EncodeLegacyControl(deviceID string, cmd models.Command, workID string) models.LegacyControlRequest {
	values := make(map[string]string)
	for key, value := range cmd.Values() {
		values[LegacyKey(key)] = legacyValue(value)
	}
	return models.LegacyControlRequest{
		Root: models.LegacyControlBody{
			Cmd:      "Control",
			CmdOpt:   "Set",
			Value:    values,
			DeviceID: deviceID,
			WorkID:   workID,
			Data:     "",
		},
	}
}

// LegacyKey returns the legacy command name of a property path.
func LegacyKey(path string) string {
	if name, ok := legacyKeys[path]; ok {
		return name
	}
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

func legacyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	}
	if f, ok := models.ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
