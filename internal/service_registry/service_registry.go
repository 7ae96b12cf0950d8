package service_registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/controllers"
	"github.com/benmeehan/thinq-agent/internal/history"
	"github.com/benmeehan/thinq-agent/internal/models"
	"github.com/benmeehan/thinq-agent/internal/services"
	"github.com/benmeehan/thinq-agent/internal/utils"
	"github.com/benmeehan/thinq-agent/pkg/encryption"
	"github.com/benmeehan/thinq-agent/pkg/file"
	httputils "github.com/benmeehan/thinq-agent/pkg/httpUtils"
	"github.com/benmeehan/thinq-agent/pkg/mqtt"
	"github.com/benmeehan/thinq-agent/pkg/persist"
)

// Service is a component with a start/stop lifecycle.
type Service interface {
	Start() error
	Stop() error
}

// serviceFuncs adapts a pair of functions to Service.
type serviceFuncs struct {
	start func() error
	stop  func() error
}

func (s serviceFuncs) Start() error {
	if s.start == nil {
		return nil
	}
	return s.start()
}

func (s serviceFuncs) Stop() error {
	if s.stop == nil {
		return nil
	}
	return s.stop()
}

// ServiceRegistry builds the client stack and manages the lifecycle of its
// long-running parts.
type ServiceRegistry struct {
	services    map[string]Service // Stores registered services
	serviceKeys []string           // Maintains order of service registration
	fileClient  file.FileOperations
	Logger      zerolog.Logger

	// GatewayURL and HTTPDoer override the endpoint and transport; tests point
	// them at a local server.
	GatewayURL string
	HTTPDoer   httputils.Doer
	Connector  mqtt.Connector

	Cache    persist.Cache
	Gateway  *services.GatewayService
	Auth     *services.AuthService
	Commands *services.CommandService
	Devices  *services.DeviceService
	Identity *services.IdentityService
	Realtime *services.RealtimeService
	Registry *services.DeviceRegistry

	mu          sync.RWMutex
	controllers map[string]controllers.Controller
	recorder    *history.Recorder
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(fileClient file.FileOperations, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:    make(map[string]Service),
		fileClient:  fileClient,
		Logger:      logger,
		GatewayURL:  constants.GatewayURL,
		controllers: make(map[string]controllers.Controller),
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// ServiceNames returns the registered services in start order.
func (sr *ServiceRegistry) ServiceNames() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices builds the client stack from config and registers its
// lifecycle services in start order: cache, history, devices, realtime.
func (sr *ServiceRegistry) RegisterServices(ctx context.Context, config *utils.Config) error {
	cache, err := sr.openCache(config)
	if err != nil {
		return err
	}
	sr.Cache = cache

	client := services.ClientInfo{
		Country:    config.ThinQ.Country,
		Language:   config.ThinQ.Language,
		AppVersion: config.Client.AppVersion,
	}
	httpClient := httputils.NewClient(sr.HTTPDoer, httputils.RetryConfig{
		Retries:    constants.TransportRetries,
		BaseDelay:  constants.TransportRetryDelay,
		Timeout:    constants.RequestTimeout,
		RetryCodes: constants.RetryableStatusCodes,
	}, sr.Logger)

	sr.Gateway = services.NewGatewayService(sr.GatewayURL, client, httpClient, sr.Logger)
	sr.Auth = services.NewAuthService(client, httpClient, sr.Gateway, cache, services.Credentials{
		Username:     config.ThinQ.Username,
		Password:     config.ThinQ.Password,
		RefreshToken: config.ThinQ.RefreshToken,
	}, sr.Logger)
	sr.Commands = services.NewCommandService(client, httpClient, sr.Auth, sr.Logger)
	sr.Registry = services.NewDeviceRegistry()
	sr.Devices = services.NewDeviceService(sr.Commands, sr.Auth, cache, sr.Registry, sr.Logger)

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (Service, error)
	}{
		{
			name:    "cache",
			enabled: true,
			constructor: func() (Service, error) {
				return serviceFuncs{stop: func() error {
					if closer, ok := cache.(io.Closer); ok {
						return closer.Close()
					}
					return nil
				}}, nil
			},
		},
		{
			name:    "history",
			enabled: config.History.Enabled,
			constructor: func() (Service, error) {
				return serviceFuncs{
					start: func() error { return sr.startHistory(ctx, config) },
					stop:  sr.stopHistory,
				}, nil
			},
		},
		{
			name:    "devices",
			enabled: true,
			constructor: func() (Service, error) {
				return serviceFuncs{
					start: func() error { return sr.startDevices(ctx, config.Controllers.Debounce) },
					stop:  sr.stopDevices,
				}, nil
			},
		},
		{
			name:    "realtime",
			enabled: config.Realtime.Enabled,
			constructor: func() (Service, error) {
				connector := sr.Connector
				if connector == nil {
					connector = mqtt.NewMqttService(sr.Logger)
				}
				sr.Identity = services.NewIdentityService(sr.Commands, cache, sr.Logger)
				sr.Realtime = services.NewRealtimeService(sr.Commands, sr.Identity, connector, sr.Auth, sr.HandlePush, sr.Logger)
				sr.Realtime.ReconnectDelay = config.Realtime.ReconnectDelay
				sr.Realtime.Workers = config.Realtime.Workers
				return serviceFuncs{
					start: func() error { return sr.Realtime.StartContext(ctx) },
					stop:  sr.Realtime.Stop,
				}, nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}

func (sr *ServiceRegistry) openCache(config *utils.Config) (persist.Cache, error) {
	var enc encryption.EncryptionManagerInterface
	if config.Cache.EncryptionSecretFile != "" {
		manager := encryption.NewEncryptionManager(sr.fileClient)
		if err := manager.Initialize(config.Cache.EncryptionSecretFile); err != nil {
			return nil, fmt.Errorf("failed to initialize cache encryption: %w", err)
		}
		enc = manager
	}

	switch config.Cache.Backend {
	case utils.CacheBackendSQLite:
		return persist.NewSQLiteCache(config.Cache.SQLitePath, sr.fileClient, enc, sr.Logger)
	case utils.CacheBackendMemory:
		return persist.NewMemoryCache(), nil
	default:
		return persist.NewFileCache(config.Cache.Dir, sr.fileClient, enc, sr.Logger)
	}
}

func (sr *ServiceRegistry) startHistory(ctx context.Context, config *utils.Config) error {
	recorder, err := history.Connect(ctx, history.Config{
		Enabled:       config.History.Enabled,
		URL:           config.History.URL,
		Token:         config.History.Token,
		Org:           config.History.Org,
		Bucket:        config.History.Bucket,
		BatchSize:     config.History.BatchSize,
		FlushInterval: config.History.FlushInterval,
	}, sr.Logger)
	if err != nil {
		return err
	}

	sr.mu.Lock()
	sr.recorder = recorder
	sr.mu.Unlock()
	return nil
}

func (sr *ServiceRegistry) stopHistory() error {
	sr.mu.Lock()
	recorder := sr.recorder
	sr.recorder = nil
	sr.mu.Unlock()

	if recorder == nil {
		return nil
	}
	return recorder.Close()
}

// startDevices logs in, discovers the account's devices and builds a
// controller for every supported one.
func (sr *ServiceRegistry) startDevices(ctx context.Context, debounce time.Duration) error {
	if err := sr.Auth.Ready(ctx); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	devices, err := sr.Devices.Discover(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover devices: %w", err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	for _, device := range devices {
		ctrl, err := controllers.New(device, sr.Devices, debounce, sr.Logger)
		if err != nil {
			sr.Logger.Info().Str("device_id", device.ID).Int("type", device.Type).Msg("No controller for device, tracking state only")
			continue
		}
		if sr.recorder != nil {
			ctrl.Subscribe(sr.recorder.Record)
		}
		sr.controllers[device.ID] = ctrl
	}

	sr.Logger.Info().Int("devices", len(devices)).Int("controllers", len(sr.controllers)).Msg("Devices ready")
	return nil
}

func (sr *ServiceRegistry) stopDevices() error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	for id, ctrl := range sr.controllers {
		if closer, ok := ctrl.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(sr.controllers, id)
	}
	return nil
}

// Controller returns the controller of the device with id.
func (sr *ServiceRegistry) Controller(id string) (controllers.Controller, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	ctrl, ok := sr.controllers[id]
	return ctrl, ok
}

// Controllers returns every built controller.
func (sr *ServiceRegistry) Controllers() []controllers.Controller {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]controllers.Controller, 0, len(sr.controllers))
	for _, ctrl := range sr.controllers {
		out = append(out, ctrl)
	}
	return out
}

// HandlePush routes a push message to the device's controller, or merges
// it into the registry when the device has none.
func (sr *ServiceRegistry) HandlePush(msg models.PushMessage) {
	reported := msg.Reported()
	if len(reported) == 0 {
		return
	}

	if ctrl, ok := sr.Controller(msg.DeviceID); ok {
		ctrl.Update(reported)
		return
	}
	if _, ok := sr.Registry.ApplyPush(msg); !ok {
		sr.Logger.Debug().Str("device_id", msg.DeviceID).Msg("Push message for unknown device")
	}
}
