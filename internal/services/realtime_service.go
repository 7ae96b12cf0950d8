package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/models"
	"github.com/benmeehan/thinq-agent/internal/utils"
	"github.com/benmeehan/thinq-agent/pkg/mqtt"
)

// ChannelState is the state of the push channel.
type ChannelState string

const (
	StateDisconnected ChannelState = "DISCONNECTED"
	StateConnecting   ChannelState = "CONNECTING"
	StateConnected    ChannelState = "CONNECTED"
	StateReconnecting ChannelState = "RECONNECTING"
	StateStopped      ChannelState = "STOPPED"
)

// ClientIDProvider supplies the client id used on the broker.
type ClientIDProvider interface {
	ClientID() string
}

// RealtimeService keeps a certificate-authenticated MQTT connection open and
// delivers push messages to one callback. After the first connection it
// reconnects forever at a fixed interval.
type RealtimeService struct {
	Dispatcher Dispatcher
	Identity   IdentityProvisioner
	Connector  mqtt.Connector
	Clients    ClientIDProvider
	Logger     zerolog.Logger

	ReconnectDelay  time.Duration
	InitialAttempts int
	InitialDelay    time.Duration
	ConnectTimeout  time.Duration
	Workers         int

	// After returns a channel that fires after d; replaced in tests.
	After func(d time.Duration) <-chan time.Time
	// OnStateChange, when set, observes every state transition.
	OnStateChange func(ChannelState)

	handler func(models.PushMessage)

	mu         sync.Mutex
	state      ChannelState
	client     mqtt.MQTTClient
	generation int
	broker     string
	brokerHost string
	keys       models.KeyPair
	csr        string
	rootCA     []byte

	lost   chan struct{}
	pool   *utils.WorkerPool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRealtimeService initializes a new RealtimeService with the default timings.
func NewRealtimeService(dispatcher Dispatcher, identity IdentityProvisioner, connector mqtt.Connector,
	clients ClientIDProvider, handler func(models.PushMessage), logger zerolog.Logger) *RealtimeService {

	return &RealtimeService{
		Dispatcher:      dispatcher,
		Identity:        identity,
		Connector:       connector,
		Clients:         clients,
		Logger:          logger,
		ReconnectDelay:  constants.ReconnectDelay,
		InitialAttempts: constants.InitialConnectAttempts,
		InitialDelay:    constants.InitialConnectDelay,
		ConnectTimeout:  constants.ConnectTimeout,
		Workers:         constants.PushWorkers,
		After:           time.After,
		handler:         handler,
		state:           StateDisconnected,
	}
}

// State returns the current channel state.
func (s *RealtimeService) State() ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RealtimeService) setState(state ChannelState) {
	s.mu.Lock()
	changed := s.swapStateLocked(state)
	s.mu.Unlock()

	if changed {
		s.notifyState(state)
	}
}

// swapStateLocked changes the state unless it is unchanged or STOPPED.
// s.mu must be held.
func (s *RealtimeService) swapStateLocked(state ChannelState) bool {
	if s.state == state || s.state == StateStopped {
		return false
	}
	s.state = state
	return true
}

func (s *RealtimeService) notifyState(state ChannelState) {
	s.Logger.Debug().Str("state", string(state)).Msg("Push channel state changed")
	if s.OnStateChange != nil {
		s.OnStateChange(state)
	}
}

// Start registers the handler given at construction.
func (s *RealtimeService) Start() error {
	return s.StartContext(context.Background())
}

// StartContext is Start bounded by ctx: cancelling ctx ends the initial
// connection attempts.
func (s *RealtimeService) StartContext(ctx context.Context) error {
	return s.RegisterListener(ctx, s.handler)
}

// RegisterListener opens the channel and delivers every push message to
// callback. The first connection is tried InitialAttempts times,
// InitialDelay apart; if all fail ErrRealtimeUnavailable is returned.
func (s *RealtimeService) RegisterListener(ctx context.Context, callback func(models.PushMessage)) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("realtime service is already running")
	}
	s.handler = callback
	s.state = StateDisconnected
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.lost = make(chan struct{}, 1)
	s.pool = utils.NewWorkerPool(s.Workers, 64, s.Logger)
	s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.InitialAttempts; attempt++ {
		lastErr = s.prepare(ctx)
		if lastErr == nil {
			lastErr = s.connect(ctx)
		}
		if lastErr == nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.reconnectLoop()
			}()
			return nil
		}

		s.setState(StateDisconnected)
		s.Logger.Debug().Err(lastErr).Int("attempt", attempt).Msg("Cannot start MQTT, retrying")
		if attempt == s.InitialAttempts {
			break
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return fmt.Errorf("%w: %w", models.ErrRealtimeUnavailable, ctx.Err())
		case <-s.After(s.InitialDelay):
		}
	}

	s.Logger.Error().Err(lastErr).Msg("Cannot start MQTT")
	s.shutdown()
	return fmt.Errorf("%w: %w", models.ErrRealtimeUnavailable, lastErr)
}

// prepare resolves the broker and loads the persisted identity.
func (s *RealtimeService) prepare(ctx context.Context) error {
	resp := s.Dispatcher.Execute(ctx, http.MethodGet, constants.RouteURL, nil, nil)
	if !resp.OK() {
		return fmt.Errorf("route discovery failed: %w", resp.Err)
	}
	var route models.Route
	if err := resp.Decode(&route); err != nil {
		return err
	}

	broker, host, err := brokerAddress(route.MQTTServer)
	if err != nil {
		return err
	}

	keys, err := s.Identity.GetOrCreateKeyPair(ctx)
	if err != nil {
		return err
	}
	csr, err := s.Identity.GetOrCreateCertificateSigningRequest(ctx, keys)
	if err != nil {
		return err
	}
	rootCA, err := s.Identity.FetchRootCA(ctx, host)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.broker, s.brokerHost = broker, host
	s.keys, s.csr, s.rootCA = keys, csr, rootCA
	s.mu.Unlock()
	return nil
}

// brokerAddress turns the routed server into a paho broker URL.
func brokerAddress(server string) (broker, host string, err error) {
	if server == "" {
		return "", "", errors.New("route carries no mqtt server")
	}
	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		u, err = url.Parse("ssl://" + server)
		if err != nil {
			return "", "", fmt.Errorf("invalid mqtt server %q: %w", server, err)
		}
	}

	host = u.Hostname()
	port := u.Port()
	if port == "" {
		port = constants.BrokerPort
	}
	return "ssl://" + net.JoinHostPort(host, port), host, nil
}

// connect issues a fresh certificate, connects and subscribes.
func (s *RealtimeService) connect(ctx context.Context) error {
	s.setState(StateConnecting)

	s.mu.Lock()
	broker, keys, csr, rootCA := s.broker, s.keys, s.csr, s.rootCA
	s.mu.Unlock()

	cert, err := s.Identity.IssueCertificate(ctx, csr)
	if err != nil {
		return err
	}

	tlsConfig, err := mqtt.NewTLSConfig(rootCA, []byte(cert.CertificatePEM), []byte(keys.PrivateKey))
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrIdentityProvisioning, err)
	}

	s.mu.Lock()
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	s.Logger.Debug().Str("broker", broker).Msg("Opening MQTT connection")
	client, err := s.Connector.Connect(mqtt.Options{
		Broker:         broker,
		ClientID:       s.Clients.ClientID(),
		TLSConfig:      tlsConfig,
		ConnectTimeout: s.ConnectTimeout,
		OnConnectionLost: func(err error) {
			s.onConnectionLost(generation, err)
		},
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	for _, topic := range cert.Subscriptions {
		token := client.Subscribe(topic, 0, s.handleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			s.dropClient(client)
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	// The connection may have dropped while subscribing; onConnectionLost
	// then already cleared s.client.
	s.mu.Lock()
	if s.client != client {
		s.mu.Unlock()
		return errors.New("connection lost while subscribing")
	}
	changed := s.swapStateLocked(StateConnected)
	s.mu.Unlock()

	if changed {
		s.notifyState(StateConnected)
	}
	s.Logger.Info().Str("broker", broker).Int("topics", len(cert.Subscriptions)).Msg("Successfully connected to the MQTT server")
	return nil
}

// dropClient disconnects client and forgets it if it is still current.
func (s *RealtimeService) dropClient(client mqtt.MQTTClient) {
	s.mu.Lock()
	if s.client == client {
		s.client = nil
	}
	s.mu.Unlock()
	client.Disconnect(constants.DisconnectQuiesce)
}

// onConnectionLost runs on the paho network goroutine.
func (s *RealtimeService) onConnectionLost(generation int, err error) {
	s.mu.Lock()
	if generation != s.generation || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	client := s.client
	s.client = nil
	established := s.state == StateConnected
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(0)
	}
	if !established {
		// connect is still running and reports the failure itself.
		s.Logger.Debug().Err(err).Msg("MQTT connection lost during setup")
		return
	}

	s.Logger.Info().Err(err).Dur("retry_in", s.ReconnectDelay).Msg("MQTT disconnected, retrying")
	s.setState(StateReconnecting)

	select {
	case s.lost <- struct{}{}:
	default:
	}
}

// reconnectLoop waits for connection loss and reconnects every
// ReconnectDelay until it succeeds, with no attempt limit.
func (s *RealtimeService) reconnectLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.lost:
		}

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-s.After(s.ReconnectDelay):
			}

			if err := s.connect(s.ctx); err != nil {
				s.Logger.Warn().Err(err).Dur("retry_in", s.ReconnectDelay).Msg("MQTT reconnect failed")
				s.setState(StateReconnecting)
				continue
			}
			break
		}
	}
}

func (s *RealtimeService) handleMessage(_ paho.Client, msg paho.Message) {
	var push models.PushMessage
	if err := json.Unmarshal(msg.Payload(), &push); err != nil {
		s.Logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping malformed push message")
		return
	}
	s.Logger.Debug().Str("device_id", push.DeviceID).Str("topic", msg.Topic()).Msg("MQTT message received")

	s.mu.Lock()
	handler, pool := s.handler, s.pool
	s.mu.Unlock()
	if handler == nil || pool == nil {
		return
	}
	pool.Submit("push:"+push.DeviceID, func() { handler(push) })
}

// Stop closes the connection and ends the reconnect loop.
func (s *RealtimeService) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return errors.New("realtime service is not running")
	}
	s.mu.Unlock()

	s.shutdown()
	s.Logger.Info().Msg("Realtime service stopped")
	return nil
}

func (s *RealtimeService) shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	client, pool := s.client, s.pool
	s.client, s.pool = nil, nil
	s.ctx, s.cancel = nil, nil
	s.state = StateStopped
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(constants.DisconnectQuiesce)
	}
	if pool != nil {
		pool.Shutdown()
	}
	if s.OnStateChange != nil {
		s.OnStateChange(StateStopped)
	}
}
