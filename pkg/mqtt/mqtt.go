package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTClient defines the interface for an MQTT client.
type MQTTClient interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// ClientFactory builds a client from paho options.
type ClientFactory func(opts *mqtt.ClientOptions) MQTTClient

// Options describes one broker connection.
type Options struct {
	Broker         string
	ClientID       string
	TLSConfig      *tls.Config
	ConnectTimeout time.Duration

	// OnConnectionLost is called from the paho network goroutine when an
	// established connection drops. Reconnecting is left to the caller.
	OnConnectionLost func(err error)
}

// Connector opens broker connections.
type Connector interface {
	Connect(opts Options) (MQTTClient, error)
}

// MqttService provides methods for MQTT operations.
type MqttService struct {
	newClient ClientFactory
	logger    zerolog.Logger
}

// NewMqttService creates a new MqttService backed by paho.
func NewMqttService(logger zerolog.Logger) *MqttService {
	return NewMqttServiceWithFactory(func(opts *mqtt.ClientOptions) MQTTClient {
		return mqtt.NewClient(opts)
	}, logger)
}

// NewMqttServiceWithFactory creates a MqttService with a custom client factory.
func NewMqttServiceWithFactory(factory ClientFactory, logger zerolog.Logger) *MqttService {
	return &MqttService{
		newClient: factory,
		logger:    logger,
	}
}

// Connect creates a client for opts and waits for the CONNECT handshake.
// Automatic reconnect is disabled: the caller owns the reconnect policy.
func (s *MqttService) Connect(o Options) (MQTTClient, error) {
	if o.Broker == "" {
		return nil, errors.New("broker address is empty")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetTLSConfig(o.TLSConfig)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	if o.ConnectTimeout > 0 {
		opts.SetConnectTimeout(o.ConnectTimeout)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn().Err(err).Str("broker", o.Broker).Msg("MQTT connection lost")
		if o.OnConnectionLost != nil {
			o.OnConnectionLost(err)
		}
	})

	client := s.newClient(opts)

	token := client.Connect()
	if o.ConnectTimeout > 0 {
		if !token.WaitTimeout(o.ConnectTimeout) {
			client.Disconnect(0)
			return nil, fmt.Errorf("timed out connecting to %s", o.Broker)
		}
	} else {
		token.Wait()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", o.Broker, err)
	}

	s.logger.Info().Str("broker", o.Broker).Str("client_id", o.ClientID).Msg("Connected to MQTT broker")
	return client, nil
}

// NewTLSConfig builds a client-authenticated TLS configuration.
// rootCA may be empty, in which case the system pool is used.
func NewTLSConfig(rootCA, certificate, privateKey []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certificate, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if len(rootCA) > 0 {
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(rootCA) {
			return nil, errors.New("failed to append CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
