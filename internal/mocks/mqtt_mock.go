package mocks

import (
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"

	mqttpkg "github.com/benmeehan/thinq-agent/pkg/mqtt"
)

// MockMQTTClient is a mock implementation of the MQTTClient interface
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	args := m.Called()
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	args := m.Called(topic, qos, callback)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	args := m.Called(topics)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockConnector is a mock implementation of the mqtt.Connector interface.
// It records every Options it was called with so tests can fire the
// connection-lost callback.
type MockConnector struct {
	mock.Mock

	mu   sync.Mutex
	opts []mqttpkg.Options
}

func (m *MockConnector) Connect(opts mqttpkg.Options) (mqttpkg.MQTTClient, error) {
	m.mu.Lock()
	m.opts = append(m.opts, opts)
	m.mu.Unlock()

	args := m.Called(opts)
	if client := args.Get(0); client != nil {
		return client.(mqttpkg.MQTTClient), args.Error(1)
	}
	return nil, args.Error(1)
}

// LastOptions returns the options of the most recent Connect call.
func (m *MockConnector) LastOptions() mqttpkg.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.opts) == 0 {
		return mqttpkg.Options{}
	}
	return m.opts[len(m.opts)-1]
}

// ConnectCalls returns how many times Connect was called.
func (m *MockConnector) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.opts)
}
