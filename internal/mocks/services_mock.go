package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/thinq-agent/internal/models"
	"github.com/benmeehan/thinq-agent/internal/services"
)

// MockDispatcher is a mock implementation of the services.Dispatcher interface
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Execute(ctx context.Context, method, path string, body any, headers map[string]string) *services.Response {
	args := m.Called(ctx, method, path, body, headers)
	return args.Get(0).(*services.Response)
}

func (m *MockDispatcher) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	args := m.Called(ctx, rawURL)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// MockIdentityProvisioner is a mock implementation of the services.IdentityProvisioner interface
type MockIdentityProvisioner struct {
	mock.Mock
}

func (m *MockIdentityProvisioner) GetOrCreateKeyPair(ctx context.Context) (models.KeyPair, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.KeyPair), args.Error(1)
}

func (m *MockIdentityProvisioner) GetOrCreateCertificateSigningRequest(ctx context.Context, keys models.KeyPair) (string, error) {
	args := m.Called(ctx, keys)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityProvisioner) IssueCertificate(ctx context.Context, csrPEM string) (models.IssuedCertificate, error) {
	args := m.Called(ctx, csrPEM)
	return args.Get(0).(models.IssuedCertificate), args.Error(1)
}

func (m *MockIdentityProvisioner) FetchRootCA(ctx context.Context, host string) ([]byte, error) {
	args := m.Called(ctx, host)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// MockSessionManager is a mock implementation of the services.SessionManager interface
type MockSessionManager struct {
	mock.Mock
}

func (m *MockSessionManager) Gateway() *models.Gateway {
	args := m.Called()
	gw, _ := args.Get(0).(*models.Gateway)
	return gw
}

func (m *MockSessionManager) Session() models.Session {
	args := m.Called()
	return args.Get(0).(models.Session)
}

func (m *MockSessionManager) UserNumber() string {
	return m.Called().String(0)
}

func (m *MockSessionManager) ClientID() string {
	return m.Called().String(0)
}

func (m *MockSessionManager) RefreshSession(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSessionManager) AcknowledgeManualConsent(ctx context.Context, accessToken string) error {
	return m.Called(ctx, accessToken).Error(0)
}

// MockCommander is a mock implementation of the controllers.Commander interface
type MockCommander struct {
	mock.Mock
}

func (m *MockCommander) Control(ctx context.Context, device *models.Device, cmd models.Command) *services.Response {
	args := m.Called(ctx, device, cmd)
	return args.Get(0).(*services.Response)
}
