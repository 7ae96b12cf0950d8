package services_test

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/mocks"
	"github.com/benmeehan/thinq-agent/internal/models"
	"github.com/benmeehan/thinq-agent/internal/services"
	"github.com/benmeehan/thinq-agent/pkg/persist"
)

func newIdentity(t *testing.T) (*services.IdentityService, *mocks.MockDispatcher, persist.Cache) {
	t.Helper()
	dispatcher := new(mocks.MockDispatcher)
	cache := persist.NewMemoryCache()
	identity := services.NewIdentityService(dispatcher, cache, zerolog.Nop())
	identity.KeyBits = 1024
	return identity, dispatcher, cache
}

func TestResolveRootCA(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"a1b2c3-ats.iot.us-west-2.amazonaws.com", constants.AmazonRootCAURL},
		{"a1b2c3-ats.iot.eu-west-1.amazonaws.com", constants.AmazonRootCAURL},
		{"common.iot.ruic.lgthinq.com", constants.ComodoRootCAURL},
		{"a1b2c3.iot.us-west-2.amazonaws.com", constants.VeriSignRootCAURL},
		{"a1b2c3-atsXiotXus-west-2.amazonaws.com", constants.VeriSignRootCAURL},
		{"broker.example.com", constants.VeriSignRootCAURL},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, services.ResolveRootCA(tt.host))
		})
	}
}

func TestIdentityService_KeyPairIsCreatedOnce(t *testing.T) {
	identity, _, cache := newIdentity(t)
	ctx := context.Background()

	first, err := identity.GetOrCreateKeyPair(ctx)
	require.NoError(t, err)
	second, err := identity.GetOrCreateKeyPair(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first.PrivateKey, "RSA PRIVATE KEY")
	assert.Contains(t, first.PublicKey, "PUBLIC KEY")

	// a second service sharing the cache sees the persisted pair
	other := services.NewIdentityService(new(mocks.MockDispatcher), cache, zerolog.Nop())
	third, err := other.GetOrCreateKeyPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestIdentityService_CertificateSigningRequest(t *testing.T) {
	identity, _, _ := newIdentity(t)
	ctx := context.Background()

	keys, err := identity.GetOrCreateKeyPair(ctx)
	require.NoError(t, err)
	csrPEM, err := identity.GetOrCreateCertificateSigningRequest(ctx, keys)
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(csrPEM))
	require.NotNil(t, block)
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	require.NoError(t, err)
	require.NoError(t, csr.CheckSignature())
	assert.Equal(t, constants.CSRCommonName, csr.Subject.CommonName)
	assert.Equal(t, []string{constants.CSROrganization}, csr.Subject.Organization)
	assert.Equal(t, x509.SHA256WithRSA, csr.SignatureAlgorithm)

	again, err := identity.GetOrCreateCertificateSigningRequest(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, csrPEM, again)
}

func TestIdentityService_InvalidKeyPair(t *testing.T) {
	identity, _, _ := newIdentity(t)

	_, err := identity.GetOrCreateCertificateSigningRequest(context.Background(), models.KeyPair{PrivateKey: "garbage"})
	assert.True(t, errors.Is(err, models.ErrIdentityProvisioning))
}

func TestIdentityService_IssueCertificate(t *testing.T) {
	identity, dispatcher, _ := newIdentity(t)
	csr := "-----BEGIN CERTIFICATE REQUEST-----\nMIIB\r\nAAAA\n-----END CERTIFICATE REQUEST-----\n"

	dispatcher.On("Execute", mock.Anything, http.MethodPost, "service/users/client", mock.Anything, mock.Anything).
		Return(&services.Response{Result: []byte(`{}`)}).Once()
	dispatcher.On("Execute", mock.Anything, http.MethodPost, "service/users/client/certificate",
		models.CertificateRequest{CSR: "MIIBAAAA"}, mock.Anything).
		Return(&services.Response{Result: []byte(`{"certificatePem":"CERT","subscriptions":["app/clients/x/feed"]}`)}).Once()

	cert, err := identity.IssueCertificate(context.Background(), csr)
	require.NoError(t, err)
	assert.Equal(t, "CERT", cert.CertificatePEM)
	assert.Equal(t, []string{"app/clients/x/feed"}, cert.Subscriptions)
	dispatcher.AssertExpectations(t)
}

func TestIdentityService_IssueCertificateFailure(t *testing.T) {
	identity, dispatcher, _ := newIdentity(t)
	dispatcher.On("Execute", mock.Anything, http.MethodPost, "service/users/client", mock.Anything, mock.Anything).
		Return(&services.Response{Result: []byte(`{}`)})
	dispatcher.On("Execute", mock.Anything, http.MethodPost, "service/users/client/certificate", mock.Anything, mock.Anything).
		Return(&services.Response{Result: []byte(`{}`), Err: models.ErrNotConnected})

	_, err := identity.IssueCertificate(context.Background(), "csr")
	assert.True(t, errors.Is(err, models.ErrIdentityProvisioning))
	assert.True(t, errors.Is(err, models.ErrNotConnected))
}

func TestIdentityService_FetchRootCA(t *testing.T) {
	identity, dispatcher, _ := newIdentity(t)
	dispatcher.On("FetchRaw", mock.Anything, constants.AmazonRootCAURL).Return([]byte("PEM"), nil).Once()
	dispatcher.On("FetchRaw", mock.Anything, constants.VeriSignRootCAURL).Return(nil, errors.New("boom")).Once()

	rootCA, err := identity.FetchRootCA(context.Background(), "x-ats.iot.us-east-1.amazonaws.com")
	require.NoError(t, err)
	assert.Equal(t, "PEM", string(rootCA))

	_, err = identity.FetchRootCA(context.Background(), "legacy.example.com")
	assert.True(t, errors.Is(err, models.ErrIdentityProvisioning))
	assert.True(t, strings.Contains(err.Error(), "boom"))
}
