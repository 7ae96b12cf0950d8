package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/models"
	"github.com/benmeehan/thinq-agent/pkg/persist"
)

var (
	amazonATSHost = regexp.MustCompile(`^([^.]+)-ats\.iot\.([^.]+)\.amazonaws\.com$`)
	lgOwnedHost   = regexp.MustCompile(`^([^.]+)\.iot\.ruic\.lgthinq\.com$`)
	csrArmour     = regexp.MustCompile(`-----(BEGIN|END) CERTIFICATE REQUEST-----|\r\n|\r|\n`)
)

// ResolveRootCA returns the URL of the trust root for a broker host.
func ResolveRootCA(host string) string {
	switch {
	case amazonATSHost.MatchString(host):
		return constants.AmazonRootCAURL
	case lgOwnedHost.MatchString(host):
		return constants.ComodoRootCAURL
	default:
		return constants.VeriSignRootCAURL
	}
}

// IdentityProvisioner obtains the client identity used on the push channel.
type IdentityProvisioner interface {
	GetOrCreateKeyPair(ctx context.Context) (models.KeyPair, error)
	GetOrCreateCertificateSigningRequest(ctx context.Context, keys models.KeyPair) (string, error)
	IssueCertificate(ctx context.Context, csrPEM string) (models.IssuedCertificate, error)
	FetchRootCA(ctx context.Context, host string) ([]byte, error)
}

// IdentityService provisions the broker client identity. The key pair and
// CSR are cached forever; certificates are issued fresh on every call.
type IdentityService struct {
	Dispatcher Dispatcher
	Cache      persist.Cache
	KeyBits    int
	Logger     zerolog.Logger
}

// NewIdentityService initializes a new IdentityService.
func NewIdentityService(dispatcher Dispatcher, cache persist.Cache, logger zerolog.Logger) *IdentityService {
	return &IdentityService{
		Dispatcher: dispatcher,
		Cache:      cache,
		KeyBits:    constants.RSAKeyBits,
		Logger:     logger,
	}
}

// GetOrCreateKeyPair returns the persisted RSA key pair, generating it once.
func (s *IdentityService) GetOrCreateKeyPair(ctx context.Context) (models.KeyPair, error) {
	keys, err := persist.CacheForever(ctx, s.Cache, constants.CacheKeyKeyPair, func(context.Context) (models.KeyPair, error) {
		s.Logger.Debug().Int("bits", s.KeyBits).Msg("Generating key pair")

		key, err := rsa.GenerateKey(rand.Reader, s.KeyBits)
		if err != nil {
			return models.KeyPair{}, fmt.Errorf("failed to generate key pair: %w", err)
		}
		publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			return models.KeyPair{}, fmt.Errorf("failed to encode public key: %w", err)
		}

		return models.KeyPair{
			PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
			PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})),
		}, nil
	})
	if err != nil {
		return models.KeyPair{}, fmt.Errorf("%w: %w", models.ErrIdentityProvisioning, err)
	}
	return keys, nil
}

// GetOrCreateCertificateSigningRequest returns the persisted CSR for keys,
// creating it once.
func (s *IdentityService) GetOrCreateCertificateSigningRequest(ctx context.Context, keys models.KeyPair) (string, error) {
	csr, err := persist.CacheForever(ctx, s.Cache, constants.CacheKeyCSR, func(context.Context) (string, error) {
		s.Logger.Debug().Msg("Creating certificate signing request")

		key, err := parsePrivateKey(keys.PrivateKey)
		if err != nil {
			return "", err
		}

		der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
			Subject: pkix.Name{
				CommonName:   constants.CSRCommonName,
				Organization: []string{constants.CSROrganization},
			},
			SignatureAlgorithm: x509.SHA256WithRSA,
		}, key)
		if err != nil {
			return "", fmt.Errorf("failed to create CSR: %w", err)
		}

		return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrIdentityProvisioning, err)
	}
	return csr, nil
}

// IssueCertificate registers the client and exchanges the CSR for a signed
// certificate and the topics it may subscribe to.
func (s *IdentityService) IssueCertificate(ctx context.Context, csrPEM string) (models.IssuedCertificate, error) {
	if resp := s.Dispatcher.Execute(ctx, http.MethodPost, "service/users/client", map[string]any{}, nil); !resp.OK() {
		s.Logger.Debug().Err(resp.Err).Msg("Client registration failed")
	}

	resp := s.Dispatcher.Execute(ctx, http.MethodPost, "service/users/client/certificate", models.CertificateRequest{
		CSR: csrArmour.ReplaceAllString(csrPEM, ""),
	}, nil)
	if !resp.OK() {
		return models.IssuedCertificate{}, fmt.Errorf("%w: certificate issuance: %w", models.ErrIdentityProvisioning, resp.Err)
	}

	var cert models.IssuedCertificate
	if err := resp.Decode(&cert); err != nil {
		return models.IssuedCertificate{}, fmt.Errorf("%w: %w", models.ErrIdentityProvisioning, err)
	}
	if cert.CertificatePEM == "" {
		return models.IssuedCertificate{}, fmt.Errorf("%w: no certificate issued", models.ErrIdentityProvisioning)
	}

	s.Logger.Debug().Strs("subscriptions", cert.Subscriptions).Msg("Client certificate issued")
	return cert, nil
}

// FetchRootCA downloads the trust root for host.
func (s *IdentityService) FetchRootCA(ctx context.Context, host string) ([]byte, error) {
	rootCA, err := s.Dispatcher.FetchRaw(ctx, ResolveRootCA(host))
	if err != nil {
		return nil, fmt.Errorf("%w: root CA: %w", models.ErrIdentityProvisioning, err)
	}
	return rootCA, nil
}

func parsePrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errors.New("private key is not PEM encoded")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
