package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/benmeehan/thinq-agent/internal/models"
	httputils "github.com/benmeehan/thinq-agent/pkg/httpUtils"
)

// GatewayResolver discovers the regional endpoints of the cloud service.
type GatewayResolver interface {
	Resolve(ctx context.Context) (*models.Gateway, error)
	Current() *models.Gateway
}

// GatewayService resolves the gateway once per process. Failed resolutions
// are not remembered, so a later call tries again.
type GatewayService struct {
	URL    string
	Client ClientInfo
	HTTP   *httputils.Client
	Logger zerolog.Logger

	mu      sync.RWMutex
	gateway *models.Gateway
	group   singleflight.Group
}

// NewGatewayService initializes a new GatewayService.
func NewGatewayService(url string, client ClientInfo, httpClient *httputils.Client, logger zerolog.Logger) *GatewayService {
	return &GatewayService{
		URL:    url,
		Client: client,
		HTTP:   httpClient,
		Logger: logger,
	}
}

// Current returns the resolved gateway, or nil before the first Resolve.
func (g *GatewayService) Current() *models.Gateway {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gateway
}

// Resolve returns the cached gateway or fetches it.
func (g *GatewayService) Resolve(ctx context.Context) (*models.Gateway, error) {
	if gw := g.Current(); gw != nil {
		return gw, nil
	}

	v, err, _ := g.group.Do("gateway", func() (any, error) {
		if gw := g.Current(); gw != nil {
			return gw, nil
		}

		gw, err := g.fetch(ctx)
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.gateway = gw
		g.mu.Unlock()

		g.Logger.Info().
			Str("country", gw.CountryCode).
			Str("control_url", gw.Thinq2URL).
			Msg("Gateway resolved")
		return gw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Gateway), nil
}

func (g *GatewayService) fetch(ctx context.Context) (*models.Gateway, error) {
	resp, err := g.HTTP.Do(ctx, http.MethodGet, g.URL, nil, g.Client.Headers("", "", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: gateway discovery: %v", models.ErrNotConnected, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: gateway discovery returned status %d", models.ErrNotConnected, resp.StatusCode)
	}

	var envelope struct {
		Result *models.Gateway `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode gateway: %w", err)
	}
	if envelope.Result == nil || envelope.Result.Thinq2URL == "" {
		return nil, fmt.Errorf("gateway response carries no endpoints")
	}

	return envelope.Result, nil
}
