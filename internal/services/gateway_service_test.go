package services_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/thinq-agent/internal/services"
	httputils "github.com/benmeehan/thinq-agent/pkg/httpUtils"
)

func TestGatewayService_ResolvesOnce(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := newClientStack(t, cloud, services.Credentials{})
	assert.Nil(t, stack.gateway.Current())

	var wg sync.WaitGroup
	for iter := 0; iter < 4; iter++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gw, err := stack.gateway.Resolve(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, cloud.URL()+"/v1/", gw.ControlURL())
		}()
	}
	wg.Wait()

	require.NotNil(t, stack.gateway.Current())
	assert.Equal(t, "US", stack.gateway.Current().CountryCode)
	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	assert.Equal(t, 1, cloud.gatewayCalls)
}

func TestGatewayService_FailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, map[string]any{"resultCode": "0000"})
			return
		}
		writeJSON(w, map[string]any{"result": map[string]any{"thinq2Uri": "https://example.com/v1"}})
	}))
	defer srv.Close()

	client := httputils.NewClient(srv.Client(), httputils.RetryConfig{}, zerolog.Nop())
	gateway := services.NewGatewayService(srv.URL, services.ClientInfo{Country: "US"}, client, zerolog.Nop())

	_, err := gateway.Resolve(context.Background())
	require.Error(t, err)
	assert.Nil(t, gateway.Current())

	gw, err := gateway.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v1/", gw.ControlURL())
}
