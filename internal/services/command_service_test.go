package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/models"
)

func TestCommandService_RefreshesExpiredTokenOnce(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)
	cloud.expire()
	tokensBefore, _, _ := cloud.counts()

	resp := stack.dispatch.Execute(context.Background(), http.MethodGet, "service/homes", nil, nil)

	require.True(t, resp.OK(), "error: %v", resp.Err)
	var result struct {
		Path string `json:"path"`
	}
	require.NoError(t, resp.Decode(&result))
	assert.Equal(t, "/v1/service/homes", result.Path)

	tokens, refreshes, controls := cloud.counts()
	assert.Equal(t, 1, tokens-tokensBefore)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 2, controls)
	assert.Equal(t, "token-2", stack.auth.Session().AccessToken)
}

func TestCommandService_SecondExpiryIsNotRetried(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)
	cloud.mu.Lock()
	cloud.alwaysExpired = true
	cloud.mu.Unlock()

	resp := stack.dispatch.Execute(context.Background(), http.MethodGet, "service/homes", nil, nil)

	assert.False(t, resp.OK())
	assert.True(t, errors.Is(resp.Err, models.ErrTokenExpired))
	assert.JSONEq(t, `{}`, string(resp.Result))

	_, refreshes, controls := cloud.counts()
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 2, controls)
}

func TestCommandService_ConcurrentExpiryRefreshesOnce(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)
	cloud.mu.Lock()
	cloud.tokenHold = 200 * time.Millisecond
	cloud.mu.Unlock()
	cloud.expire()

	var wg sync.WaitGroup
	var ok atomic.Int32
	for iter := 0; iter < 2; iter++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if resp := stack.dispatch.Execute(context.Background(), http.MethodGet, "service/homes", nil, nil); resp.OK() {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), ok.Load())
	_, refreshes, _ := cloud.counts()
	assert.Equal(t, 1, refreshes)
}

func TestCommandService_ManualConsentAcceptedAndRetried(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)
	cloud.mu.Lock()
	cloud.consentPending = true
	cloud.mu.Unlock()

	resp := stack.dispatch.Execute(context.Background(), http.MethodGet, "service/homes", nil, nil)

	require.True(t, resp.OK(), "error: %v", resp.Err)
	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	assert.Equal(t, 1, cloud.termsAccepted)
	assert.Equal(t, 2, cloud.controlCalls)
}

func TestCommandService_FailuresDegradeToEmptyResult(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     map[string]any
		sentinel error
		dup      bool
	}{
		{name: "not connected", status: http.StatusOK, body: map[string]any{"resultCode": constants.ResultCodeNotConnected}, sentinel: models.ErrNotConnected},
		{name: "duplicate value", status: http.StatusBadRequest, body: map[string]any{"resultCode": constants.ResultCodeDuplicateValue}, sentinel: models.ErrDuplicateValue, dup: true},
		{name: "client error", status: http.StatusBadRequest, body: map[string]any{"resultCode": "0100"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cloud := newFakeCloud(t)
			stack := readyStack(t, cloud)
			cloud.on("service/devices/d1/control-sync", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				writeJSON(w, tt.body)
			})

			resp := stack.dispatch.Execute(context.Background(), http.MethodPost, "service/devices/d1/control-sync", map[string]any{"ctrlKey": "basicCtrl"}, nil)

			assert.False(t, resp.OK())
			assert.JSONEq(t, `{}`, string(resp.Result))
			assert.Equal(t, tt.dup, resp.Duplicate())
			if tt.sentinel != nil {
				assert.True(t, errors.Is(resp.Err, tt.sentinel))
			}
		})
	}
}

func TestCommandService_MissingResultIsEmptyObject(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)
	cloud.on("service/users/client", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"resultCode": "0000"})
	})

	resp := stack.dispatch.Execute(context.Background(), http.MethodPost, "service/users/client", map[string]any{}, nil)

	require.True(t, resp.OK())
	assert.JSONEq(t, `{}`, string(resp.Result))
}

func TestCommandService_DefaultHeaders(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)

	resp := stack.dispatch.Execute(context.Background(), http.MethodGet, "service/homes", nil, map[string]string{"x-extra": "1"})
	require.True(t, resp.OK())

	cloud.mu.Lock()
	headers := cloud.lastHeaders
	cloud.mu.Unlock()

	assert.Equal(t, constants.APIKey, headers.Get("x-api-key"))
	assert.Equal(t, stack.auth.Session().AccessToken, headers.Get("x-emp-token"))
	assert.Equal(t, testUserNumber, headers.Get("x-user-no"))
	assert.Equal(t, stack.auth.ClientID(), headers.Get("x-client-id"))
	assert.Len(t, headers.Get("x-message-id"), 22)
	assert.Equal(t, "1", headers.Get("x-extra"))
}

func TestCommandService_MessageIDIsFreshPerRequest(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)

	ids := map[string]struct{}{}
	for iter := 0; iter < 3; iter++ {
		require.True(t, stack.dispatch.Execute(context.Background(), http.MethodGet, "service/homes", nil, nil).OK())
		cloud.mu.Lock()
		ids[cloud.lastHeaders.Get("x-message-id")] = struct{}{}
		cloud.mu.Unlock()
	}
	assert.Len(t, ids, 3)
}

func TestCommandService_AbsoluteURLPassesThrough(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)

	resp := stack.dispatch.Execute(context.Background(), http.MethodGet, cloud.URL()+"/v1/legacy/rti/rtiControl", nil, nil)

	require.True(t, resp.OK())
	var result struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "/v1/legacy/rti/rtiControl", result.Path)
}

func TestCommandService_TransportRetriesServerErrors(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)

	var calls atomic.Int32
	cloud.on("service/homes", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"resultCode": "0000", "result": map[string]any{"item": []any{}}})
	})

	resp := stack.dispatch.Execute(context.Background(), http.MethodGet, "service/homes", nil, nil)

	require.True(t, resp.OK(), "error: %v", resp.Err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCommandService_TransportGivesUpAfterTwoRetries(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)

	var calls atomic.Int32
	cloud.on("service/homes", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	resp := stack.dispatch.Execute(context.Background(), http.MethodGet, "service/homes", nil, nil)

	assert.False(t, resp.OK())
	assert.Equal(t, int32(3), calls.Load())
}

func TestCommandService_FetchRaw(t *testing.T) {
	cloud := newFakeCloud(t)
	stack := readyStack(t, cloud)

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"Value":{}}`))
	}))
	defer files.Close()

	data, err := stack.dispatch.FetchRaw(context.Background(), files.URL+"/model.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Value":{}}`, string(data))

	_, err = stack.dispatch.FetchRaw(context.Background(), files.URL+"/missing")
	assert.Error(t, err)
}
