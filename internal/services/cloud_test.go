package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/services"
	"github.com/benmeehan/thinq-agent/pkg/encryption"
	httputils "github.com/benmeehan/thinq-agent/pkg/httpUtils"
	"github.com/benmeehan/thinq-agent/pkg/persist"
)

const (
	testUsername     = "user@example.com"
	testPassword     = "secret"
	testRefreshToken = "good-refresh"
	testUserNumber   = "US2109123456789"
)

// fakeCloud serves the gateway, account, OAuth and control endpoints.
type fakeCloud struct {
	t   *testing.T
	srv *httptest.Server

	mu             sync.Mutex
	validToken     string
	issued         int
	gatewayCalls   int
	loginCalls     int
	tokenCalls     int
	refreshCalls   int
	controlCalls   int
	termsAccepted  int
	alwaysExpired  bool
	consentPending bool
	rejectLogin    bool
	tokenHold      time.Duration
	badSignatures  int
	lastHeaders    http.Header
	tokenResponse  func(n int) map[string]any
	control        map[string]http.HandlerFunc
}

func newFakeCloud(t *testing.T) *fakeCloud {
	c := &fakeCloud{t: t, control: map[string]http.HandlerFunc{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/gateway", c.handleGateway)
	mux.HandleFunc("/"+constants.AccountSessionPath, c.handleLogin)
	mux.HandleFunc(constants.OAuthTokenPath, c.handleToken)
	mux.HandleFunc(constants.UserProfilePath, c.handleProfile)
	mux.HandleFunc("/"+constants.TermsPath, c.handleTerms)
	mux.HandleFunc("/v1/", c.handleControl)

	c.srv = httptest.NewServer(mux)
	t.Cleanup(c.srv.Close)
	return c
}

func (c *fakeCloud) URL() string {
	return c.srv.URL
}

// expire invalidates every issued access token.
func (c *fakeCloud) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validToken = ""
}

func (c *fakeCloud) counts() (token, refresh, control int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenCalls, c.refreshCalls, c.controlCalls
}

func (c *fakeCloud) handleGateway(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	c.gatewayCalls++
	c.mu.Unlock()

	writeJSON(w, map[string]any{
		"resultCode": "0000",
		"result": map[string]any{
			"countryCode":  "US",
			"languageCode": "en-US",
			"thinq1Uri":    c.srv.URL + "/v1/legacy",
			"thinq2Uri":    c.srv.URL + "/v1",
			"empTermsUri":  c.srv.URL,
			"empSpxUri":    c.srv.URL,
			"oauthUri":     c.srv.URL,
		},
	})
}

func (c *fakeCloud) handleLogin(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.loginCalls++
	reject := c.rejectLogin
	c.mu.Unlock()

	if reject {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_ = r.ParseForm()
	if r.PostForm.Get("user_auth2") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"account": map[string]any{
			"userID":         strings.TrimPrefix(r.URL.Path, "/"+constants.AccountSessionPath),
			"loginSessionID": "login-session",
		},
	})
}

func (c *fakeCloud) handleToken(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))

	date := r.Header.Get("x-lge-oauth-date")
	message := constants.OAuthTokenPath + "?" + string(body) + "\n" + date

	c.mu.Lock()
	c.tokenCalls++
	if !encryption.VerifyOAuthSignature(message, constants.OAuthSecretKey, r.Header.Get("x-lge-oauth-signature")) {
		c.badSignatures++
	}
	if form.Get("grant_type") == "refresh_token" {
		c.refreshCalls++
		if form.Get("refresh_token") != testRefreshToken {
			c.mu.Unlock()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	hold := c.tokenHold
	c.mu.Unlock()

	time.Sleep(hold)

	c.mu.Lock()
	c.issued++
	n := c.issued
	c.validToken = fmt.Sprintf("token-%d", n)
	respond := c.tokenResponse
	c.mu.Unlock()

	if respond != nil {
		writeJSON(w, respond(n))
		return
	}
	writeJSON(w, map[string]any{
		"access_token":  fmt.Sprintf("token-%d", n),
		"refresh_token": testRefreshToken,
		"expires_in":    "3600",
	})
}

func (c *fakeCloud) handleProfile(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("authorization"), "Bearer token-") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{"account": map[string]any{"userNo": testUserNumber}})
}

func (c *fakeCloud) handleTerms(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Method == http.MethodPost {
		c.termsAccepted++
		c.consentPending = false
		writeJSON(w, map[string]any{})
		return
	}

	terms := []map[string]any{}
	if c.consentPending {
		terms = append(terms, map[string]any{"termsID": "1", "termsType": "TOS", "defaultLang": "en"})
	}
	writeJSON(w, map[string]any{"account": map[string]any{"terms": terms}})
}

func (c *fakeCloud) handleControl(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.controlCalls++
	c.lastHeaders = r.Header.Clone()
	valid := c.validToken != "" && r.Header.Get("x-emp-token") == c.validToken && !c.alwaysExpired
	pending := c.consentPending
	handler := c.control[strings.TrimPrefix(r.URL.Path, "/v1/")]
	c.mu.Unlock()

	switch {
	case !valid:
		writeJSON(w, map[string]any{"resultCode": constants.ResultCodeTokenExpired})
	case pending:
		writeJSON(w, map[string]any{"resultCode": constants.ResultCodeManualProcessNeeded})
	case handler != nil:
		handler(w, r)
	default:
		writeJSON(w, map[string]any{"resultCode": "0000", "result": map[string]any{"path": r.URL.Path}})
	}
}

// on registers a handler for a control path relative to the control endpoint.
func (c *fakeCloud) on(path string, handler http.HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.control[path] = handler
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// clientStack is the gateway, auth and dispatcher wired against a fakeCloud.
type clientStack struct {
	gateway  *services.GatewayService
	auth     *services.AuthService
	dispatch *services.CommandService
	cache    persist.Cache
}

func newClientStack(t *testing.T, cloud *fakeCloud, creds services.Credentials) *clientStack {
	t.Helper()

	logger := zerolog.Nop()
	httpClient := httputils.NewClient(cloud.srv.Client(), httputils.RetryConfig{
		Retries:    constants.TransportRetries,
		BaseDelay:  time.Millisecond,
		Timeout:    5 * time.Second,
		RetryCodes: constants.RetryableStatusCodes,
	}, logger)
	client := services.ClientInfo{Country: "US", Language: "en-US", AppVersion: constants.DefaultAppVersion}
	cache := persist.NewMemoryCache()

	gateway := services.NewGatewayService(cloud.URL()+"/gateway", client, httpClient, logger)
	auth := services.NewAuthService(client, httpClient, gateway, cache, creds, logger)
	dispatch := services.NewCommandService(client, httpClient, auth, logger)

	return &clientStack{gateway: gateway, auth: auth, dispatch: dispatch, cache: cache}
}

func readyStack(t *testing.T, cloud *fakeCloud) *clientStack {
	t.Helper()
	stack := newClientStack(t, cloud, services.Credentials{Username: testUsername, Password: testPassword})
	require.NoError(t, stack.auth.Ready(context.Background()))
	return stack
}
