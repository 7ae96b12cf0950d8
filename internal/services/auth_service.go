package services

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/models"
	"github.com/benmeehan/thinq-agent/pkg/encryption"
	httputils "github.com/benmeehan/thinq-agent/pkg/httpUtils"
	"github.com/benmeehan/thinq-agent/pkg/jwt"
	"github.com/benmeehan/thinq-agent/pkg/persist"
)

// Credentials are the account secrets the client may start from.
type Credentials struct {
	Username     string
	Password     string
	RefreshToken string
}

// AuthService owns the session: login, refresh, user number and consent.
// Login, Refresh, ResolveUserNumber and AcknowledgeManualConsent only talk
// to the network; Ready and RefreshSession store the result.
type AuthService struct {
	Client   ClientInfo
	HTTP     *httputils.Client
	Gateways GatewayResolver
	Cache    persist.Cache
	Logger   zerolog.Logger

	credentials Credentials
	now         func() time.Time

	mu         sync.RWMutex
	session    models.Session
	userNumber string
	clientID   string

	refreshGroup singleflight.Group
}

// NewAuthService initializes a new AuthService. cache may be nil, in which
// case the session is not persisted across restarts.
func NewAuthService(client ClientInfo, httpClient *httputils.Client, gateways GatewayResolver, cache persist.Cache,
	credentials Credentials, logger zerolog.Logger) *AuthService {

	return &AuthService{
		Client:      client,
		HTTP:        httpClient,
		Gateways:    gateways,
		Cache:       cache,
		Logger:      logger,
		credentials: credentials,
		now:         time.Now,
		session:     models.Session{RefreshToken: credentials.RefreshToken},
	}
}

// Gateway returns the resolved gateway, or nil before Ready.
func (a *AuthService) Gateway() *models.Gateway {
	return a.Gateways.Current()
}

// Session returns the current session.
func (a *AuthService) Session() models.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

// UserNumber returns the resolved user number, or "" before Ready.
func (a *AuthService) UserNumber() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userNumber
}

// ClientID returns the per-run client id, or "" before Ready.
func (a *AuthService) ClientID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.clientID
}

func (a *AuthService) setSession(ctx context.Context, s models.Session) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()

	if a.Cache == nil {
		return
	}
	if err := persist.SetJSON(ctx, a.Cache, constants.CacheKeySession, s); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to persist session")
	}
}

// Ready brings the client to a usable state: gateway resolved, a valid
// access token, the user number and the client id.
func (a *AuthService) Ready(ctx context.Context) error {
	if _, err := a.Gateways.Resolve(ctx); err != nil {
		return fmt.Errorf("failed to resolve gateway: %w", err)
	}

	a.restoreSession(ctx)

	session := a.Session()
	if !session.HasToken() && session.RefreshToken == "" {
		if err := a.login(ctx); err != nil {
			return err
		}
	}

	if !a.Session().HasValidToken() && a.Session().RefreshToken != "" {
		if err := a.RefreshSession(ctx); err != nil {
			if !errors.Is(err, models.ErrAuth) || a.credentials.Username == "" {
				return err
			}
			a.Logger.Warn().Err(err).Msg("Refresh token rejected, logging in again")
			if err := a.login(ctx); err != nil {
				return err
			}
		}
	}

	session = a.Session()
	if !session.HasToken() {
		return fmt.Errorf("%w: no usable credentials", models.ErrAuth)
	}

	userNumber, err := a.ResolveUserNumber(ctx, session.AccessToken)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.clientID == "" {
		sum := sha256.Sum256([]byte(userNumber + strconv.FormatInt(a.now().UnixMilli(), 10)))
		a.clientID = hex.EncodeToString(sum[:])
	}
	a.mu.Unlock()

	a.Logger.Info().Str("user_no", userNumber).Msg("Cloud session ready")
	return nil
}

func (a *AuthService) login(ctx context.Context) error {
	if a.credentials.Username == "" || a.credentials.Password == "" {
		return fmt.Errorf("%w: no refresh token or username/password configured", models.ErrAuth)
	}
	session, err := a.Login(ctx, a.credentials.Username, a.credentials.Password)
	if err != nil {
		return err
	}
	a.setSession(ctx, session)
	return nil
}

// restoreSession loads a persisted refresh token when none is configured.
func (a *AuthService) restoreSession(ctx context.Context) {
	if a.Cache == nil || a.Session().RefreshToken != "" {
		return
	}
	cached, ok, err := persist.GetJSON[models.Session](ctx, a.Cache, constants.CacheKeySession)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Ignoring unreadable persisted session")
		return
	}
	if ok && cached.RefreshToken != "" {
		a.mu.Lock()
		a.session = cached
		a.mu.Unlock()
		a.Logger.Debug().Msg("Restored persisted session")
	}
}

// RefreshSession refreshes the current session. Concurrent callers share one
// refresh call, which outlives the cancellation of whoever started it.
func (a *AuthService) RefreshSession(ctx context.Context) error {
	_, err, shared := a.refreshGroup.Do("refresh", func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		session, err := a.Refresh(ctx, a.Session())
		if err != nil {
			return nil, err
		}
		a.setSession(ctx, session)
		return nil, nil
	})
	if shared {
		a.Logger.Debug().Msg("Joined in-flight token refresh")
	}
	return err
}

// Login exchanges credentials for a session.
func (a *AuthService) Login(ctx context.Context, username, password string) (models.Session, error) {
	gw, err := a.Gateways.Resolve(ctx)
	if err != nil {
		return models.Session{}, err
	}

	hash := sha512.Sum512([]byte(password))
	passwordHash := hex.EncodeToString(hash[:])

	form := url.Values{
		"user_auth2":                  {passwordHash},
		"password_hash_prameter_flag": {"Y"},
		"svc_list":                    {"SVC202,SVC710"},
	}
	sessionURL := joinURL(gw.EmpSpxURL, constants.AccountSessionPath+url.PathEscape(username))

	resp, err := a.HTTP.Do(ctx, http.MethodPost, sessionURL, []byte(form.Encode()), a.accountHeaders(gw))
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: login: %v", models.ErrNotConnected, err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Session{}, fmt.Errorf("%w: login rejected with status %d", models.ErrAuth, resp.StatusCode)
	}

	var account models.AccountSession
	if err := json.Unmarshal(resp.Body, &account); err != nil {
		return models.Session{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	if account.Account.LoginSessionID == "" {
		return models.Session{}, fmt.Errorf("%w: login returned no session", models.ErrAuth)
	}

	token, err := a.token(ctx, gw, url.Values{
		"grant_type":       {"password"},
		"username":         {account.Account.UserID},
		"password":         {passwordHash},
		"login_session_id": {account.Account.LoginSessionID},
	})
	if err != nil {
		return models.Session{}, err
	}

	a.Logger.Info().Str("user_id", account.Account.UserID).Msg("Logged in")
	return a.sessionFrom(token, ""), nil
}

// Refresh exchanges the refresh token of session for a new access token.
func (a *AuthService) Refresh(ctx context.Context, session models.Session) (models.Session, error) {
	if session.RefreshToken == "" {
		return models.Session{}, fmt.Errorf("%w: no refresh token", models.ErrAuth)
	}
	gw, err := a.Gateways.Resolve(ctx)
	if err != nil {
		return models.Session{}, err
	}

	token, err := a.token(ctx, gw, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {session.RefreshToken},
	})
	if err != nil {
		return models.Session{}, err
	}

	a.Logger.Debug().Msg("Access token refreshed")
	return a.sessionFrom(token, session.RefreshToken), nil
}

func (a *AuthService) token(ctx context.Context, gw *models.Gateway, form url.Values) (*models.TokenResponse, error) {
	body := form.Encode()
	headers := a.oauthHeaders(constants.OAuthTokenPath + "?" + body)
	headers["content-type"] = "application/x-www-form-urlencoded"

	resp, err := a.HTTP.Do(ctx, http.MethodPost, joinURL(gw.OAuthURL, constants.OAuthTokenPath), []byte(body), headers)
	if err != nil {
		return nil, fmt.Errorf("%w: token request: %v", models.ErrNotConnected, err)
	}
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: token request rejected with status %d", models.ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: token request returned status %d", models.ErrNotConnected, resp.StatusCode)
	}

	var token models.TokenResponse
	if err := json.Unmarshal(resp.Body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s", models.ErrAuth, strings.TrimSpace("no access token issued "+token.Message))
	}
	return &token, nil
}

// sessionFrom builds a session, keeping refreshToken when none was issued.
// Without expires_in the lifetime is read from the token itself.
func (a *AuthService) sessionFrom(token *models.TokenResponse, refreshToken string) models.Session {
	if token.RefreshToken != "" {
		refreshToken = token.RefreshToken
	}

	ttl := jwt.ExpiresIn(token.AccessToken, constants.DefaultTokenTTL)
	if seconds, err := strconv.Atoi(token.ExpiresIn); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}

	return models.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    a.now().Add(ttl),
	}
}

// ResolveUserNumber looks the user number up once; later calls return the
// cached value.
func (a *AuthService) ResolveUserNumber(ctx context.Context, accessToken string) (string, error) {
	if userNumber := a.UserNumber(); userNumber != "" {
		return userNumber, nil
	}

	gw, err := a.Gateways.Resolve(ctx)
	if err != nil {
		return "", err
	}

	headers := a.oauthHeaders(constants.UserProfilePath)
	headers["authorization"] = "Bearer " + accessToken

	resp, err := a.HTTP.Do(ctx, http.MethodGet, joinURL(gw.OAuthURL, constants.UserProfilePath), nil, headers)
	if err != nil {
		return "", fmt.Errorf("%w: user profile: %v", models.ErrNotConnected, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: user profile returned status %d", models.ErrAuth, resp.StatusCode)
	}

	var profile models.UserProfile
	if err := json.Unmarshal(resp.Body, &profile); err != nil {
		return "", fmt.Errorf("failed to decode user profile: %w", err)
	}
	if profile.Account.UserNo == "" {
		return "", fmt.Errorf("%w: user profile carries no user number", models.ErrAuth)
	}

	a.mu.Lock()
	if a.userNumber == "" {
		a.userNumber = profile.Account.UserNo
	}
	userNumber := a.userNumber
	a.mu.Unlock()

	return userNumber, nil
}

// AcknowledgeManualConsent accepts every pending terms agreement.
func (a *AuthService) AcknowledgeManualConsent(ctx context.Context, accessToken string) error {
	gw, err := a.Gateways.Resolve(ctx)
	if err != nil {
		return err
	}

	headers := a.accountHeaders(gw)
	headers["x-lge-access-token"] = accessToken

	termsURL := joinURL(gw.EmpURL, constants.TermsPath)
	resp, err := a.HTTP.Do(ctx, http.MethodGet, termsURL+"?opt_term_cond=001", nil, headers)
	if err != nil {
		return fmt.Errorf("%w: terms: %v", models.ErrNotConnected, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("terms lookup returned status %d", resp.StatusCode)
	}

	var pending models.TermsAgreement
	if err := json.Unmarshal(resp.Body, &pending); err != nil {
		return fmt.Errorf("failed to decode terms: %w", err)
	}
	if len(pending.Account.Terms) == 0 {
		a.Logger.Debug().Msg("No pending terms to accept")
		return nil
	}

	body, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode terms: %w", err)
	}
	headers["content-type"] = "application/json"

	resp, err = a.HTTP.Do(ctx, http.MethodPost, termsURL, body, headers)
	if err != nil {
		return fmt.Errorf("%w: accept terms: %v", models.ErrNotConnected, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("accepting terms returned status %d", resp.StatusCode)
	}

	a.Logger.Info().Int("terms", len(pending.Account.Terms)).Msg("Accepted pending terms")
	return nil
}

func (a *AuthService) accountHeaders(gw *models.Gateway) map[string]string {
	return map[string]string{
		"accept":                  "application/json",
		"content-type":            "application/x-www-form-urlencoded",
		"x-lge-svccode":           "SVC709",
		"x-application-key":       "6V1V8H2BN5P9ZQGOI5DAQ92YZBDO3EK9",
		"x-thinq-application-key": "wideq",
		"x-country-code":          gw.CountryCode,
		"x-language-code":         gw.LanguageCode,
		"user-agent":              constants.UserAgent,
	}
}

func (a *AuthService) oauthHeaders(signedPath string) map[string]string {
	date := a.now().UTC().Format(constants.OAuthDateFormat)
	return map[string]string{
		"accept":                "application/json",
		"x-lge-app-os":          constants.OAuthAppOS,
		"x-lge-appkey":          constants.OAuthClientKey,
		"x-lge-oauth-date":      date,
		"x-lge-oauth-signature": encryption.OAuthSignature(signedPath+"\n"+date, constants.OAuthSecretKey),
		"x-model-name":          "samsung/SM-G930L",
		"x-os-version":          "AOS/7.1.2",
		"user-agent":            constants.UserAgent,
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
