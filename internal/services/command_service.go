package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benmeehan/thinq-agent/internal/constants"
	"github.com/benmeehan/thinq-agent/internal/models"
	httputils "github.com/benmeehan/thinq-agent/pkg/httpUtils"
)

// ClientInfo identifies this client to the cloud service.
type ClientInfo struct {
	Country    string
	Language   string
	AppVersion string
}

// Headers returns the default request headers. Empty credentials are omitted;
// an empty client id falls back to the fixed application id.
func (c ClientInfo) Headers(accessToken, userNumber, clientID string) map[string]string {
	if clientID == "" {
		clientID = constants.APIClientID
	}

	headers := map[string]string{
		"x-api-key":             constants.APIKey,
		"x-thinq-app-ver":       c.AppVersion,
		"x-thinq-app-type":      constants.ClientAppType,
		"x-thinq-app-level":     "PRD",
		"x-thinq-app-os":        constants.ClientOS,
		"x-thinq-app-logintype": "LGE",
		"x-service-code":        constants.ServiceCode,
		"x-country-code":        c.Country,
		"x-language-code":       c.Language,
		"x-service-phase":       "OP",
		"x-origin":              "app-native",
		"x-model-name":          "samsung/SM-G930L",
		"x-os-version":          "AOS/7.1.2",
		"x-app-version":         "LG ThinQ/" + c.AppVersion,
		"x-message-id":          newMessageID(),
		"x-client-id":           clientID,
		"user-agent":            constants.UserAgent,
	}
	if accessToken != "" {
		headers["x-emp-token"] = accessToken
	}
	if userNumber != "" {
		headers["x-user-no"] = userNumber
	}
	return headers
}

// newMessageID returns a random 22 character request id.
func newMessageID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Response is the outcome of a dispatched request. Result is never nil:
// failed calls carry an empty object and the reason in Err.
type Response struct {
	Result     json.RawMessage
	ResultCode string
	Err        error
}

// OK reports whether the call succeeded.
func (r *Response) OK() bool {
	return r.Err == nil
}

// Duplicate reports whether the device already held the value sent.
func (r *Response) Duplicate() bool {
	return r.ResultCode == constants.ResultCodeDuplicateValue
}

// Decode unmarshals Result into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

var emptyResult = json.RawMessage(`{}`)

func failed(code string, err error) *Response {
	return &Response{Result: emptyResult, ResultCode: code, Err: err}
}

// SessionManager is the part of the auth manager the dispatcher relies on.
type SessionManager interface {
	Gateway() *models.Gateway
	Session() models.Session
	UserNumber() string
	ClientID() string
	RefreshSession(ctx context.Context) error
	AcknowledgeManualConsent(ctx context.Context, accessToken string) error
}

// Dispatcher executes authenticated requests against the control endpoint.
type Dispatcher interface {
	Execute(ctx context.Context, method, path string, body any, headers map[string]string) *Response
	FetchRaw(ctx context.Context, rawURL string) ([]byte, error)
}

// CommandService is the Dispatcher. It never returns errors to callers:
// failures degrade to an empty Result and are logged.
type CommandService struct {
	Client   ClientInfo
	HTTP     *httputils.Client
	Sessions SessionManager
	Logger   zerolog.Logger
}

// NewCommandService initializes a new CommandService.
func NewCommandService(client ClientInfo, httpClient *httputils.Client, sessions SessionManager, logger zerolog.Logger) *CommandService {
	return &CommandService{
		Client:   client,
		HTTP:     httpClient,
		Sessions: sessions,
		Logger:   logger,
	}
}

// Execute performs the request. A token-expired answer triggers one refresh
// and one retry; a manual-consent answer triggers the acknowledgment and one
// retry. Both share the same single retry.
func (s *CommandService) Execute(ctx context.Context, method, path string, body any, headers map[string]string) *Response {
	return s.execute(ctx, method, path, body, headers, false)
}

func (s *CommandService) execute(ctx context.Context, method, path string, body any, headers map[string]string, retried bool) *Response {
	resp := s.do(ctx, method, path, body, headers)

	switch {
	case resp.Err == nil:
		return resp

	case errors.Is(resp.Err, models.ErrTokenExpired) && !retried:
		s.Logger.Debug().Str("path", path).Msg("Access token expired, refreshing")
		if err := s.Sessions.RefreshSession(ctx); err != nil {
			s.Logger.Debug().Err(err).Msg("Refresh new token error")
			return failed(resp.ResultCode, fmt.Errorf("token refresh failed: %w", err))
		}
		return s.execute(ctx, method, path, body, headers, true)

	case errors.Is(resp.Err, models.ErrManualProcessNeeded):
		s.Logger.Warn().Msg("Handling new term agreement. If this message keeps appearing, " +
			"open the LG ThinQ app and accept the pending agreements")
		if err := s.Sessions.AcknowledgeManualConsent(ctx, s.Sessions.Session().AccessToken); err != nil {
			s.Logger.Debug().Err(err).Msg("Term agreement failed")
		} else {
			s.Logger.Warn().Msg("New term agreement accepted")
		}
		if !retried {
			return s.execute(ctx, method, path, body, headers, true)
		}
		return resp

	case errors.Is(resp.Err, models.ErrNotConnected):
		s.Logger.Debug().Err(resp.Err).Str("path", path).Msg("Service not connected")
		return resp

	case errors.Is(resp.Err, models.ErrDuplicateValue):
		s.Logger.Debug().Str("path", path).Msg("Value already set")
		return resp

	default:
		s.Logger.Error().Err(resp.Err).Str("method", method).Str("path", path).Msg("Request failed")
		return resp
	}
}

func (s *CommandService) do(ctx context.Context, method, path string, body any, extra map[string]string) *Response {
	target, err := s.resolve(path)
	if err != nil {
		return failed("", err)
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return failed("", fmt.Errorf("failed to encode request body: %w", err))
		}
	}

	session := s.Sessions.Session()
	headers := s.Client.Headers(session.AccessToken, s.Sessions.UserNumber(), s.Sessions.ClientID())
	if payload != nil {
		headers["content-type"] = "application/json"
	}
	for k, v := range extra {
		headers[k] = v
	}

	httpResp, err := s.HTTP.Do(ctx, method, target, payload, headers)
	if err != nil {
		return failed("", fmt.Errorf("%w: %v", models.ErrNotConnected, err))
	}

	s.Logger.Debug().Str("method", method).Str("url", target).Int("status", httpResp.StatusCode).Msg("[request]")
	return classify(httpResp)
}

func (s *CommandService) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	gw := s.Sessions.Gateway()
	if gw == nil {
		return "", fmt.Errorf("%w: gateway not resolved", models.ErrNotConnected)
	}
	base, err := url.Parse(gw.ControlURL())
	if err != nil {
		return "", fmt.Errorf("invalid control endpoint: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// classify maps an HTTP answer onto the error taxonomy.
func classify(resp *httputils.Response) *Response {
	var envelope struct {
		ResultCode string          `json:"resultCode"`
		Result     json.RawMessage `json:"result"`
	}
	decodeErr := json.Unmarshal(resp.Body, &envelope)

	switch envelope.ResultCode {
	case constants.ResultCodeNotConnected:
		return failed(envelope.ResultCode, models.ErrNotConnected)
	case constants.ResultCodeTokenExpired:
		return failed(envelope.ResultCode, models.ErrTokenExpired)
	case constants.ResultCodeManualProcessNeeded:
		return failed(envelope.ResultCode, models.ErrManualProcessNeeded)
	case constants.ResultCodeDuplicateValue:
		return failed(envelope.ResultCode, models.ErrDuplicateValue)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return failed(envelope.ResultCode, fmt.Errorf("request failed with status %d (result code %q)", resp.StatusCode, envelope.ResultCode))
	}
	if decodeErr != nil {
		return failed("", fmt.Errorf("failed to decode response: %w", decodeErr))
	}

	result := envelope.Result
	if len(result) == 0 || string(result) == "null" {
		result = emptyResult
	}
	return &Response{Result: result, ResultCode: envelope.ResultCode}
}

// FetchRaw downloads a document that is not wrapped in the API envelope,
// such as a root certificate or a device model.
func (s *CommandService) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := s.HTTP.Do(ctx, http.MethodGet, rawURL, nil, map[string]string{"user-agent": constants.UserAgent})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrNotConnected, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download of %s returned status %d", rawURL, resp.StatusCode)
	}
	return resp.Body, nil
}
