package constants

import "time"

// Fixed client identification sent with every request.
const (
	APIKey        = "VGhpblEyLjAgU0VSVklDRQ=="
	APIClientID   = "LGAO221A02"
	ServiceCode   = "SVC202"
	ClientAppType = "NUTS"
	ClientOS      = "ANDROID"
	UserAgent     = "okhttp/3.14.9"

	DefaultAppVersion = "3.6.1200"
	DefaultCountry    = "US"
	DefaultLanguage   = "en-US"

	OAuthSecretKey = "c053c2a6ddeb7ad97cb0eed0dcb31cf8"
	OAuthClientKey = "LGAO722A02"
)

// Well-known endpoints that are not derived from the gateway.
const (
	GatewayURL = "https://route.lgthinq.com:46030/v1/service/application/gateway-uri"
	RouteURL   = "https://common.lgthinq.com/route"
)

// Account and OAuth paths, relative to the gateway endpoints.
const (
	AccountSessionPath = "emp/v2.0/account/session/"
	TermsPath          = "emp/v2.0/account/user/terms"
	OAuthTokenPath     = "/oauth/1.0/oauth2/token"
	UserProfilePath    = "/users/profile"

	OAuthDateFormat = "Mon, 02 Jan 2006 15:04:05 +0000"
	OAuthAppOS      = "ADR"
)

// Result codes returned inside the API envelope.
const (
	ResultCodeSuccess             = "0000"
	ResultCodeTokenExpired        = "0102"
	ResultCodeDuplicateValue      = "0103"
	ResultCodeManualProcessNeeded = "0110"
	ResultCodeNotConnected        = "9999"
)

// Transport settings for HTTP calls.
const (
	RequestTimeout      = 60 * time.Second
	TransportRetries    = 2
	TransportRetryDelay = 2 * time.Second
	DefaultTokenTTL     = time.Hour
)

// RetryableStatusCodes are HTTP statuses retried by the transport.
var RetryableStatusCodes = []int{500, 501, 502, 503, 504}

// Cache keys used by the agent.
const (
	CacheKeyKeyPair = "keys"
	CacheKeyCSR     = "csr"
	CacheKeySession = "session"
	CacheKeyModel   = "model/"
)
