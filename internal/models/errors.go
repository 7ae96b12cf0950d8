package models

import "errors"

// Error taxonomy shared by the cloud client.
var (
	// ErrNotConnected means the service could not be reached or reported the device offline.
	ErrNotConnected = errors.New("not connected to the cloud service")

	// ErrTokenExpired means the access token was rejected.
	ErrTokenExpired = errors.New("access token expired")

	// ErrManualProcessNeeded means the account must accept new terms before continuing.
	ErrManualProcessNeeded = errors.New("manual process needed: accept the new terms of service in the vendor app")

	// ErrDuplicateValue means the device already had the value that was sent.
	ErrDuplicateValue = errors.New("same value already set")

	// ErrAuth means the credentials or the refresh token were rejected.
	ErrAuth = errors.New("authentication failed")

	// ErrIdentityProvisioning means the broker client identity could not be obtained.
	ErrIdentityProvisioning = errors.New("identity provisioning failed")

	// ErrRealtimeUnavailable means the push channel could not be established at startup.
	ErrRealtimeUnavailable = errors.New("real-time channel unavailable")
)
