package models

import "time"

// Session holds the OAuth tokens of a logged-in account.
// A Session is a value: login and refresh produce a new one.
type Session struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewSession builds a session expiring expiresIn from now.
func NewSession(accessToken, refreshToken string, expiresIn time.Duration) Session {
	return Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(expiresIn),
	}
}

// HasToken reports whether an access token is present, expired or not.
func (s Session) HasToken() bool {
	return s.AccessToken != ""
}

// HasValidToken reports whether the access token is present and not yet expired.
func (s Session) HasValidToken() bool {
	return s.AccessToken != "" && time.Now().Before(s.ExpiresAt)
}
