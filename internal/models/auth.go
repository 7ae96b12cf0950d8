package models

// TokenResponse is returned by the OAuth token endpoint for both login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	Status       int    `json:"status"`
	Message      string `json:"message"`
}

// AccountSession is the pre-login answer of the account service.
type AccountSession struct {
	Account struct {
		UserID         string `json:"userID"`
		UserIDType     string `json:"userIDType"`
		Country        string `json:"country"`
		LoginSessionID string `json:"loginSessionID"`
	} `json:"account"`
}

// UserProfile carries the account's user number.
type UserProfile struct {
	Status  int `json:"status"`
	Account struct {
		UserNo string `json:"userNo"`
	} `json:"account"`
}

// TermsAgreement lists the terms an account still has to accept.
type TermsAgreement struct {
	Account struct {
		Terms []Term `json:"terms"`
	} `json:"account"`
}

// Term is a single terms-of-service entry.
type Term struct {
	TermsID     string `json:"termsID"`
	TermsType   string `json:"termsType"`
	DefaultLang string `json:"defaultLang"`
}
