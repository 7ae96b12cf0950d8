package models

// Gateway lists the regional endpoints returned by gateway discovery.
type Gateway struct {
	CountryCode  string `json:"countryCode"`
	LanguageCode string `json:"languageCode"`
	Thinq1URL    string `json:"thinq1Uri"`
	Thinq2URL    string `json:"thinq2Uri"`
	EmpURL       string `json:"empTermsUri"`
	EmpSpxURL    string `json:"empSpxUri"`
	OAuthURL     string `json:"oauthUri"`
	RTIURL       string `json:"rtiUri"`
}

// ControlURL returns the base URL for authenticated device commands.
func (g *Gateway) ControlURL() string {
	return ensureTrailingSlash(g.Thinq2URL)
}

// LegacyControlURL returns the base URL used by legacy platform devices.
func (g *Gateway) LegacyControlURL() string {
	return ensureTrailingSlash(g.Thinq1URL)
}

func ensureTrailingSlash(u string) string {
	if u == "" || u[len(u)-1] == '/' {
		return u
	}
	return u + "/"
}
