package models

// KeyPair is the persisted broker client key pair, PEM encoded.
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// IssuedCertificate is returned by certificate issuance.
// It is never cached: the certificate may be short-lived or single-use.
type IssuedCertificate struct {
	CertificatePEM string   `json:"certificatePem"`
	Subscriptions  []string `json:"subscriptions"`
}

// IdentityBundle is everything needed to open an authenticated broker connection.
type IdentityBundle struct {
	KeyPair     KeyPair
	CSR         string
	Certificate IssuedCertificate
	RootCA      string
}

// Route is the routing answer that names the broker for this account.
type Route struct {
	APIServer  string `json:"apiServer"`
	MQTTServer string `json:"mqttServer"`
}

// CertificateRequest is the body sent to exchange a CSR for a certificate.
type CertificateRequest struct {
	CSR string `json:"csr"`
}
