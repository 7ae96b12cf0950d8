package constants

import "time"

const (
	// ReconnectDelay is the fixed wait between steady-state reconnect attempts.
	ReconnectDelay = 60 * time.Second

	// InitialConnectAttempts bounds the first connection attempt of the push channel.
	InitialConnectAttempts = 5

	// InitialConnectDelay is the wait between initial connection attempts.
	InitialConnectDelay = 5 * time.Second

	// ConnectTimeout caps a single broker CONNECT handshake.
	ConnectTimeout = 30 * time.Second

	// DisconnectQuiesce is how long paho may flush before disconnecting (ms).
	DisconnectQuiesce = 250

	// BrokerPort is used when the routed broker URL carries no port.
	BrokerPort = "8883"

	// PushWorkers is the number of goroutines delivering push messages; one keeps
	// per-device ordering.
	PushWorkers = 1
)

// Root certificate URLs selected by broker hostname.
const (
	AmazonRootCAURL   = "https://www.amazontrust.com/repository/AmazonRootCA1.pem"
	ComodoRootCAURL   = "http://www.tbs-x509.com/Comodo_AAA_Certificate_Services.crt"
	VeriSignRootCAURL = "https://www.websecurity.digicert.com/content/dam/websitesecurity/digitalassets/desktop/pdfs/roots/VeriSign-Class%203-Public-Primary-Certification-Authority-G5.pem"
)

// CSR subject for the broker client certificate.
const (
	CSRCommonName   = "AWS IoT Certificate"
	CSROrganization = "Amazon"
	RSAKeyBits      = 2048
)
