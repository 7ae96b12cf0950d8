package encryption

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
)

// OAuthSignature signs message with HMAC-SHA1 and returns it base64 encoded,
// as expected by the vendor OAuth endpoints.
func OAuthSignature(message, secret string) string {
	h := hmac.New(sha1.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyOAuthSignature checks signature against message in constant time.
func VerifyOAuthSignature(message, secret, signature string) bool {
	expected := OAuthSignature(message, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
