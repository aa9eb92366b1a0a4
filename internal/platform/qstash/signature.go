package qstash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader carries the webhook HMAC: base64url(HMAC-SHA256(key,
// url + "." + body)).
const SignatureHeader = "upstash-signature"

func computeSignature(key string, rawURL string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(rawURL))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (g *gateway) VerifySignature(signature string, rawURL string, rawBody []byte) bool {
	if g.cfg.DevBypass {
		return true
	}
	if signature == "" {
		return false
	}
	// Current key first, then next key, so key rotation never drops webhooks
	// in flight.
	for _, key := range []string{g.cfg.CurrentSigningKey, g.cfg.NextSigningKey} {
		if key == "" {
			continue
		}
		expected := computeSignature(key, rawURL, rawBody)
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return true
		}
	}
	return false
}
