package qstash

import (
	"encoding/base64"
	"encoding/json"
)

// envelope is the queue service's own wrapper around a callback payload: the
// original response body arrives base64-encoded under "body" (older wrapper
// versions used "data").
type envelope struct {
	Body string `json:"body"`
	Data string `json:"data"`
}

// DecodeEnvelope normalizes a webhook body that may arrive either as direct
// JSON or wrapped in the queue's base64 envelope. The unwrap is deliberately
// isolated here: if the queue service changes its wrapper format this is the
// only place that needs to know.
func DecodeEnvelope(raw []byte) []byte {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return raw
	}
	encoded := env.Body
	if encoded == "" {
		encoded = env.Data
	}
	if encoded == "" {
		return raw
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Tolerate unpadded payloads as well.
		decoded, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return raw
		}
	}
	if !json.Valid(decoded) {
		return raw
	}
	return decoded
}
