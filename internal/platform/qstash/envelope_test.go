package qstash

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDecodeEnvelopeDirectJSON(t *testing.T) {
	raw := []byte(`{"job_id":"j1","file_id":"f1","text":"hello"}`)
	got := DecodeEnvelope(raw)
	if string(got) != string(raw) {
		t.Fatalf("direct JSON should pass through unchanged, got %s", got)
	}
}

func TestDecodeEnvelopeBase64Wrapped(t *testing.T) {
	inner := []byte(`{"job_id":"j1","file_id":"f1"}`)
	wrapped, _ := json.Marshal(map[string]string{
		"body": base64.StdEncoding.EncodeToString(inner),
	})

	got := DecodeEnvelope(wrapped)
	if string(got) != string(inner) {
		t.Fatalf("expected unwrapped payload %s, got %s", inner, got)
	}
}

func TestDecodeEnvelopeLegacyDataField(t *testing.T) {
	inner := []byte(`{"job_id":"j2"}`)
	wrapped, _ := json.Marshal(map[string]string{
		"data": base64.StdEncoding.EncodeToString(inner),
	})

	got := DecodeEnvelope(wrapped)
	if string(got) != string(inner) {
		t.Fatalf("expected unwrapped payload %s, got %s", inner, got)
	}
}

func TestDecodeEnvelopeNonBase64BodyFallsThrough(t *testing.T) {
	// A payload that happens to have a "body" field holding plain text must
	// not be destroyed by a failed unwrap.
	raw := []byte(`{"body":"not base64 at all!","job_id":"j3"}`)
	got := DecodeEnvelope(raw)
	if string(got) != string(raw) {
		t.Fatalf("unwrappable body should fall back to the raw payload, got %s", got)
	}
}

func TestDecodeEnvelopeBase64NonJSONFallsThrough(t *testing.T) {
	wrapped, _ := json.Marshal(map[string]string{
		"body": base64.StdEncoding.EncodeToString([]byte("plain text, not json")),
	})
	got := DecodeEnvelope(wrapped)
	if string(got) != string(wrapped) {
		t.Fatalf("base64 of non-JSON should fall back to the raw payload, got %s", got)
	}
}
