package parser

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Request is the parse request shape shared by the direct and queued paths.
// Both modes go through BuildRequest so the two can never drift apart.
type Request struct {
	FileURL      string `json:"file_url"`
	MimeType     string `json:"mime_type"`
	Language     string `json:"language"`
	Subject      string `json:"subject"`
	DocumentType string `json:"document_type"`

	// JobID/FileID are only set on queued requests: the parser echoes them in
	// its async response so the webhook callback can correlate. Direct calls
	// leave them empty; the parser has no use for them.
	JobID  string `json:"job_id,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

// Classification carries the three required upload fields.
type Classification struct {
	Language     string
	Subject      string
	DocumentType string
}

// FileRef locates the uploaded bytes for the parser.
type FileRef struct {
	FileID      uuid.UUID
	StorageKey  string
	DisplayName string
	MimeType    string
}

// URLResolver turns a file reference into a URL the external parser can
// fetch: the public blob URL in production, the local download endpoint in
// development (where the bucket is an emulator the parser cannot reach).
type URLResolver interface {
	ResolveFileURL(ref FileRef) string
}

// PublicBucketResolver resolves against the blob store's public URL.
type PublicBucketResolver struct {
	PublicURL func(key string) string
}

func (r PublicBucketResolver) ResolveFileURL(ref FileRef) string {
	return r.PublicURL(ref.StorageKey)
}

// LocalDownloadResolver points the parser at this service's own download
// endpoint. Development only.
type LocalDownloadResolver struct {
	BaseURL string
}

func (r LocalDownloadResolver) ResolveFileURL(ref FileRef) string {
	return fmt.Sprintf("%s/api/files/%s/download", strings.TrimRight(r.BaseURL, "/"), ref.FileID)
}

// BuildRequest assembles the parse request from a file reference and its
// classification.
func BuildRequest(resolver URLResolver, ref FileRef, cls Classification) Request {
	return Request{
		FileURL:      resolver.ResolveFileURL(ref),
		MimeType:     ref.MimeType,
		Language:     cls.Language,
		Subject:      cls.Subject,
		DocumentType: cls.DocumentType,
	}
}
