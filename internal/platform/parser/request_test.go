package parser

import (
	"testing"

	"github.com/google/uuid"
)

func TestBuildRequestPublicResolver(t *testing.T) {
	resolver := PublicBucketResolver{
		PublicURL: func(key string) string { return "https://storage.googleapis.com/bucket/" + key },
	}
	id := uuid.New()
	req := BuildRequest(resolver, FileRef{
		FileID:     id,
		StorageKey: "uploads/" + id.String() + "-notes.pdf",
		MimeType:   "application/pdf",
	}, Classification{Language: "en", Subject: "math", DocumentType: "exercises"})

	want := "https://storage.googleapis.com/bucket/uploads/" + id.String() + "-notes.pdf"
	if req.FileURL != want {
		t.Fatalf("file_url = %q, want %q", req.FileURL, want)
	}
	if req.MimeType != "application/pdf" || req.Language != "en" || req.Subject != "math" || req.DocumentType != "exercises" {
		t.Fatalf("classification fields not carried over: %+v", req)
	}
	// The request builder never leaks internal ids on the direct path.
	if req.JobID != "" || req.FileID != "" {
		t.Fatalf("direct request must not carry internal ids: %+v", req)
	}
}

func TestBuildRequestLocalResolver(t *testing.T) {
	resolver := LocalDownloadResolver{BaseURL: "http://localhost:8080/"}
	id := uuid.New()
	req := BuildRequest(resolver, FileRef{FileID: id, StorageKey: "uploads/x", MimeType: "text/plain"},
		Classification{Language: "de", Subject: "history", DocumentType: "summary"})

	want := "http://localhost:8080/api/files/" + id.String() + "/download"
	if req.FileURL != want {
		t.Fatalf("file_url = %q, want %q", req.FileURL, want)
	}
}

func TestClassificationEnums(t *testing.T) {
	if !IsValidLanguage("en") || IsValidLanguage("klingon") {
		t.Fatal("language enum broken")
	}
	if !IsValidSubject("math") || IsValidSubject("astrology") {
		t.Fatal("subject enum broken")
	}
	if !IsValidDocumentType("exercises") || IsValidDocumentType("napkin") {
		t.Fatal("document type enum broken")
	}
}
