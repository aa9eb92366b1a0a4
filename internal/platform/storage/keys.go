package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Deterministic blob key scheme. Raw uploads and parsed content live under
// distinct prefixes so a delete can fan out over both.
const (
	uploadPrefix = "uploads"
	parsedPrefix = "parsed"
)

// UploadKey is "uploads/{fileID}-{originalName}". The original name is
// flattened to its base so a crafted filename cannot escape the prefix.
func UploadKey(fileID uuid.UUID, originalName string) string {
	name := path.Base(strings.TrimSpace(originalName))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return fmt.Sprintf("%s/%s-%s", uploadPrefix, fileID, name)
}

// ParsedKey is "parsed/{fileID}.json".
func ParsedKey(fileID uuid.UUID) string {
	return fmt.Sprintf("%s/%s.json", parsedPrefix, fileID)
}
