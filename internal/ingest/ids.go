package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

const documentIDPrefix = "file:"

// passageNamespace scopes passage UUIDs derived from file positions.
var passageNamespace = uuid.MustParse("6f1c2a9e-4b7d-5e3f-9a21-0c8d7e6b5a43")

// DocumentID returns a stable id for the source at path.
func DocumentID(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return documentIDPrefix + hex.EncodeToString(sum[:])
}

// PassageID returns the stable id of the index-th passage of the source at path.
func PassageID(path string, index int) string {
	return uuid.NewSHA1(passageNamespace, []byte(filepath.Clean(path)+"#"+strconv.Itoa(index))).String()
}
