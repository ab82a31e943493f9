// Package loader reads source files into plain-text documents.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/ragchain/internal/models"
)

// DefaultExtensions are the formats the loader understands.
var DefaultExtensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odt", ".odp", ".ods", ".rtf"}

// Loader turns files into documents.
type Loader struct {
	extensions map[string]struct{}
}

// New returns a loader accepting extensions, or DefaultExtensions when none are given.
func New(extensions ...string) *Loader {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	l := &Loader{extensions: make(map[string]struct{}, len(extensions))}
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		l.extensions[ext] = struct{}{}
	}
	return l
}

// Supports reports whether path has an accepted extension.
func (l *Loader) Supports(path string) bool {
	_, ok := l.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads path and returns its text with file metadata.
func (l *Loader) Load(path string) (*models.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	text, err := Text(content, ext)
	if err != nil {
		return nil, err
	}
	return &models.Document{
		Filepath: path,
		Content:  text,
		Metadata: FileMetadata(path, info),
	}, nil
}

// FileMetadata describes the file at path. Size and modification time identify
// a version of the file.
func FileMetadata(path string, info os.FileInfo) map[string]string {
	return map[string]string{
		"filename":    filepath.Base(path),
		"extension":   strings.ToLower(filepath.Ext(path)),
		"size":        strconv.FormatInt(info.Size(), 10),
		"modified_at": info.ModTime().UTC().Format(time.RFC3339Nano),
	}
}

// Text extracts plain text from content by extension. ext includes the leading
// dot; unknown extensions are read as plain text.
func Text(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return pdfText(content)
	case ".docx":
		return docxText(content)
	case ".pptx":
		return pptxText(content)
	case ".xlsx":
		return xlsxText(content)
	case ".odt", ".odp", ".ods":
		return openDocumentText(content)
	case ".rtf":
		return rtfText(content)
	default:
		return plainText(content), nil
	}
}
