// Package ingest turns source documents into linked passages and feeds them to a retrieval.
package ingest

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/pkg/utils"
)

// Metadata keys set on every passage produced by a Splitter.
const (
	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
)

// Splitter cuts documents into overlapping word windows.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter creates a splitter with window size and overlap in words.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Splitter{size: size, overlap: overlap}
}

// Split returns the passages of doc in document order, linked through their
// previous and next ids. Passage ids derive from the filepath and position, so
// splitting the same document again yields the same ids. Windows without any
// letter or digit are dropped before linking.
func (s *Splitter) Split(doc *models.Document) []*models.Passage {
	words := strings.Fields(Normalize(doc.Content))
	if len(words) == 0 {
		return nil
	}
	docID := DocumentID(doc.Filepath)
	step := s.size - s.overlap

	var passages []*models.Passage
	for start := 0; ; start += step {
		end := min(start+s.size, len(words))
		content := strings.Join(words[start:end], " ")
		if len(utils.Terms(content)) == 0 {
			if end >= len(words) {
				break
			}
			continue
		}
		i := len(passages)
		meta := make(map[string]string, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta[MetaDocumentID] = docID
		meta[MetaChunkIndex] = strconv.Itoa(i)
		p := &models.Passage{
			ID:       PassageID(doc.Filepath, i),
			Content:  content,
			Filepath: doc.Filepath,
			Metadata: meta,
		}
		if i > 0 {
			prev := passages[i-1]
			p.PreviousPassageID = prev.ID
			prev.NextPassageID = p.ID
		}
		passages = append(passages, p)
		if end >= len(words) {
			break
		}
	}
	return passages
}

// Normalize trims text and collapses whitespace runs into single spaces.
func Normalize(text string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		b.WriteRune(r)
		space = false
	}
	return b.String()
}
