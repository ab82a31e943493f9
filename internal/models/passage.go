// Package models defines core data structures for passages, retrieval results, and API requests.
package models

import (
	"fmt"
	"time"
)

// Passage is a unit of ingested text. Passages of the same source file form a
// doubly-linked chain through PreviousPassageID and NextPassageID.
type Passage struct {
	ID                string            `json:"id" db:"id"`
	Content           string            `json:"content" db:"content"`
	Filepath          string            `json:"filepath" db:"filepath"`
	PreviousPassageID string            `json:"previous_passage_id,omitempty" db:"previous_passage_id"`
	NextPassageID     string            `json:"next_passage_id,omitempty" db:"next_passage_id"`
	Metadata          map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
}

// Document is a loaded source file before it is split into passages.
type Document struct {
	Filepath string            `json:"filepath"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PassageIDs returns the ids of passages in order.
func PassageIDs(passages []*Passage) []string {
	ids := make([]string, len(passages))
	for i, p := range passages {
		ids[i] = p.ID
	}
	return ids
}

// ValidateChain checks the document-order links of passages: every link must be
// symmetric (P.prev = Q implies Q.next = P), links must stay within one filepath,
// and each filepath chain must be acyclic with a single head covering every passage.
// Links to passages outside the given set are reported as dangling.
func ValidateChain(passages []*Passage) error {
	byID := make(map[string]*Passage, len(passages))
	for _, p := range passages {
		if p.ID == "" {
			return fmt.Errorf("passage with empty id")
		}
		if _, dup := byID[p.ID]; dup {
			return fmt.Errorf("duplicate passage id: %s", p.ID)
		}
		byID[p.ID] = p
	}

	heads := make(map[string][]*Passage)
	counts := make(map[string]int)
	for _, p := range passages {
		counts[p.Filepath]++
		if p.PreviousPassageID == "" {
			heads[p.Filepath] = append(heads[p.Filepath], p)
		} else {
			prev, ok := byID[p.PreviousPassageID]
			if !ok {
				return fmt.Errorf("passage %s: dangling previous link %s", p.ID, p.PreviousPassageID)
			}
			if prev.NextPassageID != p.ID {
				return fmt.Errorf("passage %s: previous %s links forward to %q", p.ID, prev.ID, prev.NextPassageID)
			}
			if prev.Filepath != p.Filepath {
				return fmt.Errorf("passage %s: previous %s belongs to %s", p.ID, prev.ID, prev.Filepath)
			}
		}
		if p.NextPassageID != "" {
			next, ok := byID[p.NextPassageID]
			if !ok {
				return fmt.Errorf("passage %s: dangling next link %s", p.ID, p.NextPassageID)
			}
			if next.PreviousPassageID != p.ID {
				return fmt.Errorf("passage %s: next %s links back to %q", p.ID, next.ID, next.PreviousPassageID)
			}
		}
	}

	for path, n := range counts {
		hs := heads[path]
		if len(hs) != 1 {
			return fmt.Errorf("filepath %q: expected one chain head, found %d", path, len(hs))
		}
		seen := make(map[string]bool, n)
		for cur := hs[0]; cur != nil; {
			if seen[cur.ID] {
				return fmt.Errorf("filepath %q: cycle at passage %s", path, cur.ID)
			}
			seen[cur.ID] = true
			if cur.NextPassageID == "" {
				break
			}
			cur = byID[cur.NextPassageID]
		}
		if len(seen) != n {
			return fmt.Errorf("filepath %q: chain covers %d of %d passages", path, len(seen), n)
		}
	}
	return nil
}
