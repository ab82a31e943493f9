package models

// ScoredPassage pairs a passage with its similarity score (higher is more relevant).
type ScoredPassage struct {
	Passage *Passage `json:"passage"`
	Score   float64  `json:"score"`
}

// RetrievalResult is the ordered outcome of a retrieval. Hits have unique ids and
// non-increasing scores. Stale lists ids the index returned but the store no longer holds.
// Truncated is set when a filtered retrieval hit its candidate cap with fewer than topK hits.
type RetrievalResult struct {
	Hits      []*ScoredPassage `json:"hits"`
	Stale     []string         `json:"stale,omitempty"`
	Examined  int              `json:"examined"`
	Truncated bool             `json:"truncated,omitempty"`
}

// IDs returns the passage ids of the hits in score order.
func (r *RetrievalResult) IDs() []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.Passage.ID
	}
	return ids
}

// Scores returns the hit scores in order.
func (r *RetrievalResult) Scores() []float64 {
	scores := make([]float64, len(r.Hits))
	for i, h := range r.Hits {
		scores[i] = h.Score
	}
	return scores
}

// Passages returns the hit passages in order.
func (r *RetrievalResult) Passages() []*Passage {
	out := make([]*Passage, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.Passage
	}
	return out
}

// ItemFailure records why a single passage of a batch was skipped.
type ItemFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// IngestReport describes a best-effort batch ingest.
type IngestReport struct {
	Indexed []string      `json:"indexed"`
	Failed  []ItemFailure `json:"failed,omitempty"`
}

// DiskUsage is the on-disk footprint of the configured stores, in bytes.
type DiskUsage struct {
	Database     int64 `json:"database"`
	KeywordIndex int64 `json:"keyword_index"`
	VectorIndex  int64 `json:"vector_index"`
	Total        int64 `json:"total"`
}
