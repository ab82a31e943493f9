package models

import "fmt"

// RetrieveRequest is the body of a retrieval call.
type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	// Contains keeps only passages whose content contains at least one of the strings.
	Contains []string `json:"contains,omitempty"`
	// Filepaths keeps only passages from the given source files.
	Filepaths []string `json:"filepaths,omitempty"`
	Rerank    bool     `json:"rerank,omitempty"`
}

// Validate ensures the request has a query and normalizes top_k into [1, maxTopK].
func (r *RetrieveRequest) Validate(defaultTopK, maxTopK int) error {
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.TopK <= 0 {
		r.TopK = defaultTopK
	}
	if maxTopK > 0 && r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	return nil
}

// HasFilter reports whether the request restricts results by content or filepath.
func (r *RetrieveRequest) HasFilter() bool {
	return len(r.Contains) > 0 || len(r.Filepaths) > 0
}

// RerankRequest reorders the given passages by likelihood of the query.
type RerankRequest struct {
	Query    string     `json:"query"`
	Passages []*Passage `json:"passages"`
}

// LikelihoodRequest scores raw contexts against a question.
type LikelihoodRequest struct {
	Question string   `json:"question"`
	Contexts []string `json:"contexts"`
}

// LikelihoodResponse holds context positions and scores sorted by descending score.
type LikelihoodResponse struct {
	Indexes  []int     `json:"indexes"`
	Scores   []float64 `json:"scores"`
	Excluded []int     `json:"excluded,omitempty"`
}

// RetrieveResponse is the response for a retrieval call.
type RetrieveResponse struct {
	Query     string           `json:"query"`
	Hits      []*ScoredPassage `json:"hits"`
	Stale     []string         `json:"stale,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
	Reranked  bool             `json:"reranked"`
	QueryTime int64            `json:"query_time_ms"`
}
