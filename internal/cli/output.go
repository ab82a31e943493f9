// Package cli provides output formatting and an HTTP client for the ragchain CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

const previewLen = 200

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieveResults writes a retrieval response to w in the given format.
func WriteRetrieveResults(w io.Writer, resp *models.RetrieveResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, resp)
	case OutputCompact:
		for i, h := range resp.Hits {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, h.Score, h.Passage.ID, oneLine(utils.Truncate(h.Passage.Content, 80)))
		}
		return nil
	default:
		writeRetrieveText(w, resp)
		return nil
	}
}

func writeRetrieveText(w io.Writer, resp *models.RetrieveResponse) {
	label := "retrieved"
	if resp.Reranked {
		label = "reranked"
	}
	fmt.Fprintf(w, "\nFound %d passages in %dms (%s)\n\n", len(resp.Hits), resp.QueryTime, label)
	for i, h := range resp.Hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, h.Score)
		fmt.Fprintf(w, "ID: %s\n", h.Passage.ID)
		if h.Passage.Filepath != "" {
			fmt.Fprintf(w, "File: %s\n", h.Passage.Filepath)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(h.Passage.Content, previewLen))
	}
	if len(resp.Stale) > 0 {
		fmt.Fprintf(w, "warning: %d stale index entries skipped: %s\n", len(resp.Stale), strings.Join(resp.Stale, ", "))
	}
	if resp.Truncated {
		fmt.Fprintf(w, "warning: candidate limit reached, fewer matches than requested\n")
	}
}

// WriteLikelihood writes likelihood scores with the contexts they belong to.
func WriteLikelihood(w io.Writer, resp *models.LikelihoodResponse, contexts []string, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	for n, i := range resp.Indexes {
		fmt.Fprintf(w, "%d\t%.4f\t[%d] %s\n", n+1, resp.Scores[n], i, oneLine(utils.Truncate(contexts[i], 80)))
	}
	for _, i := range resp.Excluded {
		fmt.Fprintf(w, "-\texcluded\t[%d] %s\n", i, oneLine(utils.Truncate(contexts[i], 80)))
	}
	return nil
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Passages        int64                  `json:"passages"`
	VectorIndexSize int                    `json:"vector_index_size"`
	DiskUsage       *models.DiskUsage      `json:"disk_usage,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
}

// WriteStatus writes index and storage status.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "passages:           %d   # count of stored passages\n", s.Passages)
	fmt.Fprintf(w, "vector_index_size:  %d   # count of vectors in the index\n", s.VectorIndexSize)
	if d := s.DiskUsage; d != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # storage + indices on disk\n", d.Total)
		fmt.Fprintf(w, "  database:         %d\n", d.Database)
		fmt.Fprintf(w, "  keyword_index:    %d\n", d.KeywordIndex)
		fmt.Fprintf(w, "  vector_index:     %d\n", d.VectorIndex)
	}
	if len(s.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		for _, k := range sortedKeys(s.Config) {
			fmt.Fprintf(w, "%-20s%v\n", k+":", s.Config[k])
		}
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
