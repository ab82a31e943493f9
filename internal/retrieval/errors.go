package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/ragchain/internal/embedding"
	"github.com/hyperjump/ragchain/internal/vector"
)

// ErrEmptyIndex is returned when a retrieval runs before anything was ingested.
var ErrEmptyIndex = vector.ErrEmptyIndex

// ErrInvalidTopK is returned for a non-positive topK.
var ErrInvalidTopK = errors.New("top_k must be positive")

// IndexConsistencyError names ids held by the index but missing from the store.
// Retrievals skip such ids and report them instead of failing.
type IndexConsistencyError struct {
	IDs []string
}

func (e *IndexConsistencyError) Error() string {
	return fmt.Sprintf("stale index entries: %s", strings.Join(e.IDs, ", "))
}

// IsRetryable reports whether err is transient: an embedding timeout or
// transport failure, or an expired deadline.
func IsRetryable(err error) bool {
	var ee *embedding.EmbeddingError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
