package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/internal/storage"
)

// Candidate is an index hit before it is resolved against the store.
type Candidate struct {
	ID    string
	Score float64
}

// searchFunc returns the best n candidates for the query, best first. It
// returns fewer than n only when the index holds fewer.
type searchFunc func(ctx context.Context, n int) ([]Candidate, error)

// collector resolves index candidates against the passage store. It widens the
// candidate window until topK passages are collected, the index is exhausted or
// the window reaches the candidate cap.
type collector struct {
	mode              Mode
	store             storage.PassageStore
	logger            *zap.Logger
	initialMultiplier int
	maxCandidates     int
}

func newCollector(mode Mode, store storage.PassageStore, o Options) *collector {
	return &collector{
		mode:              mode,
		store:             store,
		logger:            o.Logger,
		initialMultiplier: o.FilterInitialMultiplier,
		maxCandidates:     o.FilterMaxCandidates,
	}
}

func (c *collector) collect(ctx context.Context, search searchFunc, topK int, pred Predicate) (*models.RetrievalResult, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}
	start := time.Now()
	filtered := pred != nil
	res, rounds, err := c.run(ctx, search, topK, pred)

	retrievalDuration.WithLabelValues(string(c.mode)).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	retrievalsTotal.WithLabelValues(string(c.mode), strconv.FormatBool(filtered), outcome).Inc()
	if filtered && err == nil {
		filterRounds.WithLabelValues(string(c.mode)).Observe(float64(rounds))
	}
	return res, err
}

func (c *collector) run(ctx context.Context, search searchFunc, topK int, pred Predicate) (*models.RetrievalResult, int, error) {
	window := topK
	if pred != nil {
		window = topK * c.initialMultiplier
	}
	limit := max(c.maxCandidates, topK)
	window = min(window, limit)

	res := &models.RetrievalResult{Hits: make([]*models.ScoredPassage, 0, topK)}
	seen := make(map[string]struct{})
	rounds := 0

	for {
		rounds++
		cands, err := search(ctx, window)
		if err != nil {
			return nil, rounds, err
		}
		res.Examined = len(cands)

		fresh := make([]Candidate, 0, len(cands))
		for _, cand := range cands {
			if _, ok := seen[cand.ID]; ok {
				continue
			}
			seen[cand.ID] = struct{}{}
			fresh = append(fresh, cand)
		}

		if err := c.resolve(ctx, fresh, topK, pred, res); err != nil {
			return nil, rounds, err
		}

		exhausted := len(cands) < window
		if len(res.Hits) >= topK || exhausted {
			break
		}
		if window >= limit {
			res.Truncated = true
			break
		}
		window = min(window*2, limit)
	}

	// Candidates of later rounds may outscore earlier hits under approximate indexes.
	sort.SliceStable(res.Hits, func(i, j int) bool { return res.Hits[i].Score > res.Hits[j].Score })
	if len(res.Stale) > 0 {
		staleIDsTotal.WithLabelValues(string(c.mode)).Add(float64(len(res.Stale)))
		c.logger.Warn("Skipped stale index entries",
			zap.String("mode", string(c.mode)),
			zap.Error(&IndexConsistencyError{IDs: res.Stale}))
	}
	if res.Truncated {
		c.logger.Warn("Candidate cap reached before topK matches",
			zap.String("mode", string(c.mode)),
			zap.Int("top_k", topK),
			zap.Int("hits", len(res.Hits)),
			zap.Int("examined", res.Examined))
	}
	return res, rounds, nil
}

// resolve fetches fresh candidates in score order and appends those that exist
// and satisfy pred until res holds topK hits.
func (c *collector) resolve(ctx context.Context, fresh []Candidate, topK int, pred Predicate, res *models.RetrievalResult) error {
	if len(fresh) == 0 {
		return nil
	}
	ids := make([]string, len(fresh))
	for i, cand := range fresh {
		ids[i] = cand.ID
	}
	passages, err := c.store.Get(ctx, ids)
	var nf *storage.NotFoundError
	if err != nil && !errors.As(err, &nf) {
		return fmt.Errorf("failed to fetch passages: %w", err)
	}
	byID := make(map[string]*models.Passage, len(passages))
	for _, p := range passages {
		byID[p.ID] = p
	}

	for _, cand := range fresh {
		p, ok := byID[cand.ID]
		if !ok {
			res.Stale = append(res.Stale, cand.ID)
			continue
		}
		if len(res.Hits) >= topK {
			continue
		}
		if pred != nil && !pred(p) {
			continue
		}
		res.Hits = append(res.Hits, &models.ScoredPassage{Passage: p, Score: cand.Score})
	}
	return nil
}

// ConsistencyError returns the stale ids of res as an *IndexConsistencyError, or nil.
func ConsistencyError(res *models.RetrievalResult) error {
	if res == nil || len(res.Stale) == 0 {
		return nil
	}
	return &IndexConsistencyError{IDs: res.Stale}
}
