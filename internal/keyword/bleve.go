package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/pkg/utils"
)

// bleveDoc is the indexed form of a passage.
type bleveDoc struct {
	Content  string `json:"content"`
	Filepath string `json:"filepath"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an
// in-memory index. If you change the index mapping in code, remove the index
// directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so terms match exactly.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("filepath", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("passage", docMapping)
	im.DefaultType = "passage"
	im.DefaultMapping = docMapping

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds or replaces passages in one batch.
func (b *BleveIndex) Index(ctx context.Context, passages []*models.Passage) error {
	batch := b.index.NewBatch()
	for _, p := range passages {
		if err := batch.Index(p.ID, bleveDoc{Content: p.Content, Filepath: p.Filepath}); err != nil {
			return fmt.Errorf("failed to index passage %s: %w", p.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to apply Bleve batch: %w", err)
	}
	return nil
}

// Search runs a content match query and returns up to limit results by
// descending BM25 score, ties broken by id. Multi-term queries penalize
// passages by the square of their term coverage, and phrase matches are
// multiplied by opts.PhraseBoost.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		return []*KeywordResult{}, nil
	}
	phraseBoost := 1.0
	fuzzy := false
	fuzziness := 2
	if opts != nil {
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	terms := utils.Terms(query)
	reqSize := max(limit*2, 50)

	hits, err := b.run(b.contentQuery(query, terms, fuzzy, fuzziness), reqSize)
	if err != nil {
		return nil, err
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		for _, term := range terms {
			matched, err := b.run(b.termQuery(term, fuzzy, fuzziness), reqSize)
			if err != nil {
				return nil, err
			}
			for id := range matched {
				coverage[id]++
			}
		}
	}

	phrase := map[string]float64{}
	if phraseBoost > 1 && len(terms) > 1 {
		pq := bleve.NewMatchPhraseQuery(query)
		pq.SetField("content")
		if phrase, err = b.run(pq, reqSize); err != nil {
			return nil, err
		}
	}

	out := make([]*KeywordResult, 0, len(hits))
	for id, score := range hits {
		if len(terms) > 1 {
			c := float64(max(coverage[id], 1)) / float64(len(terms))
			score *= c * c
		}
		if _, ok := phrase[id]; ok {
			score *= phraseBoost
		}
		out = append(out, &KeywordResult{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *BleveIndex) run(q blevequery.Query, size int) (map[string]float64, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		out[hit.ID] = hit.Score
	}
	return out, nil
}

func (b *BleveIndex) contentQuery(query string, terms []string, fuzzy bool, fuzziness int) blevequery.Query {
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("content")
		return mq
	}
	qs := make([]blevequery.Query, len(terms))
	for i, term := range terms {
		qs[i] = b.termQuery(term, true, fuzziness)
	}
	return bleve.NewDisjunctionQuery(qs...)
}

func (b *BleveIndex) termQuery(term string, fuzzy bool, fuzziness int) blevequery.Query {
	if fuzzy {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("content")
		return fq
	}
	tq := bleve.NewTermQuery(term)
	tq.SetField("content")
	return tq
}

// Delete removes passages from the index.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// DocCount returns the total number of passages in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
