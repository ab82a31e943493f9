package embedding

import (
	"hash/fnv"

	"github.com/hyperjump/ragchain/pkg/utils"
)

// BERT-style special token ids and vocabulary size of the hashed tokenizer.
const (
	clsToken  = 101
	sepToken  = 102
	vocabSize = 30522
	// first id usable by hashed terms; ids below are reserved.
	firstTermID = 1000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
	TokenizePair(first, second string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps each term to a hashed vocabulary id. It needs no vocabulary
// file, so it only suits models exported with the same hashing scheme.
type HashTokenizer struct{}

// Tokenize encodes "[CLS] text [SEP]" padded to maxTokens.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs, attentionMask, tokenTypeIDs = newSequence(maxTokens)
	pos := 1
	pos = appendTerms(inputIDs, attentionMask, nil, pos, utils.Terms(text), maxTokens-1, 0)
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// TokenizePair encodes "[CLS] first [SEP] second [SEP]" for cross-encoders. The
// first segment gets at most half of the budget; token_type_ids mark the second.
func (t *HashTokenizer) TokenizePair(first, second string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 4 {
		maxTokens = 512
	}
	inputIDs, attentionMask, tokenTypeIDs = newSequence(maxTokens)
	pos := appendTerms(inputIDs, attentionMask, tokenTypeIDs, 1, utils.Terms(first), maxTokens/2, 0)
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	pos++
	pos = appendTerms(inputIDs, attentionMask, tokenTypeIDs, pos, utils.Terms(second), maxTokens-1, 1)
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	tokenTypeIDs[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

func newSequence(n int) (ids, mask, types []int64) {
	ids = make([]int64, n)
	mask = make([]int64, n)
	types = make([]int64, n)
	ids[0] = clsToken
	mask[0] = 1
	return ids, mask, types
}

// appendTerms writes term ids from pos up to (not including) limit and returns the next position.
func appendTerms(ids, mask, types []int64, pos int, terms []string, limit int, segment int64) int {
	for _, term := range terms {
		if pos >= limit {
			break
		}
		ids[pos] = TermID(term)
		mask[pos] = 1
		if types != nil {
			types[pos] = segment
		}
		pos++
	}
	return pos
}

// TermID returns the hashed vocabulary id of term.
func TermID(term string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return firstTermID + int64(h.Sum32()%(vocabSize-firstTermID))
}
