//go:build cgo
// +build cgo

package rerank

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/ragchain/internal/embedding"
)

// ONNXScorer runs a cross-encoder relevance model. The model takes input_ids,
// attention_mask and token_type_ids of shape [1, maxTokens] for the pair
// "[CLS] question [SEP] passage [SEP]" and emits one "logits" value; the score
// is its log-sigmoid.
type ONNXScorer struct {
	session   *ort.AdvancedSession
	maxTokens int
	tokenizer embedding.Tokenizer

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	logits        *ort.Tensor[float32]
	mu            sync.Mutex
}

// NewONNXScorer loads the cross-encoder at modelPath.
func NewONNXScorer(modelPath string, maxTokens int) (*ONNXScorer, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx scorer requires a model path")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	tokenizer := &embedding.HashTokenizer{}
	ids, mask, types := tokenizer.TokenizePair("", "", maxTokens)
	shape := ort.NewShape(1, int64(len(ids)))
	s := &ONNXScorer{maxTokens: len(ids), tokenizer: tokenizer}

	var err error
	if s.inputIDs, err = ort.NewTensor(shape, ids); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if s.attentionMask, err = ort.NewTensor(shape, mask); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if s.tokenTypeIDs, err = ort.NewTensor(shape, types); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if s.logits, err = ort.NewTensor(ort.NewShape(1, 1), make([]float32, 1)); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create logits tensor: %w", err)
	}

	s.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		[]ort.ArbitraryTensor{s.inputIDs, s.attentionMask, s.tokenTypeIDs},
		[]ort.ArbitraryTensor{s.logits},
		nil,
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return s, nil
}

// Score runs the model on the pair. Inference is serialized over the shared tensors.
func (s *ONNXScorer) Score(ctx context.Context, question, passage string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(passage) == "" {
		return 0, ErrEmptyContext
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, mask, types := s.tokenizer.TokenizePair(question, passage, s.maxTokens)
	copy(s.inputIDs.GetData(), ids)
	copy(s.attentionMask.GetData(), mask)
	copy(s.tokenTypeIDs.GetData(), types)
	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}
	logit := float64(s.logits.GetData()[0])
	return -math.Log1p(math.Exp(-logit)), nil
}

// Close destroys the session and tensors.
func (s *ONNXScorer) Close() error {
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{s.inputIDs, s.attentionMask, s.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	s.inputIDs, s.attentionMask, s.tokenTypeIDs = nil, nil, nil
	if s.logits != nil {
		_ = s.logits.Destroy()
		s.logits = nil
	}
	return err
}
