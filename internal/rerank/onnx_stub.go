//go:build !cgo
// +build !cgo

package rerank

import (
	"context"
	"errors"
)

var errONNXUnavailable = errors.New("ONNX scorer requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXScorer stub type when built without CGO (see onnx.go for real implementation).
type ONNXScorer struct{}

// NewONNXScorer returns an error when built without CGO.
func NewONNXScorer(_ string, _ int) (*ONNXScorer, error) {
	return nil, errONNXUnavailable
}

func (s *ONNXScorer) Score(context.Context, string, string) (float64, error) {
	return 0, errONNXUnavailable
}

func (s *ONNXScorer) Close() error { return nil }
