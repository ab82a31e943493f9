package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// uprPrompt asks the model to generate a question from the passage. The
// question is appended and only its tokens are scored.
const uprPrompt = "Passage: %s\nPlease write a question based on this passage.\nQuestion: "

// CompletionOptions configures a CompletionScorer. Zero fields take defaults.
type CompletionOptions struct {
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// CompletionScorer scores contexts with an OpenAI-compatible completions
// endpoint that echoes prompt token log-probabilities.
type CompletionScorer struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Echo        bool    `json:"echo"`
	Logprobs    int     `json:"logprobs"`
	Temperature float64 `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Logprobs struct {
			Tokens        []string   `json:"tokens"`
			TokenLogprobs []*float64 `json:"token_logprobs"`
			TextOffset    []int      `json:"text_offset"`
		} `json:"logprobs"`
	} `json:"choices"`
}

// NewCompletionScorer creates a completion scorer.
func NewCompletionScorer(opts CompletionOptions) *CompletionScorer {
	s := &CompletionScorer{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		model:   opts.Model,
		apiKey:  opts.APIKey,
		client:  opts.HTTPClient,
	}
	if s.baseURL == "" {
		s.baseURL = "http://localhost:8000/v1"
	}
	if s.client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		s.client = &http.Client{Timeout: timeout}
	}
	return s
}

// Score returns the mean log-probability of the question tokens following the
// passage prompt. Transport failures, 5xx and 429 responses are retryable.
func (s *CompletionScorer) Score(ctx context.Context, question, passage string) (float64, error) {
	if strings.TrimSpace(passage) == "" {
		return 0, ErrEmptyContext
	}
	prefix := fmt.Sprintf(uprPrompt, passage)
	body, err := json.Marshal(completionRequest{
		Model:     s.model,
		Prompt:    prefix + question,
		MaxTokens: 0,
		Echo:      true,
		Logprobs:  0,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, &ScoringError{Index: -1, Err: fmt.Errorf("failed to send request: %w", err), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return 0, &ScoringError{
			Index:     -1,
			Err:       fmt.Errorf("completions API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return 0, errors.New("completions API returned no choices")
	}
	lp := out.Choices[0].Logprobs
	if len(lp.TextOffset) != len(lp.TokenLogprobs) {
		return 0, errors.New("completions API returned misaligned logprobs")
	}
	sum, n := 0.0, 0
	for i, off := range lp.TextOffset {
		if off < len(prefix) || lp.TokenLogprobs[i] == nil {
			continue
		}
		sum += *lp.TokenLogprobs[i]
		n++
	}
	if n == 0 {
		return 0, errors.New("no question tokens were scored")
	}
	return sum / float64(n), nil
}
