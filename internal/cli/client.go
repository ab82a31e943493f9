package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/ragchain/internal/ingest"
	"github.com/hyperjump/ragchain/internal/models"
)

// DefaultServerURL is where the CLI looks for a running server.
const DefaultServerURL = "http://localhost:8080"

// Client calls a running ragchain server. Commands use it so that they do not
// open the store and indices the server already holds.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Retrieve calls POST /api/v1/retrieve.
func (c *Client) Retrieve(ctx context.Context, req *models.RetrieveRequest) (*models.RetrieveResponse, error) {
	var out models.RetrieveResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/retrieve", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Likelihood calls POST /api/v1/likelihood.
func (c *Client) Likelihood(ctx context.Context, req *models.LikelihoodRequest) (*models.LikelihoodResponse, error) {
	var out models.LikelihoodResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/likelihood", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestDocument calls POST /api/v1/documents.
func (c *Client) IngestDocument(ctx context.Context, doc *models.Document) (*ingest.FileResult, error) {
	var out ingest.FileResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents", doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePassage calls DELETE /api/v1/passages/{id}.
func (c *Client) DeletePassage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/passages/"+url.PathEscape(id), nil, nil)
}

// Status calls GET /api/v1/status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchList returns the watched directories.
func (c *Client) WatchList(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/watch/directories", nil, &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

// WatchAdd starts watching path on the server.
func (c *Client) WatchAdd(ctx context.Context, path string, sync bool) error {
	body := map[string]interface{}{"path": path, "sync": sync}
	return c.do(ctx, http.MethodPost, "/api/v1/watch/directories", body, nil)
}

// WatchRemove stops watching path on the server.
func (c *Client) WatchRemove(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
