package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/ragchain/internal/cli"
	"github.com/hyperjump/ragchain/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  database_path: "./data/passages.db"
  keyword_index_path: "./data/bleve"
  vector_index_path: "./data/vectors.idx"
embedding:
  provider: hashing
  dimensions: 256
ingest:
  chunk_size: 20
  chunk_overlap: 5
`), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ragchain dev")
}

func TestDirectMode(t *testing.T) {
	cfgPath := writeConfig(t)
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a.txt"), []byte("Goroutines and channels make Go concurrency simple."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "b.md"), []byte("Bleve provides full text search for Go programs."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "skip.bin"), []byte{0, 1, 2}, 0o600))
	base := []string{"--config", cfgPath, "--server=", "-o", "text"}

	out, err := execute(t, append(base, "ingest", docs)...)
	require.NoError(t, err, out)
	assert.Equal(t, 2, strings.Count(out, "ingested "), out)

	out, err = execute(t, append(base, "ingest", docs)...)
	require.NoError(t, err, out)
	assert.Equal(t, 2, strings.Count(out, "skipped "), out)

	out, err = execute(t, append(base, "-o", "json", "retrieve", "-k", "1", "Goroutines and channels make Go concurrency simple.")...)
	require.NoError(t, err, out)
	var resp models.RetrieveResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Len(t, resp.Hits, 1)
	assert.True(t, strings.HasSuffix(resp.Hits[0].Passage.Filepath, "a.txt"))

	out, err = execute(t, append(base, "-o", "json", "retrieve", "-k", "2", "--contains", "Bleve", "search")...)
	require.NoError(t, err, out)
	resp = models.RetrieveResponse{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Len(t, resp.Hits, 1)
	assert.True(t, strings.HasSuffix(resp.Hits[0].Passage.Filepath, "b.md"))

	out, err = execute(t, append(base, "-o", "json", "status")...)
	require.NoError(t, err, out)
	var status cli.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status), out)
	assert.EqualValues(t, 2, status.Passages)
	assert.Equal(t, 2, status.VectorIndexSize)

	out, err = execute(t, append(base, "delete", resp.Hits[0].Passage.ID)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "deleted 1 passages")

	out, err = execute(t, append(base, "-o", "json", "status")...)
	require.NoError(t, err, out)
	status = cli.Status{}
	require.NoError(t, json.Unmarshal([]byte(out), &status), out)
	assert.EqualValues(t, 1, status.Passages)
}

func TestRerankDirect(t *testing.T) {
	cfgPath := writeConfig(t)
	out, err := execute(t, "--config", cfgPath, "--server=", "-o", "text", "rerank",
		"go concurrency with goroutines",
		"bleve full text search",
		"goroutines give go cheap concurrency")
	require.NoError(t, err, out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[1]")
}

func TestRetrieveRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.RetrieveRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "remote query", req.Query)
		_ = json.NewEncoder(w).Encode(models.RetrieveResponse{
			Query: req.Query,
			Hits:  []*models.ScoredPassage{{Score: 0.75, Passage: &models.Passage{ID: "r1", Content: "from the server"}}},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--config", writeConfig(t), "--server", srv.URL, "-o", "compact", "retrieve", "remote", "query")
	require.NoError(t, err, out)
	assert.Equal(t, "1\t0.7500\tr1\tfrom the server\n", out)
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t), "--server=", "-o", "xml", "status")
	assert.Error(t, err)
}
