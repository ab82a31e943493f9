package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hyperjump/ragchain/internal/cli"
	"github.com/hyperjump/ragchain/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and index status",
	Long: `Show passage counts, index size, disk usage and the active configuration.

Examples:
  ragchain status
  ragchain status --output json
  ragchain status --server ""`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	var status *cli.Status
	if remote() {
		status, err = cli.NewClient(serverURL).Status(cmd.Context())
	} else {
		err = withComponents(func(c *Components) error {
			status, err = statusLocal(cmd, c)
			return err
		})
	}
	if err != nil {
		return err
	}
	return cli.WriteStatus(cmd.OutOrStdout(), status, f)
}

func statusLocal(cmd *cobra.Command, c *Components) (*cli.Status, error) {
	count, err := c.Store.Count(cmd.Context())
	if err != nil {
		return nil, err
	}
	cfg := c.Config
	s := &cli.Status{
		Passages: count,
		Config: map[string]interface{}{
			"retrieval_mode":       cfg.Retrieval.Mode,
			"embedding_provider":   cfg.Embedding.Provider,
			"embedding_dimensions": cfg.Embedding.Dimensions,
			"chunk_size":           cfg.Ingest.ChunkSize,
			"chunk_overlap":        cfg.Ingest.ChunkOverlap,
			"rerank_enabled":       cfg.Rerank.Enabled,
			"rerank_scorer":        cfg.Rerank.Scorer,
			"storage_driver":       cfg.Storage.Driver,
		},
	}
	if c.Vector != nil {
		s.VectorIndexSize = c.Vector.Size()
		s.Config["vector_index_type"] = c.Vector.Type()
	}
	if usage, err := storage.MeasureDiskUsage(cfg.Storage); err == nil {
		s.DiskUsage = usage
	}
	return s, nil
}
