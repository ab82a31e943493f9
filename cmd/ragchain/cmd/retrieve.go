package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/ragchain/internal/cli"
	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/internal/retrieval"
)

var (
	retrieveTopK      int
	retrieveContains  []string
	retrieveFilepaths []string
	retrieveRerank    bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Retrieve the passages most similar to a query",
	Long: `Retrieve the top-k passages for a query. --contains and --filepath restrict
the results; the index is over-fetched until enough passages match.

Examples:
  ragchain retrieve "machine learning algorithms"
  ragchain retrieve --top-k 3 --contains transformer "attention"
  ragchain retrieve --rerank --output json "who wrote the report"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveTopK, "top-k", "k", 0, "number of passages (default from config)")
	retrieveCmd.Flags().StringSliceVar(&retrieveContains, "contains", nil, "keep passages containing any of these strings")
	retrieveCmd.Flags().StringSliceVar(&retrieveFilepaths, "filepath", nil, "keep passages from these files")
	retrieveCmd.Flags().BoolVar(&retrieveRerank, "rerank", false, "rerank the passages by query likelihood")
	rootCmd.AddCommand(retrieveCmd)
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	req := &models.RetrieveRequest{
		Query:     strings.Join(args, " "),
		TopK:      retrieveTopK,
		Contains:  retrieveContains,
		Filepaths: retrieveFilepaths,
		Rerank:    retrieveRerank,
	}

	var resp *models.RetrieveResponse
	if remote() {
		resp, err = cli.NewClient(serverURL).Retrieve(cmd.Context(), req)
	} else {
		err = withComponents(func(c *Components) error {
			resp, err = retrieveLocal(cmd, c, req)
			return err
		})
	}
	if err != nil {
		return err
	}
	return cli.WriteRetrieveResults(cmd.OutOrStdout(), resp, f)
}

func retrieveLocal(cmd *cobra.Command, c *Components, req *models.RetrieveRequest) (*models.RetrieveResponse, error) {
	if err := req.Validate(c.Config.Retrieval.DefaultTopK, c.Config.Retrieval.MaxTopK); err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	start := time.Now()
	var (
		res *models.RetrievalResult
		err error
	)
	if pred := retrieval.FromRequest(req); pred != nil {
		res, err = c.Retrieval.RetrieveWithFilter(ctx, req.Query, req.TopK, pred)
	} else {
		res, err = c.Retrieval.RetrieveWithScores(ctx, req.Query, req.TopK)
	}
	if err != nil {
		return nil, err
	}
	if req.Rerank {
		r, err := rerankerFor(c)
		if err != nil {
			return nil, err
		}
		if err := r.RerankResult(ctx, req.Query, res); err != nil {
			return nil, err
		}
	}
	return &models.RetrieveResponse{
		Query:     req.Query,
		Hits:      res.Hits,
		Stale:     res.Stale,
		Truncated: res.Truncated,
		Reranked:  req.Rerank,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}
