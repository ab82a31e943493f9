package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hyperjump/ragchain/internal/cli"
	"github.com/hyperjump/ragchain/internal/models"
	"github.com/hyperjump/ragchain/internal/rerank"
)

var rerankCmd = &cobra.Command{
	Use:   "rerank <question> <context>...",
	Short: "Score contexts by the likelihood of a question",
	Long: `Score each context by the likelihood of the question given the context and
print the contexts from most to least likely. Contexts that fail to score are
listed last as excluded.

Examples:
  ragchain rerank "who is the leader of new jeans" "context one" "context two"
  ragchain rerank --server "" -o json "question" "context"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRerank,
}

func init() {
	rootCmd.AddCommand(rerankCmd)
}

func runRerank(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	req := &models.LikelihoodRequest{Question: args[0], Contexts: args[1:]}

	var resp *models.LikelihoodResponse
	if remote() {
		resp, err = cli.NewClient(serverURL).Likelihood(cmd.Context(), req)
	} else {
		resp, err = likelihoodLocal(cmd, req)
	}
	if err != nil {
		return err
	}
	return cli.WriteLikelihood(cmd.OutOrStdout(), resp, req.Contexts, f)
}

// likelihoodLocal scores in process. Scoring needs no store or index.
func likelihoodLocal(cmd *cobra.Command, req *models.LikelihoodRequest) (*models.LikelihoodResponse, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()

	r, err := rerank.New(cfg.Rerank, rerank.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	l, err := r.CalculateLikelihood(cmd.Context(), req.Question, req.Contexts)
	if err != nil {
		return nil, err
	}
	return l.Response(), nil
}

// rerankerFor returns the configured reranker, building one when reranking is
// disabled in the config but requested on the command line.
func rerankerFor(c *Components) (*rerank.UPRReranker, error) {
	if c.Reranker != nil {
		return c.Reranker, nil
	}
	return rerank.New(c.Config.Rerank, rerank.WithLogger(c.Logger))
}
