package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/ragchain/internal/cli"
	"github.com/hyperjump/ragchain/internal/config"
	"github.com/hyperjump/ragchain/pkg/utils"
)

const defaultConfigPath = "/usr/local/etc/ragchain/config.yaml"

var (
	// configPath is the config file path
	configPath string
	// serverURL is the API of a running server; empty means direct store access
	serverURL string
	// outputFormat is the output format (text, compact, json)
	outputFormat string
	// debug enables development logging
	debug bool
)

var rootCmd = &cobra.Command{
	Use:   "ragchain",
	Short: "Passage retrieval and reranking for retrieval-augmented generation",
	Long: `ragchain ingests documents as linked passages, retrieves them by vector,
BM25 or hybrid similarity, and reranks them by query likelihood.

Commands talk to a running server by default. Pass --server "" to open the
store and indices directly when no server is running.

Examples:
  ragchain serve
  ragchain ingest ./docs
  ragchain retrieve --top-k 5 "how are passages linked"
  ragchain retrieve --contains golang --rerank "concurrency patterns"
  ragchain rerank "who founded the company" "context one" "context two"
  ragchain status --output json
  ragchain watch add ./docs`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", cli.DefaultServerURL, `server URL (empty = direct store access)`)
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, compact, or json")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig loads the config at configPath. For the default path, a
// config.yaml in the working directory takes precedence. It returns the
// path that was actually loaded.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := utils.NewLogger(debug || (cfg != nil && cfg.Debug))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func format() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(outputFormat)
}

// remote reports whether the command should go through the server API.
func remote() bool {
	return serverURL != ""
}

// withComponents loads config, opens all components, runs fn and closes them.
func withComponents(fn func(c *Components) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer c.Close()
	return fn(c)
}
