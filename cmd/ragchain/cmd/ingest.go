package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/hyperjump/ragchain/internal/cli"
	"github.com/hyperjump/ragchain/internal/ingest"
	"github.com/hyperjump/ragchain/internal/loader"
)

var ingestRecursive bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <file-or-directory>...",
	Short: "Split documents into passages and ingest them",
	Long: `Load files, split them into linked passages and ingest the passages.
Unchanged files are skipped; passages of a previous version of a file are replaced.

Examples:
  ragchain ingest notes.md
  ragchain ingest --recursive=false ./docs
  ragchain ingest --server "" ./docs`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestRecursive, "recursive", "r", true, "descend into subdirectories")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var (
		results []*ingest.FileResult
		errs    error
	)
	if remote() {
		cfg, _, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		results, errs = ingestViaHTTP(ctx, cli.NewClient(serverURL), loader.New(cfg.Watch.Extensions...), args)
	} else {
		errs = withComponents(func(c *Components) error {
			var all error
			for _, path := range args {
				res, err := ingestLocal(ctx, c.Pipeline, path)
				results = append(results, res...)
				all = multierr.Append(all, err)
			}
			return all
		})
	}

	out := cmd.OutOrStdout()
	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Fprintf(out, "skipped  %s (unchanged)\n", r.Filepath)
		case r.Report != nil:
			fmt.Fprintf(out, "ingested %s: %d passages, %d failed, %d removed\n",
				r.Filepath, len(r.Report.Indexed), len(r.Report.Failed), r.Removed)
		}
	}
	return errs
}

func ingestLocal(ctx context.Context, p *ingest.Pipeline, path string) ([]*ingest.FileResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return p.IngestDirectory(ctx, path, ingestRecursive)
	}
	res, err := p.IngestFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return []*ingest.FileResult{res}, nil
}

// ingestViaHTTP loads files locally and sends them as documents.
func ingestViaHTTP(ctx context.Context, client *cli.Client, l *loader.Loader, paths []string) ([]*ingest.FileResult, error) {
	var (
		results []*ingest.FileResult
		errs    error
	)
	send := func(path string) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		doc, err := l.Load(path)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
			return
		}
		res, err := client.IngestDocument(ctx, doc)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
			return
		}
		results = append(results, res)
	}
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !info.IsDir() {
			send(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && !ingestRecursive {
					return filepath.SkipDir
				}
				return nil
			}
			if l.Supports(path) {
				send(path)
			}
			return nil
		})
		errs = multierr.Append(errs, err)
	}
	return results, errs
}
