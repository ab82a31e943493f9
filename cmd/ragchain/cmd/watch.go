package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/ragchain/internal/cli"
	"github.com/hyperjump/ragchain/internal/watcher"
)

var watchSync bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage watched directories",
	Long: `Manage the directories a running server keeps ingested, or watch
directories in the foreground without a server.

Examples:
  ragchain watch list
  ragchain watch add ./docs
  ragchain watch remove ./docs
  ragchain watch run ./docs`,
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched directories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := cli.NewClient(serverURL).WatchList(cmd.Context())
		if err != nil {
			return err
		}
		if len(dirs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No directories watched.")
			return nil
		}
		for _, d := range dirs {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return nil
	},
}

var watchAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Watch a directory and ingest its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := cli.NewClient(serverURL).WatchAdd(cmd.Context(), abs, watchSync); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s\n", abs)
		return nil
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Stop watching a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := cli.NewClient(serverURL).WatchRemove(cmd.Context(), abs); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped watching %s\n", abs)
		return nil
	},
}

var watchRunCmd = &cobra.Command{
	Use:   "run [path]...",
	Short: "Watch directories in the foreground without a server",
	Long: `Open the store and indices directly and keep the given directories (or the
configured ones) ingested until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(c *Components) error {
			roots := args
			if len(roots) == 0 {
				roots = c.Config.Watch.Directories
			}
			if len(roots) == 0 {
				return fmt.Errorf("no directories to watch")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := watcher.New(c.Pipeline, roots, c.Config.Watch.RecursiveOrDefault(), watcher.WithLogger(c.Logger))
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()
			if watchSync {
				if _, err := w.Sync(ctx); err != nil {
					c.Logger.Warn("initial sync incomplete", zap.Error(err))
				}
			}
			c.Logger.Info("watching", zap.Strings("directories", w.Roots()))
			<-ctx.Done()
			return nil
		})
	},
}

func init() {
	watchCmd.PersistentFlags().BoolVar(&watchSync, "sync", true, "ingest existing files when a directory is added")
	watchCmd.AddCommand(watchListCmd, watchAddCmd, watchRemoveCmd, watchRunCmd)
	rootCmd.AddCommand(watchCmd)
}
