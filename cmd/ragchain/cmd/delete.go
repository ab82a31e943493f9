package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/ragchain/internal/cli"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <passage-id>...",
	Short: "Delete passages from the store and indices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if remote() {
			client := cli.NewClient(serverURL)
			for _, id := range args {
				if err := client.DeletePassage(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
			}
		} else if err := withComponents(func(c *Components) error {
			return c.Retrieval.Delete(cmd.Context(), args)
		}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d passages\n", len(args))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
