package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDraftCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Inspect and manage locally cached authoring pages",
	}
	cmd.AddCommand(newDraftListCommand(), newDraftDiscardCommand(), newDraftPurgeCommand())
	return cmd
}

func newDraftListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list SPEC_ID",
		Short: "List cached pages for a specification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			pages, err := a.Drafts.Pages(args[0])
			if err != nil {
				return err
			}
			if len(pages) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no cached drafts")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PAGE\tBYTES\tUPDATED")
			for _, d := range pages {
				fmt.Fprintf(w, "%d\t%d\t%s\n", d.Page, len(d.Payload), d.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newDraftDiscardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discard SPEC_ID",
		Short: "Drop every cached page for a specification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Drafts.Discard(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "drafts discarded")
			return nil
		},
	}
}

func newDraftPurgeCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop cached pages not touched within the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := a.Drafts.PurgeStale(olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d stale draft pages\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention window")
	return cmd
}
