package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/einvoice-tools/registry-workbench/internal/registry"
)

func newSpecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Work with specification records in the registry",
	}
	cmd.AddCommand(newSpecListCommand(), newSpecGetCommand(), newSpecSubmitCommand())
	return cmd
}

func newSpecListCommand() *cobra.Command {
	var filter registry.ListFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List specifications, optionally filtered by status or country",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := a.Registry.List(ctx, filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCOUNTRY\tSTATUS")
			for _, spec := range res.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", spec.ID, spec.Name, spec.Country, spec.Status)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d (page %d)\n", len(res.Items), res.Total, res.Page)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Status, "status", "", "filter by status (draft|submitted|published)")
	cmd.Flags().StringVar(&filter.Country, "country", "", "filter by country code")
	cmd.Flags().IntVar(&filter.Page, "page", 1, "result page")
	cmd.Flags().IntVar(&filter.PageSize, "page-size", 20, "results per page")
	return cmd
}

func newSpecGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Fetch one specification as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			spec, err := a.Registry.Get(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(spec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newSpecSubmitCommand() *cobra.Command {
	var keepDrafts bool
	cmd := &cobra.Command{
		Use:   "submit ID",
		Short: "Submit a draft specification for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			spec, err := a.Registry.Submit(ctx, args[0])
			if err != nil {
				return err
			}
			if !keepDrafts {
				if err := a.Drafts.Discard(spec.ID); err != nil {
					a.Logger.Warn("discarding local drafts failed", "spec_id", spec.ID, "err", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", spec.ID, spec.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepDrafts, "keep-drafts", false, "keep cached page drafts after submitting")
	return cmd
}
