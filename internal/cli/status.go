package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/einvoice-tools/registry-workbench/internal/session"
	"github.com/einvoice-tools/registry-workbench/internal/tui"
)

func newStatusCommand() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state and time to token expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if watch {
				return tui.RunStatusWatch(a.Sessions, a.Config.StatusPollInterval)
			}

			st := a.Sessions.Status()
			switch st.State {
			case session.StateUnauthenticated:
				fmt.Fprintln(cmd.OutOrStdout(), "session: unauthenticated (run `workbench login`)")
			case session.StateExpired:
				fmt.Fprintln(cmd.OutOrStdout(), "session: expired (run `workbench login`)")
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "session: %s, expires in %s\n", st.State, st.TimeLeft.Round(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling and render a live indicator")
	return cmd
}
