// Package cli wires the workbench's cobra commands. Commands that talk to
// the registry assemble the application through the composition root and
// restore any persisted session before doing work.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/einvoice-tools/registry-workbench/internal/app"
)

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "workbench",
		Short:         "Author and submit eInvoicing specifications against the registry",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newStatusCommand(),
		newSpecCommand(),
		newDraftCommand(),
		newIdpstubCommand(),
		newDoctorCommand(),
	)
	return cmd
}

// initApp builds the application and restores a persisted session. The
// cleanup function flushes observability state and closes stores.
func initApp(ctx context.Context) (*app.App, func(), error) {
	a, cleanup, err := app.Initialize(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := a.Sessions.Initialize(ctx); err != nil {
		a.Logger.Warn("session restore failed", "err", err)
	}
	return a, cleanup, nil
}
