package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/einvoice-tools/registry-workbench/internal/idpstub"
)

func newIdpstubCommand() *cobra.Command {
	var (
		addr      string
		secret    string
		accessTTL time.Duration
	)
	cmd := &cobra.Command{
		Use:   "idpstub",
		Short: "Run the development identity provider and protected API stub",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			stub := idpstub.New(idpstub.Options{
				Secret:         secret,
				AccessTTL:      accessTTL,
				EnableOTelHTTP: a.Config.EnableOTelHTTP,
			}, a.Logger)

			srv := &http.Server{
				Addr:              addr,
				Handler:           stub.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.Logger.Info("idpstub listening", "addr", addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			a.Logger.Info("idpstub stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8081", "listen address")
	cmd.Flags().StringVar(&secret, "secret", "dev-only-secret", "HS256 signing secret")
	cmd.Flags().DurationVar(&accessTTL, "access-ttl", 15*time.Minute, "access token lifetime")
	return cmd
}
