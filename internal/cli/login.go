package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/einvoice-tools/registry-workbench/internal/session"
)

type identityTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	Group        string `json:"group"`
}

func newLoginCommand() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the identity provider and start a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			tokens, err := exchangeCredentials(ctx, a.Config.IdentityLoginURL, username, password, a.Config.RegistryTimeout)
			if err != nil {
				return err
			}
			if err := a.Sessions.Login(ctx, session.LoginParams{
				AccessToken:  tokens.AccessToken,
				RefreshToken: tokens.RefreshToken,
				ExpiresIn:    time.Duration(tokens.ExpiresIn) * time.Second,
				Username:     tokens.Username,
				Role:         tokens.Role,
				Group:        tokens.Group,
			}); err != nil {
				return err
			}

			st := a.Sessions.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s), session %s, expires in %s\n",
				tokens.Username, tokens.Role, st.State, st.TimeLeft.Round(time.Second))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "identity provider username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "identity provider password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func exchangeCredentials(ctx context.Context, loginURL, username, password string, timeout time.Duration) (*identityTokens, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encode login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call identity provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity provider rejected login: %s", resp.Status)
	}

	var tokens identityTokens
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("login response carries no access token")
	}
	return &tokens, nil
}
