package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/einvoice-tools/registry-workbench/internal/config"
	"github.com/einvoice-tools/registry-workbench/internal/credstore"
	"github.com/einvoice-tools/registry-workbench/internal/drafts"
)

type doctorCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

func newDoctorCommand() *cobra.Command {
	var ci bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check connectivity to the identity provider, registry, and local stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			a, cleanup, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			checks := []doctorCheck{
				checkIdentity(ctx, a.Config),
				checkRegistry(ctx, a.Config),
				checkCredStore(ctx, a.Config, a.CredStore),
				checkDrafts(a.Config),
			}

			failed := 0
			for _, c := range checks {
				if !c.OK {
					failed++
				}
			}

			if ci {
				out, err := json.MarshalIndent(map[string]any{"ok": failed == 0, "checks": checks}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			} else {
				for _, c := range checks {
					mark := "ok"
					if !c.OK {
						mark = "FAIL"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-5s %s\n", c.Name, mark, c.Detail)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(checks))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}

func checkIdentity(ctx context.Context, cfg *config.Config) doctorCheck {
	check := doctorCheck{Name: "identity"}
	u, err := url.Parse(cfg.IdentityLoginURL)
	if err != nil {
		check.Detail = "bad IDENTITY_LOGIN_URL: " + err.Error()
		return check
	}
	u.Path = "/health/live"
	u.RawQuery = ""
	if detail, ok := probe(ctx, u.String(), http.StatusOK); !ok {
		check.Detail = detail
		return check
	}
	check.OK = true
	check.Detail = u.String()
	return check
}

func checkRegistry(ctx context.Context, cfg *config.Config) doctorCheck {
	check := doctorCheck{Name: "registry"}
	target := cfg.RegistryBaseURL + "/api/specifications"
	// 401 means reachable; the doctor does not need a session.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	_ = resp.Body.Close()
	check.OK = true
	check.Detail = fmt.Sprintf("%s (%d)", target, resp.StatusCode)
	return check
}

func checkCredStore(ctx context.Context, cfg *config.Config, store credstore.Store) doctorCheck {
	check := doctorCheck{Name: "credstore", Detail: cfg.CredStoreDriver}
	if cfg.CredStoreDriver == "redis" {
		opts, err := redis.ParseURL(cfg.CredStoreRedisURL)
		if err != nil {
			check.Detail = "bad CREDSTORE_REDIS_URL: " + err.Error()
			return check
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			check.Detail = "redis ping: " + err.Error()
			return check
		}
		check.OK = true
		check.Detail = "redis ping ok"
		return check
	}
	if _, err := store.Load(ctx); err != nil && !errors.Is(err, credstore.ErrNotFound) {
		check.Detail = err.Error()
		return check
	}
	check.OK = true
	return check
}

func checkDrafts(cfg *config.Config) doctorCheck {
	check := doctorCheck{Name: "drafts", Detail: cfg.DraftsDriver}
	db, err := drafts.Open(cfg.DraftsDriver, cfg.DraftsDSN)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	check.OK = true
	check.Detail = fmt.Sprintf("%s (%s)", cfg.DraftsDriver, cfg.DraftsDSN)
	return check
}

func probe(ctx context.Context, target string, want int) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err.Error(), false
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return err.Error(), false
	}
	_ = resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Sprintf("%s returned %d", target, resp.StatusCode), false
	}
	return "", true
}
