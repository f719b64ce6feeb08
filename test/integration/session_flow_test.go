package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/einvoice-tools/registry-workbench/internal/credstore"
	"github.com/einvoice-tools/registry-workbench/internal/idpstub"
	"github.com/einvoice-tools/registry-workbench/internal/registry"
	"github.com/einvoice-tools/registry-workbench/internal/session"
)

type harness struct {
	stub     *idpstub.Server
	store    credstore.Store
	sessions *session.Manager
	registry *registry.Client
	baseURL  string
}

func newHarness(t *testing.T, store credstore.Store) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stub := idpstub.New(idpstub.Options{AccessTTL: time.Minute}, logger)
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)

	sessions := session.NewManager(store, session.Options{
		RefreshURL: srv.URL + "/auth/refresh",
	}, logger)
	return &harness{
		stub:     stub,
		store:    store,
		sessions: sessions,
		registry: registry.NewClient(sessions, srv.URL, logger),
		baseURL:  srv.URL,
	}
}

func (h *harness) login(t *testing.T, username string) {
	t.Helper()
	ctx := context.Background()
	tokens := loginHTTP(t, h.baseURL, username)
	err := h.sessions.Login(ctx, session.LoginParams{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    time.Duration(tokens.ExpiresIn) * time.Second,
		Username:     username,
	})
	if err != nil {
		t.Fatalf("session login: %v", err)
	}
}

func newRedisStore(t *testing.T) credstore.Store {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return credstore.NewRedisStore(client, "workbench:test")
}

func TestFullAuthoringFlowAgainstStub(t *testing.T) {
	h := newHarness(t, newRedisStore(t))
	ctx := context.Background()
	h.login(t, "analyst")

	created, err := h.registry.Create(ctx, specFixture("Peppol BIS Billing", "NO"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Status != "draft" {
		t.Fatalf("unexpected created record %+v", created)
	}

	submitted, err := h.registry.Submit(ctx, created.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != "submitted" {
		t.Fatalf("expected submitted, got %q", submitted.Status)
	}

	res, err := h.registry.List(ctx, registry.ListFilter{Status: "submitted", Country: "NO"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 1 || res.Items[0].ID != created.ID {
		t.Fatalf("unexpected list result %+v", res)
	}
}

func TestServerSideRevocationIsInvisibleToTheCaller(t *testing.T) {
	h := newHarness(t, newRedisStore(t))
	ctx := context.Background()
	h.login(t, "analyst")

	// Revoke every issued token: the next request gets a 401, the manager
	// refreshes once and retries, and the caller only sees success.
	h.stub.RevokeIssuedTokens()

	if _, err := h.registry.List(ctx, registry.ListFilter{}); err != nil {
		t.Fatalf("expected transparent refresh-and-retry, got %v", err)
	}
	if st := h.sessions.Status(); st.State != session.StateActive {
		t.Fatalf("expected active after retry, got %v", st.State)
	}
}

func TestRefreshOutageExpiresSessionAndWipesStore(t *testing.T) {
	store := newRedisStore(t)
	h := newHarness(t, store)
	ctx := context.Background()
	h.login(t, "analyst")

	h.stub.RevokeIssuedTokens()
	h.stub.FailNextRefreshes(1)

	_, err := h.registry.List(ctx, registry.ListFilter{})
	var authErr *session.AuthExpiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthExpiredError, got %v", err)
	}
	if st := h.sessions.Status(); st.State != session.StateExpired {
		t.Fatalf("expected expired, got %v", st.State)
	}
	if _, err := store.Load(ctx); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected persisted credentials wiped, got %v", err)
	}
}

func TestSessionSurvivesRestartViaPersistedStore(t *testing.T) {
	store := newRedisStore(t)
	h := newHarness(t, store)
	h.login(t, "analyst")

	// A second manager over the same store models a process restart.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	restarted := session.NewManager(store, session.Options{
		RefreshURL: h.baseURL + "/auth/refresh",
	}, logger)
	if err := restarted.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if st := restarted.Status(); st.State != session.StateActive {
		t.Fatalf("expected restored session, got %v", st.State)
	}

	client := registry.NewClient(restarted, h.baseURL, logger)
	if _, err := client.List(context.Background(), registry.ListFilter{}); err != nil {
		t.Fatalf("restored session should authorize requests: %v", err)
	}
}

func TestLogoutLeavesNoUsableState(t *testing.T) {
	store := newRedisStore(t)
	h := newHarness(t, store)
	ctx := context.Background()
	h.login(t, "analyst")

	if err := h.sessions.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("expected store wiped, got %v", err)
	}
	_, err := h.registry.List(ctx, registry.ListFilter{})
	var authErr *session.AuthExpiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthExpiredError after logout, got %v", err)
	}
}
