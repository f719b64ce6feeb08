package credstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreForTest(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return server, NewRedisStore(client, "workbench_test:credentials")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, store := newRedisStoreForTest(t)

	if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	want := &Credentials{
		AccessToken:  "tokA",
		RefreshToken: "refA",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Username:     "analyst",
		Role:         "editor",
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Fatalf("token mismatch: %+v", got)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("expiry mismatch: want %v got %v", want.ExpiresAt, got.ExpiresAt)
	}
	if got.Username != "analyst" || got.Role != "editor" {
		t.Fatalf("metadata mismatch: %+v", got)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestRedisStoreSaveReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	_, store := newRedisStoreForTest(t)

	if err := store.Save(ctx, &Credentials{AccessToken: "tokA", RefreshToken: "refA"}); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := store.Save(ctx, &Credentials{AccessToken: "tokB"}); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccessToken != "tokB" || got.RefreshToken != "" {
		t.Fatalf("expected full replacement, got %+v", got)
	}
}

func TestRedisStoreDropsLiteralNullRefreshToken(t *testing.T) {
	ctx := context.Background()
	server, store := newRedisStoreForTest(t)

	if err := store.Save(ctx, &Credentials{AccessToken: "tokA", RefreshToken: "null"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := server.Get("workbench_test:credentials:current")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	// Persisted payload must not contain the refresh token field at all.
	if strings.Contains(raw, "refresh_token") {
		t.Fatalf("expected no refresh token persisted, got %q", raw)
	}
}
