package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/einvoice-tools/registry-workbench/internal/credstore"
)

// testIdentity is a refresh endpoint plus a bearer-guarded API that accepts
// only the identity's current token, mirroring how the registry rejects a
// revoked token with 401 regardless of its declared lifetime.
type testIdentity struct {
	mu           sync.Mutex
	currentToken string
	nextToken    int
	refreshCalls atomic.Int64
	rejected     atomic.Int64
	refreshGate  func()
}

func newTestIdentity(initial string) *testIdentity {
	return &testIdentity{currentToken: initial, nextToken: 1}
}

func (id *testIdentity) rotate() string {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.currentToken = fmt.Sprintf("rotated-%d", id.nextToken)
	id.nextToken++
	return id.currentToken
}

func (id *testIdentity) current() string {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.currentToken
}

func (id *testIdentity) refreshHandler(w http.ResponseWriter, r *http.Request) {
	id.refreshCalls.Add(1)
	if id.refreshGate != nil {
		id.refreshGate()
	}
	tok := id.rotate()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"accessToken":%q,"refreshToken":"refB","expiresIn":3600}`, tok)
}

func (id *testIdentity) apiHandler(w http.ResponseWriter, r *http.Request) {
	auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if auth != id.current() {
		id.rejected.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	_, _ = io.WriteString(w, `{"ok":true}`)
}

func (id *testIdentity) serve(t *testing.T) (refreshURL, apiURL string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", id.refreshHandler)
	mux.HandleFunc("/api/specifications", id.apiHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/auth/refresh", srv.URL + "/api/specifications"
}

func TestAuthorizedRequestRefusesWhenUnauthenticated(t *testing.T) {
	m, _, _ := newTestManager(t, credstore.NewMemoryStore(), Options{})
	_, err := m.AuthorizedRequest(context.Background(), http.MethodGet, "http://registry.invalid/api", nil, nil)
	var authErr *AuthExpiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthExpiredError, got %v", err)
	}
}

func TestAuthorizedRequestAttachesBearer(t *testing.T) {
	ctx := context.Background()
	id := newTestIdentity("tokA")
	refreshURL, apiURL := id.serve(t)

	m, _, _ := newTestManager(t, credstore.NewMemoryStore(), Options{RefreshURL: refreshURL})
	if err := m.Login(ctx, LoginParams{AccessToken: "tokA", RefreshToken: "refA", ExpiresIn: time.Hour}); err != nil {
		t.Fatalf("login: %v", err)
	}

	// A caller-held Authorization header is overwritten, never trusted.
	hdr := http.Header{"Authorization": []string{"Bearer forged"}}
	resp, err := m.AuthorizedRequest(ctx, http.MethodGet, apiURL, nil, hdr)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if n := id.refreshCalls.Load(); n != 0 {
		t.Fatalf("expected no refresh for a valid token, got %d", n)
	}
}

func TestAuthorizedRequestRefreshAndRetryOn401(t *testing.T) {
	ctx := context.Background()
	id := newTestIdentity("tokA")
	refreshURL, apiURL := id.serve(t)

	store := credstore.NewMemoryStore()
	m, _, _ := newTestManager(t, store, Options{RefreshURL: refreshURL})
	if err := m.Login(ctx, LoginParams{AccessToken: "tokA", RefreshToken: "refA", ExpiresIn: time.Hour}); err != nil {
		t.Fatalf("login: %v", err)
	}

	// Revoke server-side: the held token is now rejected despite being
	// within its declared lifetime.
	id.rotate()

	resp, err := m.AuthorizedRequest(ctx, http.MethodGet, apiURL, nil, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected retry to succeed, got %d", resp.StatusCode)
	}
	if n := id.refreshCalls.Load(); n != 1 {
		t.Fatalf("expected exactly one refresh, got %d", n)
	}
	persisted, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load persisted: %v", err)
	}
	if persisted.AccessToken != id.current() || persisted.RefreshToken != "refB" {
		t.Fatalf("expected rotated tokens persisted, got %+v", persisted)
	}
	if st := m.Status(); st.State != StateActive {
		t.Fatalf("expected session to stay active, got %v", st.State)
	}
}

func TestAuthorizedRequestSingleFlightUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	id := newTestIdentity("tokA")

	const callers = 4
	// Hold the refresh open until every caller's first attempt has been
	// rejected, so all of them must join the in-flight refresh.
	id.refreshGate = func() {
		deadline := time.Now().Add(5 * time.Second)
		for id.rejected.Load() < callers {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(time.Millisecond)
		}
		// Rejected callers still need to reach the refresh before it
		// completes.
		time.Sleep(100 * time.Millisecond)
	}
	refreshURL, apiURL := id.serve(t)

	m, _, _ := newTestManager(t, credstore.NewMemoryStore(), Options{RefreshURL: refreshURL})
	if err := m.Login(ctx, LoginParams{AccessToken: "tokA", RefreshToken: "refA", ExpiresIn: time.Hour}); err != nil {
		t.Fatalf("login: %v", err)
	}
	id.rotate()

	var wg sync.WaitGroup
	errs := make([]error, callers)
	codes := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := m.AuthorizedRequest(ctx, http.MethodGet, apiURL, nil, nil)
			if err != nil {
				errs[i] = err
				return
			}
			codes[i] = resp.StatusCode
			_ = resp.Body.Close()
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if codes[i] != http.StatusOK {
			t.Fatalf("caller %d got %d", i, codes[i])
		}
	}
	if n := id.refreshCalls.Load(); n != 1 {
		t.Fatalf("expected a single shared refresh, got %d", n)
	}
}

func TestAuthorizedRequestExpiryGateRefreshesFirst(t *testing.T) {
	ctx := context.Background()
	id := newTestIdentity("tokA")
	refreshURL, apiURL := id.serve(t)

	m, clock, _ := newTestManager(t, credstore.NewMemoryStore(), Options{RefreshURL: refreshURL})
	if err := m.Login(ctx, LoginParams{AccessToken: "tokA", RefreshToken: "refA", ExpiresIn: time.Hour}); err != nil {
		t.Fatalf("login: %v", err)
	}

	// Past expiry: the stale token must not reach the wire. The gate
	// refreshes first, so the API only ever sees the rotated token.
	clock.Advance(2 * time.Hour)
	id.rotate()

	resp, err := m.AuthorizedRequest(ctx, http.MethodGet, apiURL, nil, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after gate refresh, got %d", resp.StatusCode)
	}
	if n := id.rejected.Load(); n != 0 {
		t.Fatalf("stale token reached the API %d times", n)
	}
	if n := id.refreshCalls.Load(); n != 1 {
		t.Fatalf("expected one gate refresh, got %d", n)
	}
}

func TestAuthorizedRequestExpiryGateFailsWithoutRefreshToken(t *testing.T) {
	ctx := context.Background()
	apiHits := atomic.Int64{}
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiHits.Add(1)
	}))
	defer api.Close()

	m, clock, _ := newTestManager(t, credstore.NewMemoryStore(), Options{RefreshURL: "http://identity.invalid/refresh"})
	if err := m.Login(ctx, LoginParams{AccessToken: "tokA", ExpiresIn: time.Hour}); err != nil {
		t.Fatalf("login: %v", err)
	}
	clock.Advance(2 * time.Hour)

	_, err := m.AuthorizedRequest(ctx, http.MethodGet, api.URL, nil, nil)
	var authErr *AuthExpiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthExpiredError, got %v", err)
	}
	if n := apiHits.Load(); n != 0 {
		t.Fatalf("expired token reached the API %d times", n)
	}
	if st := m.Status(); st.State != StateExpired {
		t.Fatalf("expected expired, got %v", st.State)
	}
}

func TestAuthorizedRequestNonAuthStatusPassesThrough(t *testing.T) {
	ctx := context.Background()
	id := newTestIdentity("tokA")
	refreshURL, _ := id.serve(t)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer api.Close()

	m, _, _ := newTestManager(t, credstore.NewMemoryStore(), Options{RefreshURL: refreshURL})
	if err := m.Login(ctx, LoginParams{AccessToken: "tokA", RefreshToken: "refA", ExpiresIn: time.Hour}); err != nil {
		t.Fatalf("login: %v", err)
	}

	resp, err := m.AuthorizedRequest(ctx, http.MethodGet, api.URL, nil, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 passed through, got %d", resp.StatusCode)
	}
	if n := id.refreshCalls.Load(); n != 0 {
		t.Fatalf("expected no refresh for a non-auth status, got %d", n)
	}
}

func TestAuthorizedRequestRetryResultStands(t *testing.T) {
	ctx := context.Background()
	id := newTestIdentity("tokA")
	refreshURL, _ := id.serve(t)

	// The API rejects every token: the single retry's 401 is returned
	// to the caller rather than looping.
	var apiCalls atomic.Int64
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer api.Close()

	m, _, _ := newTestManager(t, credstore.NewMemoryStore(), Options{RefreshURL: refreshURL})
	if err := m.Login(ctx, LoginParams{AccessToken: "tokA", RefreshToken: "refA", ExpiresIn: time.Hour}); err != nil {
		t.Fatalf("login: %v", err)
	}

	resp, err := m.AuthorizedRequest(ctx, http.MethodGet, api.URL, nil, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the retried 401 returned, got %d", resp.StatusCode)
	}
	if n := apiCalls.Load(); n != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", n)
	}
	if n := id.refreshCalls.Load(); n != 1 {
		t.Fatalf("expected exactly one refresh, got %d", n)
	}
}

func TestAuthorizedRequestTransportError(t *testing.T) {
	ctx := context.Background()
	id := newTestIdentity("tokA")
	refreshURL, _ := id.serve(t)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	api.Close() // refuse connections

	m, _, _ := newTestManager(t, credstore.NewMemoryStore(), Options{RefreshURL: refreshURL})
	if err := m.Login(ctx, LoginParams{AccessToken: "tokA", RefreshToken: "refA", ExpiresIn: time.Hour}); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err := m.AuthorizedRequest(ctx, http.MethodGet, api.URL, nil, nil)
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if st := m.Status(); st.State != StateActive {
		t.Fatalf("network failure must not expire the session, got %v", st.State)
	}
	if n := id.refreshCalls.Load(); n != 0 {
		t.Fatalf("expected no refresh on transport error, got %d", n)
	}
}

func TestAuthorizedRequestReplaysBodyOnRetry(t *testing.T) {
	ctx := context.Background()
	id := newTestIdentity("tokA")
	refreshURL, _ := id.serve(t)

	var bodies []string
	var mu sync.Mutex
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		first := len(bodies) == 1
		mu.Unlock()
		if first {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer api.Close()

	m, _, _ := newTestManager(t, credstore.NewMemoryStore(), Options{RefreshURL: refreshURL})
	if err := m.Login(ctx, LoginParams{AccessToken: "tokA", RefreshToken: "refA", ExpiresIn: time.Hour}); err != nil {
		t.Fatalf("login: %v", err)
	}

	payload := []byte(`{"name":"EN 16931 profile"}`)
	resp, err := m.AuthorizedRequest(ctx, http.MethodPost, api.URL, payload, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != string(payload) || bodies[1] != string(payload) {
		t.Fatalf("expected body replayed intact on retry, got %q", bodies)
	}
}
