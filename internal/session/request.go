package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/einvoice-tools/registry-workbench/internal/observability"
)

// AuthorizedRequest is the only sanctioned way to call the protected
// registry API. It attaches the bearer token (overwriting any caller-held
// Authorization header), refuses to send a token known to be expired, and
// on a 401/403 joins-or-starts exactly one refresh before retrying the
// request once. Non-auth responses come back untouched; by the time an
// error surfaces it is either *AuthExpiredError or *TransportError.
//
// The body is taken as a byte slice so the retry can replay it.
func (m *Manager) AuthorizedRequest(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, error) {
	m.mu.Lock()
	access := m.creds.AccessToken
	expiresAt := m.creds.ExpiresAt
	m.mu.Unlock()

	if access == "" {
		observability.RecordAuthorizedRequest("unauthenticated")
		return nil, &AuthExpiredError{Reason: "not authenticated"}
	}

	// Expiry gate: a token past its declared lifetime never goes over the
	// wire. Refresh first (skipped when no refresh token is held) or fail.
	if !expiresAt.IsZero() && !m.now().Before(expiresAt) {
		if err := m.joinRefresh(ctx); err != nil {
			observability.RecordAuthorizedRequest("auth_expired")
			return nil, err
		}
		m.mu.Lock()
		access = m.creds.AccessToken
		m.mu.Unlock()
	}

	resp, err := m.send(ctx, method, url, body, header, access)
	if err != nil {
		observability.RecordAuthorizedRequest("transport_error")
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		observability.RecordAuthorizedRequest("ok")
		return resp, nil
	}

	// Server rejected a token the clock still considered valid.
	drainAndClose(resp)
	if err := m.joinRefresh(ctx); err != nil {
		observability.RecordAuthorizedRequest("auth_expired")
		return nil, err
	}
	m.mu.Lock()
	access = m.creds.AccessToken
	m.mu.Unlock()

	// One retry with the fresh token; its result stands, success or not.
	resp, err = m.send(ctx, method, url, body, header, access)
	if err != nil {
		observability.RecordAuthorizedRequest("transport_error")
		return nil, err
	}
	observability.RecordAuthorizedRequest("retried")
	return resp, nil
}

func (m *Manager) send(ctx context.Context, method, url string, body []byte, header http.Header, access string) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("build request: %w", err)}
	}
	for k, vs := range header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return resp, nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}
