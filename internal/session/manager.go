// Package session owns the workbench's credential lifecycle: it stores and
// refreshes the access/refresh token pair, schedules the pre-expiry warning,
// coordinates single-flight background refresh, and wraps outbound registry
// requests so an auth rejection triggers one refresh-and-retry before
// surfacing failure.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/einvoice-tools/registry-workbench/internal/credstore"
	"github.com/einvoice-tools/registry-workbench/internal/observability"
	"github.com/einvoice-tools/registry-workbench/internal/security"
)

type State int

const (
	StateUnauthenticated State = iota
	StateActive
	StateWarningShown
	StateRefreshing
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateActive:
		return "active"
	case StateWarningShown:
		return "expiring"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Status is a pure read of the session for UI polling. TimeLeft is zero
// unless a token is installed.
type Status struct {
	State    State
	TimeLeft time.Duration
}

const (
	DefaultWarningLead = 5 * time.Minute
	defaultTokenTTL    = time.Hour
)

var errNoRefreshToken = errors.New("no refresh token available")

type Options struct {
	// RefreshURL is the identity provider's refresh endpoint.
	RefreshURL string
	// WarningLead is how long before expiry the warning fires. Defaults to
	// DefaultWarningLead.
	WarningLead time.Duration
	// DefaultTokenTTL applies when neither the identity response nor the
	// token itself declare a lifetime.
	DefaultTokenTTL time.Duration
	// HTTPClient performs refresh and authorized requests. Defaults to a
	// client with a 30s timeout.
	HTTPClient *http.Client
}

// Manager is the process-wide session. Construct one at the composition
// root and hand it to every collaborator; it must not be resurrected as
// ambient global state.
type Manager struct {
	store       credstore.Store
	httpClient  *http.Client
	refreshURL  string
	warningLead time.Duration
	defaultTTL  time.Duration
	logger      *slog.Logger

	// test seams
	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	sf singleflight.Group

	mu           sync.Mutex
	state        State
	creds        credstore.Credentials
	warningAcked bool
	warnTimer    *time.Timer
	// epoch advances on every token install and teardown. A refresh started
	// under an older epoch must discard its result: the session it was
	// refreshing no longer exists.
	epoch uint64

	onAuthChanged []func(bool)
	onAuthFailed  []func()
	onLoggedOut   []func()
	onExpiring    []func(time.Duration)
}

func NewManager(store credstore.Store, opts Options, logger *slog.Logger) *Manager {
	if opts.WarningLead <= 0 {
		opts.WarningLead = DefaultWarningLead
	}
	if opts.DefaultTokenTTL <= 0 {
		opts.DefaultTokenTTL = defaultTokenTTL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Manager{
		store:       store,
		httpClient:  opts.HTTPClient,
		refreshURL:  opts.RefreshURL,
		warningLead: opts.WarningLead,
		defaultTTL:  opts.DefaultTokenTTL,
		logger:      logger,
		now:         time.Now,
		afterFunc:   time.AfterFunc,
		state:       StateUnauthenticated,
	}
}

// Initialize restores a persisted session, if any. No network call is made:
// a usable non-expired token transitions the manager to Active (warning
// timer scheduled, firing immediately when already inside the window); a
// stale or absent record leaves it Unauthenticated with the store wiped.
func (m *Manager) Initialize(ctx context.Context) error {
	creds, err := m.store.Load(ctx)
	if errors.Is(err, credstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	c := creds.Normalized()
	if c.AccessToken == "" {
		_ = m.store.Clear(ctx)
		return nil
	}
	if !c.ExpiresAt.IsZero() && !m.now().Before(c.ExpiresAt) {
		m.logger.Info("discarding expired persisted session")
		_ = m.store.Clear(ctx)
		return nil
	}

	m.mu.Lock()
	m.installLocked(c, false)
	m.mu.Unlock()
	m.logger.Info("session restored", "expires_at", c.ExpiresAt)
	m.emitAuthChanged(true)
	return nil
}

type LoginParams struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the server-declared token lifetime. When zero the
	// manager falls back to the token's exp claim, then the default TTL.
	ExpiresIn time.Duration

	Username string
	Role     string
	Group    string
}

// Login installs a fresh token set unconditionally, whatever the current
// state, persists it, and announces the authentication change.
func (m *Manager) Login(ctx context.Context, p LoginParams) error {
	access := credstore.NormalizeToken(p.AccessToken)
	if access == "" {
		observability.RecordSessionLogin("rejected")
		return errors.New("login requires an access token")
	}
	expiresAt := m.computeExpiry(access, p.ExpiresIn)

	m.mu.Lock()
	m.installLocked(credstore.Credentials{
		AccessToken:  access,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    expiresAt,
		Username:     p.Username,
		Role:         p.Role,
		Group:        p.Group,
	}, false)
	err := m.persistLocked(ctx)
	m.mu.Unlock()

	if err != nil {
		observability.RecordSessionLogin("persist_error")
		return err
	}
	observability.RecordSessionLogin("success")
	m.logger.Info("session established", "expires_at", expiresAt, "token_fp", security.HashToken(p.AccessToken)[:12])
	m.emitAuthChanged(true)
	return nil
}

// Logout tears the session down. Safe to call in any state; calling it when
// already unauthenticated leaves the persisted store empty and emits
// nothing.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	hadToken := m.creds.AccessToken != ""
	wasExpired := m.state == StateExpired
	m.clearLocked()
	m.state = StateUnauthenticated
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		observability.RecordCredStoreOperation("clear", "error")
		observability.RecordSessionLogout("error")
		return fmt.Errorf("clear persisted session: %w", err)
	}
	observability.RecordCredStoreOperation("clear", "success")
	if !hadToken && !wasExpired {
		return nil
	}
	observability.RecordSessionLogout("success")
	m.logger.Info("session logged out")
	// An expired session announced the change when it expired; only a live
	// token needs the transition broadcast here.
	if hadToken {
		m.emitAuthChanged(false)
	}
	m.emitLoggedOut()
	return nil
}

// ForceRefresh is the user-initiated refresh (the "refresh now" action on
// the expiry warning). It joins any refresh already in flight.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	return m.joinRefresh(ctx)
}

// AcknowledgeWarning dismisses the expiry warning without refreshing; the
// session stays valid until natural expiry or a server-side rejection.
func (m *Manager) AcknowledgeWarning() {
	m.mu.Lock()
	if m.state == StateWarningShown {
		m.state = StateActive
	}
	m.mu.Unlock()
}

// Status is a pure read; it never mutates state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateUnauthenticated:
		return Status{State: StateUnauthenticated}
	case StateExpired:
		return Status{State: StateExpired}
	}
	if m.creds.ExpiresAt.IsZero() {
		return Status{State: StateActive}
	}
	left := m.creds.ExpiresAt.Sub(m.now())
	if left <= 0 {
		return Status{State: StateExpired}
	}
	if left <= m.warningLead {
		return Status{State: StateWarningShown, TimeLeft: left}
	}
	return Status{State: StateActive, TimeLeft: left}
}

// installLocked atomically replaces the token set: access token, expiry and
// (unless the new set omits one and retainRefresh is set) the refresh token
// change together, the warning flag resets, and the warning timer is
// cancelled and rescheduled. Callers hold m.mu.
func (m *Manager) installLocked(c credstore.Credentials, retainRefresh bool) {
	c = c.Normalized()
	if retainRefresh && c.RefreshToken == "" {
		c.RefreshToken = m.creds.RefreshToken
	}
	m.creds = c
	m.warningAcked = false
	m.state = StateActive
	m.epoch++
	m.rescheduleWarningLocked()
}

func (m *Manager) rescheduleWarningLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.creds.ExpiresAt.IsZero() {
		return
	}
	delay := m.creds.ExpiresAt.Sub(m.now()) - m.warningLead
	if delay < 0 {
		// Already inside the window: fire on the next tick, never skip.
		delay = 0
	}
	m.warnTimer = m.afterFunc(delay, m.fireWarning)
}

func (m *Manager) fireWarning() {
	m.mu.Lock()
	if m.state != StateActive || m.warningAcked || m.creds.AccessToken == "" {
		m.mu.Unlock()
		return
	}
	m.state = StateWarningShown
	m.warningAcked = true
	left := m.creds.ExpiresAt.Sub(m.now())
	if left < 0 {
		// The timer can drift past expiry; collaborators get a zero
		// countdown, never a negative one.
		left = 0
	}
	m.mu.Unlock()

	observability.RecordSessionWarning()
	m.logger.Info("session expiring soon", "time_left", left)
	m.emitExpiring(left)
}

func (m *Manager) persistLocked(ctx context.Context) error {
	creds := m.creds
	if err := m.store.Save(ctx, &creds); err != nil {
		observability.RecordCredStoreOperation("save", "error")
		return fmt.Errorf("persist session: %w", err)
	}
	observability.RecordCredStoreOperation("save", "success")
	return nil
}

func (m *Manager) clearLocked() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	m.creds = credstore.Credentials{}
	m.warningAcked = false
	m.epoch++
}

// expire tears the session down after an unrecoverable auth failure. The
// user-facing notification fires at most once per token. The epoch pins the
// teardown to the session the failure belongs to: when a logout or a newer
// login has already replaced it, there is nothing left to expire.
func (m *Manager) expire(ctx context.Context, epoch uint64, reason string, cause error) {
	m.mu.Lock()
	if m.epoch != epoch || m.state == StateExpired {
		m.mu.Unlock()
		return
	}
	m.clearLocked()
	m.state = StateExpired
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		observability.RecordCredStoreOperation("clear", "error")
		m.logger.Warn("clearing persisted session failed", "err", err)
	} else {
		observability.RecordCredStoreOperation("clear", "success")
	}
	observability.RecordSessionExpired(reason)
	m.logger.Warn("session expired", "reason", reason, "err", cause)
	m.emitAuthFailed()
	m.emitAuthChanged(false)
}

// joinRefresh starts a refresh or joins the one already in flight; all
// concurrent callers observe the same outcome. The refresh itself is
// detached from the caller's context so that abandoning one request cannot
// poison the shared result for other waiters.
func (m *Manager) joinRefresh(ctx context.Context) error {
	_, err, _ := m.sf.Do("refresh", func() (any, error) {
		return nil, m.doRefresh(context.WithoutCancel(ctx))
	})
	return err
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (m *Manager) doRefresh(ctx context.Context) error {
	m.mu.Lock()
	refreshToken := m.creds.RefreshToken
	epoch := m.epoch
	if refreshToken == "" {
		unauthenticated := m.state == StateUnauthenticated && m.creds.AccessToken == ""
		m.mu.Unlock()
		if unauthenticated {
			// No session was ever installed; there is nothing to expire and
			// nobody to notify.
			observability.RecordSessionRefresh("skipped_unauthenticated")
			return &AuthExpiredError{Reason: "not authenticated", Err: errNoRefreshToken}
		}
		observability.RecordSessionRefresh("skipped_no_token")
		m.expire(ctx, epoch, "missing_refresh_token", errNoRefreshToken)
		return &AuthExpiredError{Reason: "no refresh token", Err: errNoRefreshToken}
	}
	m.state = StateRefreshing
	m.mu.Unlock()

	payload, err := m.callRefreshEndpoint(ctx, refreshToken)
	if err != nil {
		observability.RecordSessionRefresh("failure")
		m.expire(ctx, epoch, "refresh_failed", err)
		return &AuthExpiredError{Reason: "refresh failed", Err: err}
	}

	access := credstore.NormalizeToken(payload.AccessToken)
	if access == "" {
		access = credstore.NormalizeToken(payload.Token)
	}
	if access == "" {
		err := errors.New("refresh response carries no access token")
		observability.RecordSessionRefresh("failure")
		m.expire(ctx, epoch, "malformed_refresh_response", err)
		return &AuthExpiredError{Reason: "malformed refresh response", Err: err}
	}
	expiresAt := m.computeExpiry(access, time.Duration(payload.ExpiresIn)*time.Second)

	m.mu.Lock()
	if m.epoch != epoch {
		// The session this refresh belonged to was logged out or replaced by
		// a newer login while the exchange was in flight. Installing the
		// result would resurrect torn-down state and overwrite the store the
		// teardown just wiped.
		loggedOut := m.creds.AccessToken == ""
		m.mu.Unlock()
		observability.RecordSessionRefresh("superseded")
		m.logger.Info("discarding refresh result for a superseded session")
		if loggedOut {
			return &AuthExpiredError{Reason: "session ended during refresh"}
		}
		return nil
	}
	m.installLocked(credstore.Credentials{
		AccessToken:  access,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    expiresAt,
		Username:     m.creds.Username,
		Role:         m.creds.Role,
		Group:        m.creds.Group,
	}, true)
	perr := m.persistLocked(ctx)
	m.mu.Unlock()

	if perr != nil {
		m.logger.Warn("persisting refreshed session failed", "err", perr)
	}
	observability.RecordSessionRefresh("success")
	m.logger.Info("session refreshed", "expires_at", expiresAt, "token_fp", security.HashToken(access)[:12])
	return nil
}

func (m *Manager) callRefreshEndpoint(ctx context.Context, refreshToken string) (*refreshResponse, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.refreshURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call refresh endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("refresh endpoint returned %s", resp.Status)
	}
	var payload refreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	return &payload, nil
}

func (m *Manager) computeExpiry(accessToken string, declared time.Duration) time.Time {
	if declared > 0 {
		return m.now().Add(declared)
	}
	if exp, err := security.TokenExpiry(accessToken); err == nil {
		return exp
	}
	return m.now().Add(m.defaultTTL)
}
