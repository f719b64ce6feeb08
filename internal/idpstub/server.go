package idpstub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/einvoice-tools/registry-workbench/internal/domain"
	"github.com/einvoice-tools/registry-workbench/internal/http/middleware"
	"github.com/einvoice-tools/registry-workbench/internal/http/response"
	"github.com/einvoice-tools/registry-workbench/internal/observability"
)

type Options struct {
	Issuer           string
	Secret           string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	AuthRateLimitRPM int
	EnableOTelHTTP   bool
}

type Server struct {
	signer *Signer
	opts   Options
	logger *slog.Logger

	mu            sync.Mutex
	failRefreshes int
	specs         map[string]*domain.Specification
}

func New(opts Options, logger *slog.Logger) *Server {
	if opts.Issuer == "" {
		opts.Issuer = "registry-workbench-idpstub"
	}
	if opts.Secret == "" {
		opts.Secret = "dev-only-secret"
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 24 * time.Hour
	}
	if opts.AuthRateLimitRPM <= 0 {
		opts.AuthRateLimitRPM = 60
	}
	return &Server{
		signer: NewSigner(opts.Issuer, opts.Secret, opts.AccessTTL, opts.RefreshTTL),
		opts:   opts,
		logger: logger,
		specs:  make(map[string]*domain.Specification),
	}
}

// FailNextRefreshes makes the next n refresh exchanges return 503. Used by
// tests and demos to force the session into its expired state.
func (s *Server) FailNextRefreshes(n int) {
	s.mu.Lock()
	s.failRefreshes = n
	s.mu.Unlock()
}

// RevokeIssuedTokens invalidates every access token signed so far; the next
// authorized request sees a 401. Refresh tokens stay valid so clients can
// recover with a refresh exchange.
func (s *Server) RevokeIssuedTokens() {
	s.signer.RevokeIssued()
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	authLimiter := middleware.NewRateLimiter(s.opts.AuthRateLimitRPM, time.Minute).Middleware()

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(authLimiter)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Bearer(func(raw string) (string, error) {
			claims, err := s.signer.ParseAccess(raw)
			if err != nil {
				return "", err
			}
			return claims.Subject, nil
		}))
		r.Get("/api/specifications", s.handleList)
		r.Post("/api/specifications", s.handleCreate)
		r.Get("/api/specifications/{id}", s.handleGet)
		r.Put("/api/specifications/{id}", s.handleUpdate)
		r.Post("/api/specifications/{id}/submit", s.handleSubmit)
		r.Delete("/api/specifications/{id}", s.handleDelete)
	})

	var h http.Handler = r
	if s.opts.EnableOTelHTTP {
		h = otelhttp.NewHandler(h, "idpstub")
	}
	return h
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tokenReply is the identity provider's bare wire shape; the session
// manager's refresh path decodes it without an envelope.
type tokenReply struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"`
	Username     string `json:"username,omitempty"`
	Role         string `json:"role,omitempty"`
	Group        string `json:"group,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		observability.Audit(r, "login_rejected")
		response.Error(w, r, http.StatusBadRequest, "INVALID_CREDENTIALS", "username and password are required")
		return
	}

	// Any username/password pair is accepted; "admin" gets the admin role.
	role := "editor"
	if req.Username == "admin" {
		role = "admin"
	}
	group := "workbench-dev"

	access, err := s.signer.IssueAccess(req.Username, role, group)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "SIGNING_FAILED", "could not sign access token")
		return
	}
	refresh, err := s.signer.IssueRefresh(req.Username, role, group)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "SIGNING_FAILED", "could not sign refresh token")
		return
	}

	observability.Audit(r, "login", "username", req.Username, "role", role)
	s.writeTokens(w, tokenReply{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.opts.AccessTTL.Seconds()),
		Username:     req.Username,
		Role:         role,
		Group:        group,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.failRefreshes > 0 {
		s.failRefreshes--
		s.mu.Unlock()
		observability.Audit(r, "refresh_forced_failure")
		response.Error(w, r, http.StatusServiceUnavailable, "REFRESH_UNAVAILABLE", "refresh temporarily disabled")
		return
	}
	s.mu.Unlock()

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "refreshToken is required")
		return
	}
	claims, err := s.signer.ParseRefresh(req.RefreshToken)
	if err != nil {
		observability.Audit(r, "refresh_rejected", "err", err.Error())
		response.Error(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token rejected")
		return
	}

	access, err := s.signer.IssueAccess(claims.Subject, claims.Role, claims.Group)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "SIGNING_FAILED", "could not sign access token")
		return
	}
	refresh, err := s.signer.IssueRefresh(claims.Subject, claims.Role, claims.Group)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "SIGNING_FAILED", "could not sign refresh token")
		return
	}

	observability.Audit(r, "refresh", "subject", claims.Subject)
	s.writeTokens(w, tokenReply{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.opts.AccessTTL.Seconds()),
	})
}

func (s *Server) writeTokens(w http.ResponseWriter, reply tokenReply) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	country := r.URL.Query().Get("country")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	s.mu.Lock()
	var items []domain.Specification
	for _, spec := range s.specs {
		if status != "" && spec.Status != status {
			continue
		}
		if country != "" && spec.Country != country {
			continue
		}
		items = append(items, *spec)
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	total := len(items)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	response.JSON(w, r, http.StatusOK, map[string]any{
		"items":    items[start:end],
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec domain.Specification
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil || spec.Name == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_SPECIFICATION", "a specification needs at least a name")
		return
	}
	spec.ID = uuid.NewString()
	spec.Status = domain.SpecStatusDraft
	now := time.Now().UTC()
	spec.CreatedAt = now
	spec.UpdatedAt = now

	s.mu.Lock()
	s.specs[spec.ID] = &spec
	s.mu.Unlock()

	observability.Audit(r, "specification_created", "id", spec.ID)
	response.JSON(w, r, http.StatusCreated, spec)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	spec, ok := s.specs[id]
	var copySpec domain.Specification
	if ok {
		copySpec = *spec
	}
	s.mu.Unlock()
	if !ok {
		response.Error(w, r, http.StatusNotFound, "spec_not_found", "no such specification")
		return
	}
	response.JSON(w, r, http.StatusOK, copySpec)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in domain.Specification
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_SPECIFICATION", "malformed specification payload")
		return
	}

	s.mu.Lock()
	spec, ok := s.specs[id]
	if ok {
		in.ID = spec.ID
		in.CreatedAt = spec.CreatedAt
		in.Status = spec.Status
		in.UpdatedAt = time.Now().UTC()
		s.specs[id] = &in
	}
	s.mu.Unlock()
	if !ok {
		response.Error(w, r, http.StatusNotFound, "spec_not_found", "no such specification")
		return
	}
	response.JSON(w, r, http.StatusOK, in)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	spec, ok := s.specs[id]
	var copySpec domain.Specification
	if ok {
		spec.Status = domain.SpecStatusSubmitted
		spec.UpdatedAt = time.Now().UTC()
		copySpec = *spec
	}
	s.mu.Unlock()
	if !ok {
		response.Error(w, r, http.StatusNotFound, "spec_not_found", "no such specification")
		return
	}
	observability.Audit(r, "specification_submitted", "id", id)
	response.JSON(w, r, http.StatusOK, copySpec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.specs[id]
	delete(s.specs, id)
	s.mu.Unlock()
	if !ok {
		response.Error(w, r, http.StatusNotFound, "spec_not_found", "no such specification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
