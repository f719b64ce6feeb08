// Package registry is the workbench's client for the specification registry
// API. Every call goes through the session manager's authorized-request
// wrapper, so token attachment, the expiry gate and the refresh-and-retry
// path are handled in one place.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/einvoice-tools/registry-workbench/internal/domain"
	"github.com/einvoice-tools/registry-workbench/internal/session"
)

// APIError is a non-auth rejection from the registry. Auth failures never
// reach this type; they surface as the session package's errors.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("registry: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("registry: %s (http %d)", e.Message, e.StatusCode)
}

type Client struct {
	sessions *session.Manager
	baseURL  string
	logger   *slog.Logger
}

func NewClient(sessions *session.Manager, baseURL string, logger *slog.Logger) *Client {
	return &Client{sessions: sessions, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

type ListFilter struct {
	Status   string
	Country  string
	Page     int
	PageSize int
}

type ListResult struct {
	Items    []domain.Specification `json:"items"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"pageSize"`
}

func (c *Client) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Country != "" {
		q.Set("country", f.Country)
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(f.PageSize))
	}
	path := "/api/specifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out ListResult
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, id string) (*domain.Specification, error) {
	var out domain.Specification
	if err := c.do(ctx, http.MethodGet, "/api/specifications/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Create(ctx context.Context, spec *domain.Specification) (*domain.Specification, error) {
	var out domain.Specification
	if err := c.do(ctx, http.MethodPost, "/api/specifications", spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Update(ctx context.Context, spec *domain.Specification) (*domain.Specification, error) {
	var out domain.Specification
	if err := c.do(ctx, http.MethodPut, "/api/specifications/"+url.PathEscape(spec.ID), spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit moves a draft specification into the registry's review queue.
func (c *Client) Submit(ctx context.Context, id string) (*domain.Specification, error) {
	var out domain.Specification
	if err := c.do(ctx, http.MethodPost, "/api/specifications/"+url.PathEscape(id)+"/submit", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/specifications/"+url.PathEscape(id), nil, nil)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	resp, err := c.sessions.AuthorizedRequest(ctx, method, c.baseURL+path, body, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp.StatusCode, raw)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("registry response carries no data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func (c *Client) decodeError(status int, raw []byte) error {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		if env.Error.Message != "" {
			apiErr.Message = env.Error.Message
		}
	}
	c.logger.Warn("registry request rejected", "status", status, "code", apiErr.Code)
	return apiErr
}
