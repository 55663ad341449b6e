// Package backend is the client of the external storefront REST API.
//
// Every method maps one documented backend endpoint. Calls made on behalf of
// a logged-in visitor pass the visitor's token, which is attached as a bearer
// credential through golang.org/x/oauth2. Non-2xx responses become
// apperror values:
//
//	400/422 → ErrValidation   401 → ErrUnauthorized   403 → ErrForbidden
//	404     → ErrNotFound     409 → ErrConflict       other → ErrUnavailable
//
// Transport failures are ErrUnavailable too.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
)

// maxErrorBody bounds how much of an error response is read for its message.
const maxErrorBody = 4 << 10

// Client talks to the storefront backend.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// New creates a Client for the backend rooted at baseURL.
func New(baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parsing base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: base URL %q must be http or https", baseURL)
	}

	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string { return c.base.String() }

// RejectHandler is called when the backend answers 401 or 403 to a call
// made with token.
type RejectHandler func(ctx context.Context, status int, token string)

type rejectKey struct{}

// WithRejectHandler returns a context whose authenticated backend calls
// report token rejections to fn. This is how a session learns that its
// identity is no longer accepted, without every call site checking.
func WithRejectHandler(ctx context.Context, fn RejectHandler) context.Context {
	return context.WithValue(ctx, rejectKey{}, fn)
}

// WithoutRejectHandler returns a context whose backend calls never report
// token rejections.
func WithoutRejectHandler(ctx context.Context) context.Context {
	return context.WithValue(ctx, rejectKey{}, RejectHandler(nil))
}

func rejectHandlerFrom(ctx context.Context) RejectHandler {
	fn, _ := ctx.Value(rejectKey{}).(RejectHandler)
	return fn
}

// request describes one backend call.
type request struct {
	method      string
	path        string
	query       url.Values
	token       string
	json        any       // JSON request body
	body        io.Reader // raw request body, used with contentType
	contentType string
	// messages overrides the user-readable message per status code.
	messages map[int]string
}

// do performs the call and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, r request, out any) error {
	u := c.base.JoinPath(r.path)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	body := r.body
	contentType := r.contentType
	if r.json != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(r.json); err != nil {
			return fmt.Errorf("backend: encoding %s %s body: %w", r.method, r.path, err)
		}
		body = buf
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("backend: building %s %s: %w", r.method, r.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := auth.BearerClient(ctx, c.http, r.token).Do(req)
	if err != nil {
		c.logger.Warn("backend call failed",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		return apperror.Unavailable("storefront backend unreachable", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call",
		slog.String("method", r.method),
		slog.String("path", r.path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("authenticated", r.token != ""),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if r.token != "" && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			if fn := rejectHandlerFrom(ctx); fn != nil {
				fn(ctx, resp.StatusCode, r.token)
			}
		}
		return statusError(resp, r)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.Malformed(fmt.Sprintf("empty response from %s %s", r.method, r.path), err)
		}
		return apperror.Malformed(fmt.Sprintf("undecodable response from %s %s", r.method, r.path), err)
	}
	return nil
}

// errorBody is the error envelope of the backend (Spring's default shape
// plus the storefront's {"error": ...} variant).
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func statusError(resp *http.Response, r request) error {
	msg := r.messages[resp.StatusCode]
	if msg == "" {
		var eb errorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(data, &eb) == nil {
			msg = eb.Message
			if msg == "" {
				msg = eb.Error
			}
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("%s %s failed with status %d", r.method, r.path, resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperror.New(apperror.ErrValidation, msg)
	case http.StatusUnauthorized:
		return apperror.Unauthorized(msg)
	case http.StatusForbidden:
		return apperror.Forbidden(msg)
	case http.StatusNotFound:
		return apperror.New(apperror.ErrNotFound, msg)
	case http.StatusConflict:
		return apperror.Conflict(msg)
	default:
		return apperror.Unavailable(msg, nil)
	}
}

// requireToken guards endpoints the backend only serves to logged-in users.
func requireToken(token, action string) error {
	if token == "" {
		return apperror.Unauthorized("login required to " + action)
	}
	return nil
}

func escape(id string) string { return url.PathEscape(id) }
