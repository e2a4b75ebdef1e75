// internal/repository/client.go
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"auth-flow-server/internal/metrics"
	"auth-flow-server/pkg/errors"
)

const (
	DefaultTimeout  = 10 * time.Second
	maxErrorPayload = 4 << 10
)

var errNotFound = fmt.Errorf("not found")

// ClientConfig is shared by every collaborator client.
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	Attempts     int
	RequireHTTPS bool
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

type client struct {
	service  string
	base     *url.URL
	apiKey   string
	timeout  time.Duration
	attempts int
	http     *http.Client
	logger   *zap.Logger
}

func newClient(service string, cfg ClientConfig) (*client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", service, cfg.BaseURL)
	}
	if cfg.RequireHTTPS && base.Scheme != "https" {
		return nil, fmt.Errorf("%s: base url must use https", service)
	}
	c := &client{
		service:  service,
		base:     base,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		attempts: cfg.Attempts,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.attempts <= 0 {
		c.attempts = DefaultAttempts
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   interface{}
	form   url.Values
	// token is fetched on every attempt so a refreshed credential is used.
	token func(ctx context.Context) (string, error)
}

// do sends req with retries and decodes a successful body into out.
func (c *client) do(ctx context.Context, req request, out interface{}) error {
	return withRetry(ctx, c.service+" "+req.op, c.attempts, func() error {
		return c.once(ctx, req, out)
	})
}

func (c *client) once(ctx context.Context, req request, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := c.service + " " + req.op
	var body io.Reader
	contentType := ""
	switch {
	case req.form != nil:
		body = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.body != nil:
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	u := *c.base
	u.Path = c.base.Path + req.path
	if req.query != nil {
		u.RawQuery = req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}
	if req.token != nil {
		token, err := req.token(ctx)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(c.service, "error").Inc()
		if ctx.Err() != nil {
			return errors.FromContext(op, ctx.Err())
		}
		return errors.NewNetworkError(op, err)
	}
	defer resp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues(c.service, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	}

	detail := readErrorDetail(resp.Body)
	c.logger.Debug("upstream request failed",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.String("detail", detail))
	return statusError(op, resp.StatusCode, detail, req.token != nil)
}

// statusError maps an upstream status to the error taxonomy. A 401 on a
// bearer request means the session is no longer accepted.
func statusError(op string, status int, detail string, bearer bool) error {
	switch {
	case status == http.StatusBadRequest:
		if detail == "" {
			detail = "request rejected"
		}
		return errors.NewValidationError(detail)
	case status == http.StatusUnauthorized:
		if bearer {
			return errors.NewSessionExpiredError()
		}
		return errors.NewAuthenticationError(op + ": unauthorized")
	case status == http.StatusForbidden:
		return errors.NewAuthorizationError(op + ": forbidden")
	case status == http.StatusNotFound:
		return errNotFound
	case status == http.StatusConflict:
		return errors.NewConflictError(detail)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return errors.NewTimeoutError(op)
	case status == http.StatusTooManyRequests, status >= 500:
		return errors.NewNetworkError(op, fmt.Errorf("status %d", status))
	}
	return errors.NewBadRequestError(fmt.Sprintf("%s: unexpected status %d", op, status))
}

// readErrorDetail pulls a message out of a JSON error body, accepting both
// {"message": "..."} and {"error": {"message": "..."}}.
func readErrorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorPayload))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var flat struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &flat) == nil && flat.Message != "" {
		return flat.Message
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &nested) == nil {
		return nested.Error.Message
	}
	return ""
}
