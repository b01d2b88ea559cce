// Package httpclient implements the authentication-aware request pipeline:
// every outbound portal call carries the current access token, and a 401 on
// an authenticated call triggers at most one credential renewal followed by
// at most one retry of the original request.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/metrics"
)

const (
	refreshPath    = "/api/auth/refresh"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
)

// Hooks are the session manager's entry points invoked around a renewal.
// They fold the renewal outcome into the state machine and the credential
// store; the pipeline itself never touches either directly.
type Hooks struct {
	// OnRenewed runs after a successful renewal, with the token pair
	// already installed in the TokenSource.
	OnRenewed func(access, refresh string)
	// OnAuthExpired runs when a 401 cannot be recovered: no refresh token,
	// or the renewal call itself was rejected.
	OnAuthExpired func()
}

// Client is the portal HTTP client. Construct once, share everywhere.
type Client struct {
	baseURL string
	hc      *http.Client
	tokens  *TokenSource
	hooks   Hooks
	log     zerolog.Logger
}

// Option customises a Client at construction time.
type Option func(*Client)

// WithHTTPClient substitutes the underlying transport (tests, proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New creates a Client rooted at baseURL. The zero Hooks value is valid;
// SetHooks installs the session manager's callbacks once it exists.
func New(baseURL string, tokens *TokenSource, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHooks installs the renewal callbacks. Called once during wiring, before
// any request is issued.
func (c *Client) SetHooks(h Hooks) {
	c.hooks = h
}

// Tokens exposes the shared token source for the wiring layer.
func (c *Client) Tokens() *TokenSource {
	return c.tokens
}

// Do issues one JSON request against the portal and decodes a 2xx body into
// out (ignored when out is nil). On a 401 carrying a bearer it attempts the
// one-shot renewal described in the package comment. Every other failure
// propagates unchanged: no blanket retry.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	start := time.Now()
	err := c.do(ctx, method, path, body, out)
	metrics.APIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	bearer := c.tokens.Access()
	status, respBody, err := c.issue(ctx, method, path, payload, bearer)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(method, "0").Inc()
		return fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
	}

	// Renewal applies only to authenticated calls that were rejected, and
	// never to the renewal endpoint itself. The retry budget is one per
	// call: this branch runs straight-line, so a 401 on the re-issued
	// request cannot re-enter it.
	if status == http.StatusUnauthorized && bearer != "" && path != refreshPath {
		original := &domain.APIError{Status: status, Message: extractMessage(respBody)}

		refresh := c.tokens.Refresh()
		if refresh == "" {
			c.expire()
			metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
			return original
		}

		access, newRefresh, renewErr := c.renew(ctx, refresh)
		if renewErr != nil {
			c.log.Warn().Err(renewErr).Str("path", path).Msg("token renewal failed")
			metrics.TokenRenewalsTotal.WithLabelValues("failure").Inc()
			c.expire()
			metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
			return original
		}

		metrics.TokenRenewalsTotal.WithLabelValues("success").Inc()
		c.tokens.Set(access, newRefresh)
		if c.hooks.OnRenewed != nil {
			c.hooks.OnRenewed(access, newRefresh)
		}
		c.log.Debug().Str("path", path).Msg("access token renewed, retrying request once")

		status, respBody, err = c.issue(ctx, method, path, payload, access)
		if err != nil {
			metrics.APIRequestsTotal.WithLabelValues(method, "0").Inc()
			return fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
		}
		// A second 401 falls through to the generic handling below: the
		// renewed token was rejected too, and the retry budget is spent.
	}

	metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()

	if status < 200 || status >= 300 {
		apiErr := &domain.APIError{Status: status, Message: extractMessage(respBody)}
		if status == http.StatusUnauthorized && bearer != "" {
			c.expire()
		}
		return apiErr
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// issue performs a single HTTP round trip and drains the body.
func (c *Client) issue(ctx context.Context, method, path string, payload []byte, bearer string) (int, []byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// renew calls the token-renewal endpoint exactly once. It bypasses Do so it
// can never recurse into the retry path.
func (c *Client) renew(ctx context.Context, refresh string) (access, newRefresh string, err error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return "", "", err
	}

	status, body, err := c.issue(ctx, http.MethodPost, refreshPath, payload, "")
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
	}
	if status < 200 || status >= 300 {
		return "", "", &domain.APIError{Status: status, Message: extractMessage(body)}
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", fmt.Errorf("decode refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", "", &domain.APIError{Status: status, Message: "refresh response missing access token"}
	}

	// Carry the old refresh token over when the server does not rotate it.
	if parsed.RefreshToken == "" {
		parsed.RefreshToken = refresh
	}
	return parsed.AccessToken, parsed.RefreshToken, nil
}

func (c *Client) expire() {
	if c.hooks.OnAuthExpired != nil {
		c.hooks.OnAuthExpired()
	}
}

// extractMessage pulls a human-readable message out of the portal's error
// envelope. The production backend answers {"detail": ...}; the stub and
// some proxies answer {"error": ...} or {"message": ...}.
func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Detail) > 0 {
		var s string
		if err := json.Unmarshal(envelope.Detail, &s); err == nil {
			return s
		}
		return string(envelope.Detail)
	}
	if envelope.Error != "" {
		return envelope.Error
	}
	return envelope.Message
}
