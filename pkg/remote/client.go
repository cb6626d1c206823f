package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/docketworks/docketsync/pkg/logger"
)

const (
	// DefaultBaseURL is the production endpoint of the remote service
	DefaultBaseURL = "https://api.workhub.io/v1"

	// DefaultTimeout is the per-request HTTP timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (50MB)
	MaxResponseSize = 50 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "docketsync/1.0"

	// DefaultMaxAttempts is the total attempt budget for transient
	// failures (network errors and 5xx responses)
	DefaultMaxAttempts = 3

	// DefaultRetryBaseDelay is the linear backoff unit between
	// transient retries: delay = base x attempt number
	DefaultRetryBaseDelay = 500 * time.Millisecond

	// maxRateLimitDelay caps the default wait computed from the
	// consecutive-429 counter when no Retry-After header is present
	maxRateLimitDelay = 60 * time.Second

	// pageSize is the pagination window for list endpoints
	pageSize = 100
)

// Client is the authenticated HTTP client for the remote service. It is
// safe for concurrent use; the rate-limit resume gate is shared by all
// callers.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	maxAttempts    int
	retryBaseDelay time.Duration

	mu              sync.Mutex
	accessToken     string
	refreshToken    string
	consecutive429  int
	resumeNotBefore time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the service endpoint (tests, proxies).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithRefreshToken enables a one-shot token refresh on 401 responses.
func WithRefreshToken(token string) ClientOption {
	return func(c *Client) {
		c.refreshToken = token
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithRetryPolicy overrides the transient retry budget and backoff unit.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			c.retryBaseDelay = baseDelay
		}
	}
}

// NewClient creates a client for the remote service.
func NewClient(accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: DefaultTimeout},
		baseURL:        DefaultBaseURL,
		maxAttempts:    DefaultMaxAttempts,
		retryBaseDelay: DefaultRetryBaseDelay,
		accessToken:    accessToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// linearBackOff implements backoff.BackOff with delay = base x attempt.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// authenticatedRequest performs a GET against the service with the full
// recovery ladder: bearer credential attachment, one token refresh on
// 401, one wait-and-retry on 429, and a bounded linear-backoff retry
// for transient failures.
func (c *Client) authenticatedRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	operation := func() ([]byte, error) {
		return c.attempt(ctx, path, query)
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(&linearBackOff{base: c.retryBaseDelay}),
		backoff.WithMaxTries(uint(c.maxAttempts))) //nolint:gosec // bounded small int
}

// attempt performs one logical request. 401-refresh and 429-wait cycles
// happen inside the attempt and do not consume the transient budget.
func (c *Client) attempt(ctx context.Context, path string, query url.Values) ([]byte, error) {
	refreshed := false
	rateLimited := false

	for {
		if err := c.waitForResume(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		requestURL := c.baseURL + path
		if len(query) > 0 {
			requestURL += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.currentAccessToken())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Timeouts and connection losses are transient; the
			// backoff driver retries them.
			return nil, fmt.Errorf("request failed: %w", err)
		}

		body, readErr := readBody(resp)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, fmt.Errorf("failed to read response body: %w", readErr)
			}
			c.resetRateLimit()
			return body, nil

		case resp.StatusCode == http.StatusUnauthorized:
			if !refreshed && c.hasRefreshToken() {
				if err := c.refreshAccessToken(ctx); err != nil {
					return nil, backoff.Permanent(fmt.Errorf("%w: token refresh failed: %v", ErrAuth, err))
				}
				refreshed = true
				continue
			}
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrAuth, resp.Status))

		case resp.StatusCode == http.StatusTooManyRequests:
			if rateLimited {
				return nil, backoff.Permanent(fmt.Errorf("%w after retry: %s", ErrRateLimited, requestURL))
			}
			delay := c.noteRateLimited(resp.Header.Get("Retry-After"))
			logger.Warnf("Rate limited by remote service, resuming in %s", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, backoff.Permanent(err)
			}
			rateLimited = true
			continue

		case resp.StatusCode >= 500:
			// Transient server failure; retried by the backoff driver.
			return nil, NewHTTPError(resp.StatusCode, requestURL, resp.Status)

		default:
			return nil, backoff.Permanent(NewHTTPError(resp.StatusCode, requestURL, string(body)))
		}
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

func (c *Client) currentAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) hasRefreshToken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken != ""
}

// waitForResume blocks until the shared resume-not-before gate opens.
// Any concurrent caller that observed a 429 pushes the gate forward for
// everyone.
func (c *Client) waitForResume(ctx context.Context) error {
	c.mu.Lock()
	wait := time.Until(c.resumeNotBefore)
	c.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	return sleepCtx(ctx, wait)
}

// noteRateLimited records a 429 and returns how long to wait: the
// Retry-After header when present, otherwise an exponentially growing
// default driven by the consecutive-429 counter, capped at 60s.
func (c *Client) noteRateLimited(retryAfter string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutive429++
	var delay time.Duration
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
		delay = time.Duration(secs) * time.Second
	} else {
		delay = time.Second << (c.consecutive429 - 1)
		if delay > maxRateLimitDelay {
			delay = maxRateLimitDelay
		}
	}

	resume := time.Now().Add(delay)
	if resume.After(c.resumeNotBefore) {
		c.resumeNotBefore = resume
	}
	return delay
}

func (c *Client) resetRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutive429 = 0
}

// Consecutive429 reports the current consecutive rate-limit count.
func (c *Client) Consecutive429() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutive429
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// refreshAccessToken exchanges the refresh token for a new access token.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()

	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return NewHTTPError(resp.StatusCode, c.baseURL+"/oauth/token", resp.Status)
	}

	body, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("failed to read refresh response: %w", err)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if tokens.AccessToken == "" {
		return fmt.Errorf("refresh response carried no access token")
	}

	c.mu.Lock()
	c.accessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		c.refreshToken = tokens.RefreshToken
	}
	c.mu.Unlock()

	logger.Infof("Access token refreshed")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
