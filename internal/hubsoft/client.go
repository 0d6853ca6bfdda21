// Package hubsoft is a thin typed client over the upstream HubSoft REST
// API: OAuth2 password-grant token caching, a token-bucket rate limiter,
// and the handful of endpoints the Integration Engine calls.
package hubsoft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Config holds the upstream credentials and tuning knobs.
type Config struct {
	Host         string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	RateLimitPerSecond float64
}

// Client is a process-wide value constructed once at startup and passed by
// handle to the Engine, verification use case, and admin ops — no global
// singleton.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	tokenMu       sync.Mutex
	accessToken   string
	tokenExpiresAt time.Time
	lastRefresh    time.Time

	sawSuscessTypo bool
}

const (
	tokenBufferSeconds = 300
	minRefreshInterval = 1 * time.Second
	requestTimeout     = 30 * time.Second
)

// New constructs a HubSoft client. The rate limiter is shared by every
// caller holding this Client value.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 10
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), int(cfg.RateLimitPerSecond)),
		logger:     logger,
	}
}

// RateLimitError is returned when the upstream responds 429; ResetAfter is
// best-effort parsed from Retry-After.
type RateLimitError struct {
	ResetAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("hubsoft rate limit hit, reset after %s", e.ResetAfter)
}

// UpstreamError wraps a non-2xx, non-429 HTTP response.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("hubsoft upstream error %d: %s", e.StatusCode, e.Body)
}

// accessTokenFor returns a valid bearer token, refreshing under lock when
// the cached one is within the expiry buffer. Refresh is coalesced: callers
// that arrive while another refresh is in flight simply wait for the lock
// and reuse its result.
func (c *Client) accessTokenFor(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	now := time.Now()
	if c.accessToken != "" && now.Before(c.tokenExpiresAt.Add(-tokenBufferSeconds*time.Second)) {
		return c.accessToken, nil
	}

	if since := now.Sub(c.lastRefresh); since < minRefreshInterval {
		time.Sleep(minRefreshInterval - since)
	}
	c.lastRefresh = time.Now()

	oauthCfg := oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: c.cfg.Host + "/oauth/token",
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := oauthCfg.PasswordCredentialsToken(ctx, c.cfg.Username, c.cfg.Password)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) {
			return "", &UpstreamError{StatusCode: rErr.Response.StatusCode, Body: string(rErr.Body)}
		}
		return "", fmt.Errorf("requesting hubsoft token: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("hubsoft token response missing access_token")
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(3600 * time.Second)
	}

	c.accessToken = token.AccessToken
	c.tokenExpiresAt = expiresAt
	return c.accessToken, nil
}

// InvalidateToken forces the next call to re-acquire a token, used after an
// observed 401.
func (c *Client) InvalidateToken() {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.accessToken = ""
}

// do executes an authenticated JSON request, enforcing the shared rate
// limiter and translating 429/4xx/5xx into typed errors.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := c.accessTokenFor(ctx)
	if err != nil {
		return err
	}

	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return err
		}
	}

	u := c.cfg.Host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, &reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hubsoft request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		reset := 60 * time.Second
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if secs, err := strconv.Atoi(retryAfter); err == nil {
				reset = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{ResetAfter: reset}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.InvalidateToken()
		return &UpstreamError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{StatusCode: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusOK accepts both the documented "success" and the observed upstream
// typo "suscess", logging the divergence once per process lifetime the
// first time it's seen.
func (c *Client) statusOK(status string) bool {
	if status == "suscess" && !c.sawSuscessTypo {
		c.sawSuscessTypo = true
		c.logger.Warn("hubsoft returned the 'suscess' status typo, treating as success")
	}
	return status == "success" || status == "suscess"
}
