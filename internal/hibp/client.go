package hibp

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

	"leakfinder/internal/config"
	"leakfinder/internal/upstream"

	"github.com/pterm/pterm"
)

const (
	DefaultBaseURL = "https://haveibeenpwned.com/api/v3"
	LogoBaseURL    = "https://haveibeenpwned.com/Content/Images/PwnedLogos/"

	provider     = "hibp"
	maxBodyBytes = 8 << 20
)

// Options configures a Client. Zero values fall back to the documented defaults.
type Options struct {
	APIKey     string
	UserAgent  string
	BaseURL    string
	Delay      time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Result carries the normalized breaches plus what the upstream reported.
type Result struct {
	Breaches []Breach
	Status   int
	Returned int
	Demo     bool
}

// Client queries the breached-account endpoint.
type Client struct {
	opts   Options
	http   *http.Client
	logger *pterm.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewClient(opts Options, logger *pterm.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "DarkWebLeakFinder/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, http: hc, logger: logger, sleep: sleepCtx}
}

// NewClientFromConfig reads credentials and tunables from cfg.
func NewClientFromConfig(cfg *config.Accessor, logger *pterm.Logger) *Client {
	return NewClient(Options{
		APIKey:    cfg.String(config.HIBPAPIKey),
		UserAgent: cfg.String(config.HIBPUserAgent),
		Delay:     cfg.Millis(config.HIBPRequestDelay),
		Timeout:   cfg.Seconds(config.HIBPTimeout),
	}, logger)
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.opts.APIKey != ""
}

// BreachesForAccount looks up every breach an address appears in.
// Without an API key it returns an empty demo result and performs no request.
func (c *Client) BreachesForAccount(ctx context.Context, email string) (*Result, error) {
	account := strings.ToLower(strings.TrimSpace(email))
	if !c.Configured() {
		c.logger.Debug("HIBP key not configured, returning demo result")
		return &Result{Demo: true}, nil
	}

	endpoint := fmt.Sprintf("%s/breachedaccount/%s?truncateResponse=false&includeUnverified=true",
		strings.TrimRight(c.opts.BaseURL, "/"), url.PathEscape(account))

	if err := c.sleep(ctx, c.opts.Delay); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build hibp request: %w", err)
	}
	req.Header.Set("hibp-api-key", c.opts.APIKey)
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &upstream.NetworkError{Provider: provider, Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("HIBP response",
		c.logger.Args("status", resp.StatusCode, "url", c.redactedEndpoint(), "content_type", resp.Header.Get("Content-Type")))

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return &Result{Status: resp.StatusCode}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &upstream.AuthError{Provider: provider, StatusCode: resp.StatusCode}
	case http.StatusTooManyRequests:
		return nil, &upstream.RateLimitError{Provider: provider, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	default:
		return nil, &upstream.StatusError{Provider: provider, StatusCode: resp.StatusCode}
	}

	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "json") {
		c.logger.Warn("HIBP returned a non-JSON body, treating as no data",
			c.logger.Args("content_type", resp.Header.Get("Content-Type")))
		return &Result{Status: resp.StatusCode}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &upstream.NetworkError{Provider: provider, Attempts: 1, Err: err}
	}

	raw, ok := decodeList(body)
	if !ok {
		c.logger.Warn("HIBP body is not a list, treating as no data", c.logger.Args("bytes", len(body)))
		return &Result{Status: resp.StatusCode}, nil
	}

	out := &Result{Status: resp.StatusCode, Returned: len(raw), Breaches: make([]Breach, 0, len(raw))}
	dropped := 0
	for _, r := range raw {
		b, ok := Normalize(r)
		if !ok {
			dropped++
			continue
		}
		out.Breaches = append(out.Breaches, b)
	}
	if dropped > 0 {
		c.logger.Debug("Dropped nameless HIBP records", c.logger.Args("dropped", dropped))
	}
	return out, nil
}

// redactedEndpoint is the lookup URL with the account replaced, for logs.
func (c *Client) redactedEndpoint() string {
	return strings.TrimRight(c.opts.BaseURL, "/") + "/breachedaccount/<redacted>"
}

func decodeList(body []byte) ([]map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, false
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}

// LogoURL turns a stored logo reference into an absolute URL.
func LogoURL(logo string) string {
	if logo == "" || strings.HasPrefix(logo, "http://") || strings.HasPrefix(logo, "https://") {
		return logo
	}
	return LogoBaseURL + strings.TrimLeft(logo, "/")
}

func retryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
