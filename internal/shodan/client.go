package shodan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leakfinder/internal/config"
	"leakfinder/internal/upstream"

	"github.com/pterm/pterm"
)

const (
	DefaultBaseURL = "https://api.shodan.io"

	provider     = "shodan"
	maxBodyBytes = 16 << 20
)

// Host is the normalized host snapshot. Ports keep the upstream order; the
// reconciliation layer decides how to store them.
type Host struct {
	IP         string          `json:"ip_str"`
	Hostnames  []string        `json:"hostnames"`
	Ports      []any           `json:"ports"`
	Org        string          `json:"org"`
	OS         string          `json:"os"`
	LastUpdate *time.Time      `json:"last_update,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// Resolver is the subset of net.Resolver the client needs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Options struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Retries     int
	BackoffBase time.Duration
	NetworkWait time.Duration
	HTTPClient  *http.Client
	Resolver    Resolver
}

// Client looks up a single host.
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
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.NetworkWait <= 0 {
		opts.NetworkWait = time.Second
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, http: hc, logger: logger, sleep: sleepCtx}
}

func NewClientFromConfig(cfg *config.Accessor, logger *pterm.Logger) *Client {
	return NewClient(Options{
		APIKey:  cfg.String(config.ShodanAPIKey),
		Timeout: cfg.Seconds(config.ShodanTimeout),
		Retries: cfg.Int(config.ShodanRetries),
	}, logger)
}

// FetchHost returns the host snapshot for a hostname or IP literal.
// A nil host with a nil error means the upstream has no data for it.
func (c *Client) FetchHost(ctx context.Context, target string) (*Host, error) {
	if c.opts.APIKey == "" {
		return nil, &upstream.ConfigError{Provider: provider, Key: string(config.ShodanAPIKey), Err: upstream.ErrNotConfigured}
	}

	ip, err := c.resolve(ctx, strings.TrimSpace(target))
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/shodan/host/%s?key=%s",
		strings.TrimRight(c.opts.BaseURL, "/"), url.PathEscape(ip), url.QueryEscape(c.opts.APIKey))
	logURL := upstream.RedactURL(endpoint, "key")

	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		host, retryable, err := c.do(ctx, endpoint)
		if err == nil {
			return host, nil
		}
		lastErr = err
		if !retryable || attempt == c.opts.Retries {
			break
		}

		wait := c.opts.NetworkWait
		var rl *upstream.RateLimitError
		if errors.As(err, &rl) {
			wait = c.opts.BackoffBase << attempt
		}
		c.logger.Warn("Shodan request failed, retrying",
			c.logger.Args("url", logURL, "attempt", attempt+1, "wait", wait.String(), "error", err))
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	var rl *upstream.RateLimitError
	if errors.As(lastErr, &rl) {
		return nil, lastErr
	}
	var ne *upstream.NetworkError
	if errors.As(lastErr, &ne) {
		ne.Attempts = c.opts.Retries + 1
		return nil, ne
	}
	return nil, lastErr
}

func (c *Client) resolve(ctx context.Context, target string) (string, error) {
	if target == "" {
		return "", &upstream.ResolveError{Host: target, Err: errors.New("empty target")}
	}
	if ip := net.ParseIP(target); ip != nil {
		return ip.String(), nil
	}

	addrs, err := c.opts.Resolver.LookupIPAddr(ctx, target)
	if err != nil {
		return "", &upstream.ResolveError{Host: target, Err: err}
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	if len(addrs) == 0 {
		return "", &upstream.ResolveError{Host: target, Err: errors.New("no addresses")}
	}
	return addrs[0].IP.String(), nil
}

// do performs one attempt. The bool reports whether the failure may be retried.
func (c *Client) do(ctx context.Context, endpoint string) (*Host, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build shodan request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = upstream.RedactURL(uerr.URL, "key")
		}
		return nil, true, &upstream.NetworkError{Provider: provider, Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, &upstream.RateLimitError{Provider: provider}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, &upstream.AuthError{Provider: provider, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, false, &upstream.StatusError{Provider: provider, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, &upstream.NetworkError{Provider: provider, Attempts: 1, Err: err}
	}
	host, err := decodeHost(body)
	if err != nil {
		return nil, false, fmt.Errorf("decode shodan response: %w", err)
	}
	return host, false, nil
}

func decodeHost(body []byte) (*Host, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	h := &Host{Raw: json.RawMessage(body)}

	if s, ok := raw["ip_str"].(string); ok && s != "" {
		h.IP = s
	} else if n, ok := raw["ip"].(json.Number); ok {
		h.IP = ipFromNumber(n)
		raw["ip_str"] = h.IP
		if enriched, err := json.Marshal(raw); err == nil {
			h.Raw = enriched
		}
	} else if s, ok := raw["ip"].(string); ok {
		h.IP = s
	}

	if list, ok := raw["hostnames"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				h.Hostnames = append(h.Hostnames, s)
			}
		}
	}
	if list, ok := raw["ports"].([]any); ok {
		h.Ports = list
	}
	h.Org, _ = raw["org"].(string)
	h.OS, _ = raw["os"].(string)

	if s, ok := raw["last_update"].(string); ok {
		if ts, ok := parseTimestamp(s); ok {
			h.LastUpdate = &ts
		}
	}
	return h, nil
}

func ipFromNumber(n json.Number) string {
	v, err := n.Int64()
	if err != nil || v < 0 || v > 0xFFFFFFFF {
		return n.String()
	}
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).String()
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
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
