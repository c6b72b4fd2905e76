package upstream

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrNotConfigured is wrapped by ConfigError when a provider credential is missing.
var ErrNotConfigured = errors.New("credential not configured")

// ConfigError means the call could not be attempted because configuration is missing.
type ConfigError struct {
	Provider string
	Key      string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s is not set: %v", e.Provider, e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AuthError means the upstream rejected the configured credentials.
type AuthError struct {
	Provider   string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed (status %d)", e.Provider, e.StatusCode)
}

// RateLimitError means the upstream throttled the request.
// RetryAfter is zero when the upstream did not say.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited, try again later", e.Provider)
}

// StatusError is any other non-success HTTP status.
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.StatusCode)
}

// NetworkError wraps transport failures once the retry budget is spent.
type NetworkError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ResolveError wraps a DNS failure for a user supplied host.
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("could not resolve %q: %v", e.Host, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// RedactURL hides credential query parameters before a URL reaches the log.
func RedactURL(raw string, params ...string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	changed := false
	for _, p := range params {
		if q.Has(p) {
			q.Set(p, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
