package shodan

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"leakfinder/internal/upstream"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	addrs []net.IPAddr
	err   error
	calls int
}

func (f *fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	f.calls++
	return f.addrs, f.err
}

func newTestClient(t *testing.T, retries int, handler http.HandlerFunc) (*Client, *[]time.Duration, *fakeResolver) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	res := &fakeResolver{addrs: []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}}
	c := NewClient(Options{
		APIKey:   "secret",
		BaseURL:  srv.URL,
		Retries:  retries,
		Resolver: res,
	}, pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace))

	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, &waits, res
}

func TestFetchHost_MissingKey(t *testing.T) {
	c := NewClient(Options{}, pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace))
	_, err := c.FetchHost(context.Background(), "8.8.8.8")

	var ce *upstream.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.ErrorIs(t, err, upstream.ErrNotConfigured)
}

func TestFetchHost_IPLiteralSkipsDNS(t *testing.T) {
	c, _, res := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shodan/host/8.8.8.8", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		w.Write([]byte(`{"ip_str":"8.8.8.8","hostnames":["dns.google"],"ports":[443,53,53],"org":"Google LLC","os":null,
			"last_update":"2024-05-01T10:11:12.123456"}`))
	})

	host, err := c.FetchHost(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	require.NotNil(t, host)
	assert.Equal(t, 0, res.calls)
	assert.Equal(t, "8.8.8.8", host.IP)
	assert.Equal(t, []string{"dns.google"}, host.Hostnames)
	assert.Len(t, host.Ports, 3)
	assert.Equal(t, "Google LLC", host.Org)
	assert.Equal(t, "", host.OS)
	require.NotNil(t, host.LastUpdate)
	assert.Equal(t, 2024, host.LastUpdate.Year())
}

func TestFetchHost_ResolvesHostname(t *testing.T) {
	c, _, res := newTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shodan/host/93.184.216.34", r.URL.Path)
		w.Write([]byte(`{"ip":1572395042}`))
	})

	host, err := c.FetchHost(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, res.calls)
	assert.Equal(t, "93.184.216.34", host.IP, "ip_str synthesized from numeric ip")
	assert.Contains(t, string(host.Raw), `"ip_str":"93.184.216.34"`)
}

func TestFetchHost_DNSFailureIsTyped(t *testing.T) {
	c, _, res := newTestClient(t, 0, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	res.err = &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}

	_, err := c.FetchHost(context.Background(), "nope.invalid")
	var re *upstream.ResolveError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "nope.invalid", re.Host)
}

func TestFetchHost_NotFoundIsAbsent(t *testing.T) {
	c, waits, _ := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	host, err := c.FetchHost(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Nil(t, host)
	assert.Empty(t, *waits)
}

func TestFetchHost_RateLimitBacksOffExponentially(t *testing.T) {
	var hits int32
	c, waits, _ := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ip_str":"8.8.8.8"}`))
	})

	host, err := c.FetchHost(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "8.8.8.8", host.IP)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestFetchHost_RateLimitExhausted(t *testing.T) {
	var hits int32
	c, _, _ := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchHost(context.Background(), "8.8.8.8")
	var rl *upstream.RateLimitError
	assert.True(t, errors.As(err, &rl))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchHost_NetworkErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Options{APIKey: "secret", BaseURL: url, Retries: 2}, pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace))
	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := c.FetchHost(context.Background(), "8.8.8.8")
	var ne *upstream.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, 3, ne.Attempts)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, waits)
	assert.NotContains(t, err.Error(), "secret")
}

func TestFetchHost_AuthErrorNotRetried(t *testing.T) {
	var hits int32
	c, _, _ := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.FetchHost(context.Background(), "8.8.8.8")
	var ae *upstream.AuthError
	assert.True(t, errors.As(err, &ae))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
