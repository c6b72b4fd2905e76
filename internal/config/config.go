// MIT License
//
// Copyright (c) 2026 Kolin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

// Key names one configuration value. Only the keys declared below exist.
type Key string

const (
	HIBPAPIKey        Key = "HIBP_API_KEY"
	HIBPUserAgent     Key = "HIBP_USER_AGENT"
	HIBPRequestDelay  Key = "HIBP_REQUEST_DELAY_MS"
	HIBPTimeout       Key = "HIBP_TIMEOUT_SECONDS"
	ShodanAPIKey      Key = "SHODAN_API_KEY"
	ShodanTimeout     Key = "SHODAN_TIMEOUT_SECONDS"
	ShodanRetries     Key = "SHODAN_RETRIES"
	TickerTimeout     Key = "SEC_TICKER_TIMEOUT_SECONDS"
	TickerUserAgent   Key = "SEC_TICKER_USER_AGENT"
	CloudflareToken   Key = "CLOUDFLARE_RADAR_TOKEN"
	ThreatmapProvider Key = "THREATMAP_PROVIDER"
	ThreatmapCacheTTL Key = "THREATMAP_CACHE_SECONDS"
	ThreatmapLimit    Key = "THREATMAP_POINT_LIMIT"
	ThreatmapRefresh  Key = "THREATMAP_AUTO_REFRESH_MS"
	SQLitePath        Key = "SQLITE_PATH"
	ListenAddr        Key = "LISTEN_ADDR"
	LogLevel          Key = "LOG_LEVEL"
	RedisAddr         Key = "REDIS_ADDR"
	GeoIPCityPath     Key = "GEOIP_CITY_PATH"
	GeoIPCountryPath  Key = "GEOIP_COUNTRY_PATH"
	GeoIPASNPath      Key = "GEOIP_ASN_PATH"
	HostRetentionDays Key = "HOST_RETENTION_DAYS"
	CleanupTime       Key = "DB_CLEANUP_TIME"
	VacuumEnabled     Key = "DB_VACUUM_ENABLED"
)

// OverlayEnv points at an optional YAML file layered under the environment.
const OverlayEnv = "LEAKFINDER_CONFIG"

var ErrUnknownKey = errors.New("unknown configuration key")

type entry struct {
	def     string
	aliases []string
}

var known = map[Key]entry{
	HIBPAPIKey:        {},
	HIBPUserAgent:     {def: "DarkWebLeakFinder/1.0"},
	HIBPRequestDelay:  {def: "1600"},
	HIBPTimeout:       {def: "20"},
	ShodanAPIKey:      {},
	ShodanTimeout:     {def: "10"},
	ShodanRetries:     {def: "2"},
	TickerTimeout:     {def: "8"},
	TickerUserAgent:   {def: "DarkWebLeakFinder/1.0 (+ticker)"},
	CloudflareToken:   {aliases: []string{"CLOUDFLARE_API_TOKEN"}},
	ThreatmapProvider: {def: "cloudflare"},
	ThreatmapCacheTTL: {def: "300"},
	ThreatmapLimit:    {def: "15"},
	ThreatmapRefresh:  {def: "0"},
	SQLitePath:        {def: "leakfinder.db"},
	ListenAddr:        {def: ":8080"},
	LogLevel:          {def: "info"},
	RedisAddr:         {},
	GeoIPCityPath:     {},
	GeoIPCountryPath:  {},
	GeoIPASNPath:      {},
	HostRetentionDays: {def: "0"},
	CleanupTime:       {def: "02:00"},
	VacuumEnabled:     {def: "false"},
}

// Keys returns every declared key.
func Keys() []Key {
	keys := make([]Key, 0, len(known))
	for k := range known {
		keys = append(keys, k)
	}
	return keys
}

// Accessor resolves configuration from the environment, then the overlay file, then defaults.
type Accessor struct {
	mu          sync.RWMutex
	overlay     map[string]string
	overlayPath string
	lookupEnv   func(string) (string, bool)
	logger      *pterm.Logger
}

// New builds an accessor. An empty overlayPath disables the YAML layer; a missing file is not an error.
func New(overlayPath string, logger *pterm.Logger) (*Accessor, error) {
	a := &Accessor{
		overlay:     map[string]string{},
		overlayPath: overlayPath,
		lookupEnv:   os.LookupEnv,
		logger:      logger,
	}
	if err := a.Reload(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewFromMap is used by tests and callers that already hold their values.
// Values in m shadow the environment completely.
func NewFromMap(m map[string]string, logger *pterm.Logger) *Accessor {
	return &Accessor{
		overlay: map[string]string{},
		lookupEnv: func(k string) (string, bool) {
			v, ok := m[k]
			return v, ok
		},
		logger: logger,
	}
}

// OverlayPath returns the YAML overlay path, empty if none.
func (a *Accessor) OverlayPath() string { return a.overlayPath }

// Reload re-reads the overlay file.
func (a *Accessor) Reload() error {
	if a.overlayPath == "" {
		return nil
	}

	data, err := os.ReadFile(a.overlayPath)
	if errors.Is(err, os.ErrNotExist) {
		a.logger.Debug("Config overlay not found, using environment and defaults", a.logger.Args("path", a.overlayPath))
		a.setOverlay(map[string]string{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config overlay: %w", err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config overlay %s: %w", a.overlayPath, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		name := strings.ToUpper(strings.TrimSpace(k))
		if _, ok := known[Key(name)]; !ok {
			a.logger.Warn("Ignoring unknown key in config overlay", a.logger.Args("key", k))
			continue
		}
		if v == nil {
			continue
		}
		values[name] = fmt.Sprint(v)
	}
	a.setOverlay(values)
	a.logger.Debug("Config overlay loaded", a.logger.Args("path", a.overlayPath, "keys", len(values)))
	return nil
}

func (a *Accessor) setOverlay(values map[string]string) {
	a.mu.Lock()
	a.overlay = values
	a.mu.Unlock()
}

// Lookup returns the resolved value of k, or ErrUnknownKey.
func (a *Accessor) Lookup(k Key) (string, error) {
	e, ok := known[k]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, k)
	}

	for _, name := range append([]string{string(k)}, e.aliases...) {
		if v, ok := a.lookupEnv(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}

	a.mu.RLock()
	v, ok := a.overlay[string(k)]
	a.mu.RUnlock()
	if ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	return e.def, nil
}

// String returns the value of k. It panics on an undeclared key.
func (a *Accessor) String(k Key) string {
	v, err := a.Lookup(k)
	if err != nil {
		panic(err)
	}
	return v
}

// Int returns k as an integer, falling back to the key default if the value does not parse.
func (a *Accessor) Int(k Key) int {
	v := a.String(k)
	n, err := strconv.Atoi(v)
	if err == nil {
		return n
	}
	def, _ := strconv.Atoi(known[k].def)
	a.logger.Warn("Invalid integer configuration value, using default",
		a.logger.Args("key", string(k), "value", v, "default", def))
	return def
}

// Seconds reads k as a whole number of seconds.
func (a *Accessor) Seconds(k Key) time.Duration {
	return time.Duration(a.Int(k)) * time.Second
}

// Millis reads k as a whole number of milliseconds.
func (a *Accessor) Millis(k Key) time.Duration {
	return time.Duration(a.Int(k)) * time.Millisecond
}

// Bool reads k with strconv.ParseBool, falling back to the key default.
func (a *Accessor) Bool(k Key) bool {
	v := a.String(k)
	b, err := strconv.ParseBool(v)
	if err == nil {
		return b
	}
	def, _ := strconv.ParseBool(known[k].def)
	a.logger.Warn("Invalid boolean configuration value, using default",
		a.logger.Args("key", string(k), "value", v, "default", def))
	return def
}
