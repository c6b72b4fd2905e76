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
package threatmap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leakfinder/internal/cache"
	"leakfinder/internal/config"

	"github.com/pterm/pterm"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL   = 300 * time.Second
	DefaultLimit = 50
	MaxLimit     = 200

	// upper bound for one shared provider fetch, independent of any caller
	fetchTimeout = 30 * time.Second
)

// Settings is the part of the configuration the fetcher reads on every call,
// so overlay reloads take effect without a restart.
type Settings interface {
	String(k config.Key) string
	Int(k config.Key) int
}

// Fetcher resolves the configured provider and caches its points.
type Fetcher struct {
	settings Settings
	registry *Registry
	cache    cache.Cache
	group    singleflight.Group
	logger   *pterm.Logger
}

func NewFetcher(settings Settings, registry *Registry, c cache.Cache, logger *pterm.Logger) *Fetcher {
	return &Fetcher{
		settings: settings,
		registry: registry,
		cache:    c,
		logger:   logger,
	}
}

// SafeTTL maps a configured number of seconds to a positive duration.
func SafeTTL(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultTTL
	}
	return time.Duration(seconds) * time.Second
}

// SafeLimit bounds the configured point count.
func SafeLimit(n int) int {
	if n < 1 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// CacheKey segments entries by provider, selector and limit.
func CacheKey(provider, source string, limit int) string {
	if source == "" {
		source = "default"
	}
	return fmt.Sprintf("threatmap:%s:%s:%d", provider, source, limit)
}

// AutoRefresh returns the client refresh interval in milliseconds.
func (f *Fetcher) AutoRefresh() int {
	return f.settings.Int(config.ThreatmapRefresh)
}

// Points never fails. Cache errors degrade to a live fetch and an unknown
// provider yields an empty list.
func (f *Fetcher) Points(ctx context.Context, source string) []Point {
	name := f.settings.String(config.ThreatmapProvider)
	if name == "" {
		return []Point{}
	}
	ttl := SafeTTL(f.settings.Int(config.ThreatmapCacheTTL))
	limit := SafeLimit(f.settings.Int(config.ThreatmapLimit))
	key := CacheKey(name, source, limit)

	if cached, ok := f.lookup(ctx, key); ok {
		return cached
	}

	provider, err := f.registry.Get(name)
	if err != nil {
		return []Point{}
	}

	// The shared fetch outlives any single caller: a disconnecting client must
	// not cancel the upstream call for everyone waiting on the same key.
	ch := f.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		// a concurrent caller may have filled the entry while we waited
		if cached, ok := f.lookup(fetchCtx, key); ok {
			return cached, nil
		}
		points := provider.FetchPoints(fetchCtx, limit, source)
		if points == nil {
			points = []Point{}
		}
		if fetchCtx.Err() != nil {
			f.logger.Warn("Threatmap fetch timed out, not caching", f.logger.Args("key", key))
			return points, nil
		}
		f.store(fetchCtx, key, points, ttl)
		return points, nil
	})

	select {
	case res := <-ch:
		return res.Val.([]Point)
	case <-ctx.Done():
		return []Point{}
	}
}

func (f *Fetcher) lookup(ctx context.Context, key string) ([]Point, bool) {
	raw, ok, err := f.cache.Get(ctx, key)
	if err != nil {
		f.logger.Warn("Threatmap cache read failed", f.logger.Args("key", key, "error", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var points []Point
	if err := json.Unmarshal(raw, &points); err != nil {
		f.logger.Warn("Discarding undecodable threatmap cache entry", f.logger.Args("key", key, "error", err))
		return nil, false
	}
	return points, true
}

func (f *Fetcher) store(ctx context.Context, key string, points []Point, ttl time.Duration) {
	raw, err := json.Marshal(points)
	if err != nil {
		f.logger.Warn("Failed to encode threatmap points", f.logger.Args("error", err))
		return
	}
	if err := f.cache.Set(ctx, key, raw, ttl); err != nil {
		f.logger.Warn("Threatmap cache write failed", f.logger.Args("key", key, "error", err))
	}
}
