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
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leakfinder/internal/config"

	"github.com/pterm/pterm"
)

const (
	CloudflareBaseURL = "https://api.cloudflare.com/client/v4/"
	cloudflareTimeout = 12 * time.Second
	jitterDegrees     = 0.7
)

// Approximate country centroids used to place Radar rows on the map.
var centroids = map[string][2]float64{
	"US": {37.0902, -95.7129},
	"CN": {35.8617, 104.1954},
	"RU": {61.5240, 105.3188},
	"BR": {-14.2350, -51.9253},
	"IN": {20.5937, 78.9629},
	"GB": {55.3781, -3.4360},
	"DE": {51.1657, 10.4515},
	"JP": {36.2048, 138.2529},
	"FR": {46.2276, 2.2137},
	"CA": {56.1304, -106.3468},
	"AU": {-25.2744, 133.7751},
	"KR": {35.9078, 127.7669},
	"NL": {52.1326, 5.2913},
	"IT": {41.8719, 12.5674},
	"ES": {40.4637, -3.7492},
	"TR": {38.9637, 35.2433},
	"MX": {23.6345, -102.5528},
	"SG": {1.3521, 103.8198},
	"SE": {60.1282, 18.6435},
	"NO": {60.4720, 8.4689},
	"PL": {51.9194, 19.1451},
}

type radarEndpoint struct {
	path         string
	countryField string
}

var radarEndpoints = map[string]radarEndpoint{
	SourceLayer7Origin: {"radar/attacks/layer7/top/locations/origin", "originCountryAlpha2"},
	SourceLayer7Target: {"radar/attacks/layer7/top/locations/target", "targetCountryAlpha2"},
	SourceLayer3Origin: {"radar/attacks/layer3/top/locations/origin", "originCountryAlpha2"},
	SourceLayer3Target: {"radar/attacks/layer3/top/locations/target", "targetCountryAlpha2"},
}

// Keys tried, in order, for the row array under "result".
var rowKeys = []string{"attacks_origin", "attacks_target", "top_locations", "series", "data"}

type CloudflareOptions struct {
	Token      string
	BaseURL    string
	DateRange  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// CloudflareProvider reads Cloudflare Radar "top locations" attack data.
type CloudflareProvider struct {
	opts   CloudflareOptions
	http   *http.Client
	logger *pterm.Logger
	jitter func() float64
}

func NewCloudflareProvider(opts CloudflareOptions, logger *pterm.Logger) *CloudflareProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = CloudflareBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.DateRange == "" {
		opts.DateRange = "1d"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = cloudflareTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &CloudflareProvider{
		opts:   opts,
		http:   hc,
		logger: logger,
		jitter: func() float64 { return (rand.Float64()*2 - 1) * jitterDegrees },
	}
}

func NewCloudflareProviderFromConfig(cfg *config.Accessor, logger *pterm.Logger) *CloudflareProvider {
	return NewCloudflareProvider(CloudflareOptions{Token: cfg.String(config.CloudflareToken)}, logger)
}

func (p *CloudflareProvider) FetchPoints(ctx context.Context, limit int, source string) []Point {
	if p.opts.Token == "" {
		p.logger.Error("Cloudflare Radar token not set, using fallback points")
		return fallbackPoints(source)
	}

	points, err := p.fetch(ctx, limit, source)
	if err != nil {
		p.logger.WithCaller().Error("Cloudflare Radar fetch failed", p.logger.Args("source", source, "error", err))
		return fallbackPoints(source)
	}
	if len(points) == 0 {
		p.logger.Warn("Cloudflare Radar produced no mappable rows", p.logger.Args("source", source))
		return fallbackPoints(source)
	}
	return points
}

func (p *CloudflareProvider) fetch(ctx context.Context, limit int, source string) ([]Point, error) {
	ep, ok := radarEndpoints[source]
	if !ok {
		ep = radarEndpoints[SourceLayer7Origin]
	}

	name := "attacks_origin"
	if strings.Contains(source, "target") && !strings.Contains(source, "origin") {
		name = "attacks_target"
	}
	q := url.Values{}
	q.Set("name", name)
	q.Set("dateRange", p.opts.DateRange)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("format", "json")
	endpoint := p.opts.BaseURL + ep.path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.opts.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 400 {
			snippet = snippet[:400]
		}
		return nil, fmt.Errorf("radar returned HTTP %d: %s", resp.StatusCode, snippet)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode radar response: %w", err)
	}
	rows := extractRows(payload)
	if len(rows) == 0 {
		return nil, nil
	}

	layer := "L3"
	if strings.Contains(ep.path, "layer7") {
		layer = "L7"
	}
	direction := "target"
	if strings.Contains(ep.path, "origin") {
		direction = "origin"
	}

	maxVal := 0.0
	for _, row := range rows {
		maxVal = math.Max(maxVal, toFloat(row["value"]))
	}
	if maxVal == 0 {
		maxVal = 1
	}

	if limit < len(rows) {
		rows = rows[:limit]
	}
	points := make([]Point, 0, len(rows))
	for _, row := range rows {
		cc, _ := row[ep.countryField].(string)
		cc = strings.ToUpper(cc)
		c, ok := centroids[cc]
		if !ok {
			continue
		}
		raw := toFloat(row["value"])
		points = append(points, Point{
			Lat:       c[0] + p.jitter(),
			Lon:       c[1] + p.jitter(),
			Intensity: round3(clamp(raw/maxVal, 0.2, 1.0)),
			Country:   cc,
			Metric:    round3(raw),
			Layer:     layer,
			Direction: direction,
		})
	}
	return points, nil
}

func extractRows(payload map[string]any) []map[string]any {
	result, _ := payload["result"].(map[string]any)
	if result == nil {
		return nil
	}
	for _, k := range rowKeys {
		if list, ok := result[k].([]any); ok {
			return rowMaps(list)
		}
	}
	// map iteration order is random; pick the first list by sorted key for stable output
	var keys []string
	for k, v := range result {
		if _, ok := v.([]any); ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	minKey := keys[0]
	for _, k := range keys[1:] {
		if k < minKey {
			minKey = k
		}
	}
	return rowMaps(result[minKey].([]any))
}

func rowMaps(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func fallbackPoints(source string) []Point {
	layer, direction := "L7", "origin"
	if strings.Contains(source, "layer3") {
		layer = "L3"
	}
	if strings.Contains(source, "target") {
		direction = "target"
	}
	samples := []struct {
		cc        string
		intensity float64
		metric    float64
	}{
		{"US", 0.9, 25},
		{"CN", 0.8, 22},
		{"RU", 0.7, 18},
		{"IT", 0.5, 10},
	}
	points := make([]Point, 0, len(samples))
	for _, s := range samples {
		c := centroids[s.cc]
		points = append(points, Point{
			Lat: c[0], Lon: c[1],
			Intensity: s.intensity,
			Country:   s.cc,
			Metric:    s.metric,
			Layer:     layer,
			Direction: direction,
		})
	}
	return points
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f
		}
	case json.Number:
		f, err := n.Float64()
		if err == nil {
			return f
		}
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
