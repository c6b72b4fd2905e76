package ticker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leakfinder/internal/config"

	"github.com/pterm/pterm"
)

const (
	CISAFeedURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	NVDFeedURL  = "https://services.nvd.nist.gov/rest/json/cves/2.0?hasKev"
	CatalogURL  = "https://www.cisa.gov/known-exploited-vulnerabilities-catalog"

	MinItems = 1
	MaxItems = 50

	maxBodyBytes = 32 << 20
)

// Source tags which branch produced the items.
type Source string

const (
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
	SourceFallback  Source = "fallback"
)

// Item is one ticker entry.
type Item struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	Link  string `json:"link"`
}

type Options struct {
	PrimaryURLs  []string
	SecondaryURL string
	UserAgent    string
	Timeout      time.Duration
	Backoff      time.Duration
	HTTPClient   *http.Client
}

// Aggregator walks the primary feeds, then the secondary feed, then a static placeholder.
type Aggregator struct {
	opts   Options
	http   *http.Client
	logger *pterm.Logger
	sleep  func(context.Context, time.Duration)
}

func NewAggregator(opts Options, logger *pterm.Logger) *Aggregator {
	if len(opts.PrimaryURLs) == 0 {
		opts.PrimaryURLs = []string{CISAFeedURL}
	}
	if opts.SecondaryURL == "" {
		opts.SecondaryURL = NVDFeedURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "DarkWebLeakFinder/1.0 (+ticker)"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Aggregator{opts: opts, http: hc, logger: logger, sleep: pause}
}

func NewAggregatorFromConfig(cfg *config.Accessor, logger *pterm.Logger) *Aggregator {
	return NewAggregator(Options{
		UserAgent: cfg.String(config.TickerUserAgent),
		Timeout:   cfg.Seconds(config.TickerTimeout),
	}, logger)
}

// ClampCount bounds n to [MinItems, MaxItems].
func ClampCount(n int) int {
	if n < MinItems {
		return MinItems
	}
	if n > MaxItems {
		return MaxItems
	}
	return n
}

// FetchItems never fails: it always returns at least one item and a source tag.
func (a *Aggregator) FetchItems(ctx context.Context, n int) ([]Item, Source) {
	n = ClampCount(n)

	for i, u := range a.opts.PrimaryURLs {
		items, err := a.fetch(ctx, u, mapCISA)
		if err == nil && len(items) > 0 {
			return truncate(items, n), SourcePrimary
		}
		a.logger.Warn("Primary vulnerability feed unavailable",
			a.logger.Args("url", u, "items", len(items), "error", errString(err)))
		if i < len(a.opts.PrimaryURLs)-1 {
			a.sleep(ctx, a.opts.Backoff)
		}
	}

	items, err := a.fetch(ctx, a.opts.SecondaryURL, mapNVD)
	if err == nil && len(items) > 0 {
		return truncate(items, n), SourceSecondary
	}
	a.logger.Warn("Secondary vulnerability feed unavailable, using placeholder",
		a.logger.Args("url", a.opts.SecondaryURL, "items", len(items), "error", errString(err)))

	return []Item{Placeholder()}, SourceFallback
}

// Placeholder is the item shown when no feed answered.
func Placeholder() Item {
	return Item{
		Title: "No KEV feed available",
		Link:  CatalogURL,
	}
}

func (a *Aggregator) fetch(ctx context.Context, u string, mapper func(map[string]any) []Item) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", a.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return mapper(doc), nil
}

func mapCISA(doc map[string]any) []Item {
	rows := listAt(doc, "vulnerabilities", "known_exploited_vulnerabilities")
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		id := str(r, "cveID", "cve_id")
		item := Item{
			Title: id,
			Date:  dateOnly(str(r, "dateAdded", "date_added")),
			Link:  CatalogURL,
		}
		if id != "" {
			item.Link = CatalogURL + "?search_api_fulltext=" + url.QueryEscape(id)
		} else {
			item.Title = str(r, "vendorProject", "vendor_project")
		}
		if item.Title == "" {
			item.Title = "CISA KEV"
		}
		items = append(items, item)
	}
	return items
}

func mapNVD(doc map[string]any) []Item {
	rows := listAt(doc, "vulnerabilities")
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		cve, _ := r["cve"].(map[string]any)
		id := str(cve, "id")
		item := Item{Title: "NVD hasKev", Date: dateOnly(str(cve, "published")), Link: "https://nvd.nist.gov/"}
		if id != "" {
			item.Title = id
			item.Link = "https://nvd.nist.gov/vuln/detail/" + url.PathEscape(id)
		}
		items = append(items, item)
	}
	return items
}

func listAt(doc map[string]any, keys ...string) []map[string]any {
	for _, k := range keys {
		list, ok := doc[k].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(list))
		for _, v := range list {
			if m, ok := v.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func dateOnly(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

func truncate(items []Item, n int) []Item {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
