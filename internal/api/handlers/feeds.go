package handlers

import (
	"context"
	"net/http"
	"strconv"

	"leakfinder/internal/threatmap"
	"leakfinder/internal/ticker"

	"github.com/gin-gonic/gin"
)

// TickerSource is satisfied by *ticker.Aggregator
type TickerSource interface {
	FetchItems(ctx context.Context, n int) ([]ticker.Item, ticker.Source)
}

// FeedHandler serves the read-only display feeds: the vulnerability ticker and threat map points
type FeedHandler struct {
	ticker  TickerSource
	fetcher *threatmap.Fetcher
}

func NewFeedHandler(t TickerSource, fetcher *threatmap.Fetcher) *FeedHandler {
	return &FeedHandler{ticker: t, fetcher: fetcher}
}

// GetTicker returns up to n known-exploited vulnerabilities. Never fails.
func (h *FeedHandler) GetTicker(c *gin.Context) {
	n := 10
	if v := c.Query("n"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			n = val
		}
	}

	items, source := h.ticker.FetchItems(c.Request.Context(), ticker.ClampCount(n))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Ticker-Source", string(source))
	c.JSON(http.StatusOK, gin.H{"items": items, "source": source})
}

// GetThreatPoints returns heatmap points. Unknown selectors fall back to the provider default.
func (h *FeedHandler) GetThreatPoints(c *gin.Context) {
	source := c.Query("source")
	if !threatmap.AllowedSource(source) {
		source = ""
	}
	c.JSON(http.StatusOK, gin.H{
		"points":        h.fetcher.Points(c.Request.Context(), source),
		"autoRefreshMs": h.fetcher.AutoRefresh(),
	})
}
