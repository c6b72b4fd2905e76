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
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"leakfinder/internal/database"
	"leakfinder/internal/database/repositories"
	"leakfinder/internal/version"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// SystemHandler handles health and system statistics requests
type SystemHandler struct {
	db        *gorm.DB
	statsRepo repositories.StatsRepository
	logger    *pterm.Logger
	startTime time.Time
	info      SystemInfo
}

// SystemInfo describes how the process was wired at startup
type SystemInfo struct {
	DatabasePath       string
	CacheBackend       string
	ThreatmapProviders []string
	GeoIPEnabled       bool
	BreachDemoMode     bool
	Cleanup            *database.CleanupService
}

// SystemStats holds process, database and integration details
type SystemStats struct {
	// Process Info
	AppVersion    string  `json:"app_version"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	StartTime     string  `json:"start_time"`
	GoVersion     string  `json:"go_version"`
	NumCPU        int     `json:"num_cpu"`
	NumGoroutines int     `json:"num_goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemorySysMB   float64 `json:"memory_sys_mb"`
	GCPauseMs     float64 `json:"gc_pause_ms"`

	// Database Info
	DatabasePath   string  `json:"database_path"`
	DatabaseSizeMB float64 `json:"database_size_mb"`
	Identities     int64   `json:"identities"`
	BreachRecords  int64   `json:"breach_records"`
	HostFindings   int64   `json:"host_findings"`

	// Integrations
	CacheBackend       string   `json:"cache_backend"`
	ThreatmapProviders []string `json:"threatmap_providers"`
	GeoIPEnabled       bool     `json:"geoip_enabled"`
	BreachDemoMode     bool     `json:"breach_demo_mode"`

	Retention *database.CleanupStats `json:"retention,omitempty"`
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(db *gorm.DB, statsRepo repositories.StatsRepository, info SystemInfo, logger *pterm.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		statsRepo: statsRepo,
		logger:    logger,
		startTime: time.Now(),
		info:      info,
	}
}

// Health pings the database
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		h.logger.WithCaller().Warn("Health check failed", h.logger.Args("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
}

// GetSystemStats returns process and database statistics
func (h *SystemHandler) GetSystemStats(c *gin.Context) {
	stats, err := h.collectSystemStats(c.Request.Context())
	if err != nil {
		h.logger.WithCaller().Error("Failed to collect system stats", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to collect system stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// RunCleanup prunes stale host findings immediately
func (h *SystemHandler) RunCleanup(c *gin.Context) {
	if h.info.Cleanup == nil {
		c.JSON(http.StatusConflict, gin.H{"error": database.ErrRetentionDisabled.Error()})
		return
	}
	deleted, err := h.info.Cleanup.RunOnce(c.Request.Context())
	if errors.Is(err, database.ErrRetentionDisabled) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// collectSystemStats gathers all system statistics
func (h *SystemHandler) collectSystemStats(ctx context.Context) (*SystemStats, error) {
	stats := &SystemStats{
		AppVersion:         version.Version,
		StartTime:          h.startTime.Format(time.RFC3339),
		GoVersion:          runtime.Version(),
		NumCPU:             runtime.NumCPU(),
		NumGoroutines:      runtime.NumGoroutine(),
		DatabasePath:       h.info.DatabasePath,
		CacheBackend:       h.info.CacheBackend,
		ThreatmapProviders: h.info.ThreatmapProviders,
		GeoIPEnabled:       h.info.GeoIPEnabled,
		BreachDemoMode:     h.info.BreachDemoMode,
	}

	if h.info.Cleanup != nil {
		stats.Retention = h.info.Cleanup.GetStats()
	}

	uptime := time.Since(h.startTime)
	stats.UptimeSeconds = int64(uptime.Seconds())
	stats.Uptime = formatDuration(uptime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats.MemoryAllocMB = float64(m.Alloc) / 1024 / 1024
	stats.MemorySysMB = float64(m.Sys) / 1024 / 1024
	stats.GCPauseMs = float64(m.PauseNs[(m.NumGC+255)%256]) / 1000000

	summary, err := h.statsRepo.GetSummary(ctx)
	if err != nil {
		return nil, err
	}
	stats.Identities = summary.Identities
	stats.BreachRecords = summary.BreachRecords
	stats.HostFindings = summary.HostFindings

	// in-memory databases have no file
	if fileInfo, err := os.Stat(h.info.DatabasePath); err == nil {
		stats.DatabaseSizeMB = float64(fileInfo.Size()) / 1024 / 1024
	}

	return stats, nil
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return formatPlural(days, "day", hours, "hour")
	}
	if hours > 0 {
		return formatPlural(hours, "hour", minutes, "minute")
	}
	if minutes > 0 {
		return formatPlural(minutes, "minute", seconds, "second")
	}
	return formatPlural(seconds, "second", 0, "")
}

func formatPlural(n1 int, unit1 string, n2 int, unit2 string) string {
	result := formatSingle(n1, unit1)
	if n2 > 0 && unit2 != "" {
		result += ", " + formatSingle(n2, unit2)
	}
	return result
}

func formatSingle(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
