package handlers

import (
	"net/http"
	"strconv"

	"leakfinder/internal/database/repositories"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// DashboardHandler serves the aggregate widgets on the dashboard
type DashboardHandler struct {
	statsRepo repositories.StatsRepository
	logger    *pterm.Logger
}

func NewDashboardHandler(statsRepo repositories.StatsRepository, logger *pterm.Logger) *DashboardHandler {
	return &DashboardHandler{statsRepo: statsRepo, logger: logger}
}

// GetWidgetSummary returns headline counts plus an exposure status
func (h *DashboardHandler) GetWidgetSummary(c *gin.Context) {
	summary, err := h.statsRepo.GetSummary(c.Request.Context())
	if err != nil {
		h.logger.Debug("Widget summary fetch error", h.logger.Args("error", err))
		c.JSON(http.StatusOK, gin.H{"status": "error"})
		return
	}

	status := "clear"
	if summary.StealerLogBreaches > 0 || summary.SensitiveBreaches > 0 {
		status = "danger"
	} else if summary.BreachRecords > 0 {
		status = "warning"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"summary": summary,
	})
}

// GetTopDataClasses returns the most exposed data categories
func (h *DashboardHandler) GetTopDataClasses(c *gin.Context) {
	classes, err := h.statsRepo.GetTopDataClasses(c.Request.Context(), limitParam(c, 10, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get data classes"})
		return
	}
	c.JSON(http.StatusOK, classes)
}

// GetTopBreaches returns breaches affecting the most identities
func (h *DashboardHandler) GetTopBreaches(c *gin.Context) {
	breaches, err := h.statsRepo.GetTopBreaches(c.Request.Context(), limitParam(c, 10, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get top breaches"})
		return
	}
	c.JSON(http.StatusOK, breaches)
}

// GetHostCountries returns host findings grouped by GeoIP country
func (h *DashboardHandler) GetHostCountries(c *gin.Context) {
	countries, err := h.statsRepo.GetHostCountries(c.Request.Context(), limitParam(c, 10, 250))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get host countries"})
		return
	}
	c.JSON(http.StatusOK, countries)
}

// GetBreachTimeline returns breach records per year
func (h *DashboardHandler) GetBreachTimeline(c *gin.Context) {
	years := 10
	if y := c.Query("years"); y != "" {
		if val, err := strconv.Atoi(y); err == nil && val > 0 && val <= 50 {
			years = val
		}
	}
	timeline, err := h.statsRepo.GetBreachTimeline(c.Request.Context(), years)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get breach timeline"})
		return
	}
	c.JSON(http.StatusOK, timeline)
}

func limitParam(c *gin.Context, def, maxLimit int) int {
	if l := c.Query("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			if val > maxLimit {
				return maxLimit
			}
			return val
		}
	}
	return def
}
