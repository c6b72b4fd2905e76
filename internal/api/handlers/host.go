package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"leakfinder/internal/database/repositories"
	"leakfinder/internal/scan"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

const (
	defaultHostLimit = 12
	maxHostLimit     = 100
)

// HostHandler serves host exposure scans
type HostHandler struct {
	hosts  repositories.HostFindingRepository
	scans  *scan.Service
	logger *pterm.Logger
}

func NewHostHandler(hosts repositories.HostFindingRepository, scans *scan.Service, logger *pterm.Logger) *HostHandler {
	return &HostHandler{hosts: hosts, scans: scans, logger: logger}
}

type scanHostRequest struct {
	Target string `json:"target" form:"target"`
}

// ScanHost looks up a domain or IP and stores the snapshot
func (h *HostHandler) ScanHost(c *gin.Context) {
	var req scanHostRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	out := h.scans.ScanHost(c.Request.Context(), req.Target)
	if out.Level == scan.LevelError && req.Target == "" {
		c.JSON(http.StatusBadRequest, out)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ListHosts returns the most recently seen findings
func (h *HostHandler) ListHosts(c *gin.Context) {
	limit := defaultHostLimit
	if l := c.Query("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = min(val, maxHostLimit)
		}
	}

	hosts, err := h.hosts.FindRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithCaller().Error("Failed to list host findings", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list host findings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hosts": hosts})
}

// DeleteHost removes one stored finding
func (h *HostHandler) DeleteHost(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	finding, err := h.hosts.FindByID(ctx, id)
	if err == nil {
		err = h.hosts.Delete(ctx, id)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Host finding not found"})
			return
		}
		h.logger.WithCaller().Error("Failed to delete host finding", h.logger.Args("id", id, "error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete host finding"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Removed Shodan scan for " + finding.IP + "."})
}
