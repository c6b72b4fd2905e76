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
	"errors"
	"net/http"
	"strconv"

	"leakfinder/internal/database/models"
	"leakfinder/internal/database/repositories"
	"leakfinder/internal/hibp"
	"leakfinder/internal/sanitize"
	"leakfinder/internal/scan"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// IdentityHandler manages monitored addresses and their breach scans
type IdentityHandler struct {
	identities repositories.IdentityRepository
	breaches   repositories.BreachRecordRepository
	scans      *scan.Service
	logger     *pterm.Logger
}

// BreachView is a stored breach prepared for display
type BreachView struct {
	*models.BreachRecord
	Description string `json:"description"`
	LogoURL     string `json:"logo_url,omitempty"`
}

// NewIdentityHandler creates a new identity handler
func NewIdentityHandler(
	identities repositories.IdentityRepository,
	breaches repositories.BreachRecordRepository,
	scans *scan.Service,
	logger *pterm.Logger,
) *IdentityHandler {
	return &IdentityHandler{
		identities: identities,
		breaches:   breaches,
		scans:      scans,
		logger:     logger,
	}
}

type addIdentityRequest struct {
	Email string `json:"email" form:"email"`
}

// AddIdentity validates an address and stores it if new
func (h *IdentityHandler) AddIdentity(c *gin.Context) {
	var req addIdentityRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required."})
		return
	}
	address, ok := sanitize.Email(req.Email)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Enter a valid email address."})
		return
	}

	identity, created, err := h.identities.GetOrCreate(c.Request.Context(), address)
	if err != nil {
		h.logger.WithCaller().Error("Failed to store identity", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store identity"})
		return
	}

	status, message := http.StatusOK, "Already exists: "+identity.Address
	if created {
		status, message = http.StatusCreated, "Added: "+identity.Address
	}
	c.JSON(status, gin.H{"identity": identity, "created": created, "message": message})
}

// ListIdentities returns every identity, newest first
func (h *IdentityHandler) ListIdentities(c *gin.Context) {
	identities, err := h.identities.FindAll(c.Request.Context())
	if err != nil {
		h.logger.WithCaller().Error("Failed to list identities", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list identities"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identities": identities})
}

// GetIdentity returns one identity with its breaches, descriptions sanitized
func (h *IdentityHandler) GetIdentity(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	identity, err := h.identities.FindByID(ctx, id)
	if err != nil {
		h.notFoundOr500(c, err, "identity")
		return
	}
	records, err := h.breaches.FindByIdentity(ctx, id)
	if err != nil {
		h.logger.WithCaller().Error("Failed to load breaches", h.logger.Args("identity", id, "error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load breaches"})
		return
	}
	h.logger.Debug("Identity detail", h.logger.Args("identity", identity.Address, "breaches", len(records)))

	views := make([]BreachView, 0, len(records))
	for _, r := range records {
		views = append(views, BreachView{
			BreachRecord: r,
			Description:  sanitize.Description(r.Description),
			LogoURL:      hibp.LogoURL(r.LogoPath),
		})
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "breaches": views})
}

// DeleteIdentity removes an identity and its breaches
func (h *IdentityHandler) DeleteIdentity(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	identity, err := h.identities.FindByID(ctx, id)
	if err != nil {
		h.notFoundOr500(c, err, "identity")
		return
	}
	if err := h.identities.Delete(ctx, id); err != nil {
		h.notFoundOr500(c, err, "identity")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Removed identity: " + identity.Address})
}

// ScanIdentity runs a breach scan. Upstream failures are reported in the body with 200;
// only a missing identity changes the status code.
func (h *IdentityHandler) ScanIdentity(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	out, err := h.scans.ScanIdentity(c.Request.Context(), id)
	if errors.Is(err, scan.ErrIdentityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Identity not found"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *IdentityHandler) notFoundOr500(c *gin.Context, err error, what string) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found: " + what})
		return
	}
	h.logger.WithCaller().Error("Database error", h.logger.Args("resource", what, "error", err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
}

// parseID reads the :id path parameter, writing a 400 when it is not a positive integer
func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}
