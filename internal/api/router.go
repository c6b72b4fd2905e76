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
// Package api wires the HTTP surface.
package api

import (
	"leakfinder/internal/api/handlers"
	"leakfinder/internal/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// Handlers groups every route handler the router mounts.
type Handlers struct {
	Identity  *handlers.IdentityHandler
	Host      *handlers.HostHandler
	Feeds     *handlers.FeedHandler
	System    *handlers.SystemHandler
	Dashboard *handlers.DashboardHandler
}

// NewRouter builds the gin engine with the shared middleware chain.
func NewRouter(h Handlers, logger *pterm.Logger) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.SecurityHeaders(),
		middleware.RequestLimits(),
	)

	r.GET("/health", h.System.Health)

	v1 := r.Group("/api/v1")
	{
		identities := v1.Group("/identities")
		identities.GET("", h.Identity.ListIdentities)
		identities.POST("", h.Identity.AddIdentity)
		identities.GET("/:id", h.Identity.GetIdentity)
		identities.DELETE("/:id", h.Identity.DeleteIdentity)
		identities.POST("/:id/scan", h.Identity.ScanIdentity)

		hosts := v1.Group("/hosts")
		hosts.GET("", h.Host.ListHosts)
		hosts.POST("/scan", h.Host.ScanHost)
		hosts.DELETE("/:id", h.Host.DeleteHost)

		v1.GET("/ticker", h.Feeds.GetTicker)
		v1.GET("/threatmap/points", h.Feeds.GetThreatPoints)

		dashboard := v1.Group("/dashboard")
		dashboard.GET("/summary", h.Dashboard.GetWidgetSummary)
		dashboard.GET("/data-classes", h.Dashboard.GetTopDataClasses)
		dashboard.GET("/top-breaches", h.Dashboard.GetTopBreaches)
		dashboard.GET("/countries", h.Dashboard.GetHostCountries)
		dashboard.GET("/timeline", h.Dashboard.GetBreachTimeline)

		v1.GET("/system/stats", h.System.GetSystemStats)
		v1.POST("/system/cleanup", h.System.RunCleanup)
	}

	return r
}
