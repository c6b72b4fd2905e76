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
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pterm/pterm"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	MaxQueryBytes = 4096
	MaxParamBytes = 1024
	MaxParamCount = 100
	MaxBodyBytes  = 3 << 20
)

// RequestID tags every request with an id, reusing a well-formed inbound one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the id set by RequestID, empty if absent.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Logger writes one line per request through pterm.
func Logger(logger *pterm.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := logger.Args(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", GetRequestID(c),
		)
		switch {
		case status >= 500:
			logger.Error("Request failed", args)
		case status >= 400:
			logger.Warn("Request rejected", args)
		default:
			logger.Debug("Request served", args)
		}
	}
}

// RequestLimits rejects oversized query strings with 414 and oversized bodies with 413.
func RequestLimits() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawQuery := c.Request.URL.RawQuery
		if len(rawQuery) > MaxQueryBytes {
			c.AbortWithStatusJSON(http.StatusRequestURITooLong, gin.H{"error": "Query string too long"})
			return
		}
		if rawQuery != "" {
			params := c.Request.URL.Query()
			count := 0
			for _, values := range params {
				count += len(values)
				for _, v := range values {
					if len(v) > MaxParamBytes {
						c.AbortWithStatusJSON(http.StatusRequestURITooLong, gin.H{"error": "Query parameter too long"})
						return
					}
				}
			}
			if count > MaxParamCount {
				c.AbortWithStatusJSON(http.StatusRequestURITooLong, gin.H{"error": "Too many query parameters"})
				return
			}
		}

		if c.Request.ContentLength > MaxBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
		}
		c.Next()
	}
}

// SecurityHeaders sets conservative browser headers on every response.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' https://haveibeenpwned.com data:")
		c.Next()
	}
}

// Recovery turns a handler panic into a generic 500 and logs the stack.
func Recovery(logger *pterm.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithCaller().Error("Panic in request handler", logger.Args(
					"path", c.Request.URL.Path,
					"request_id", GetRequestID(c),
					"panic", fmt.Sprint(r),
					"stack", strings.TrimSpace(string(debug.Stack())),
				))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}
