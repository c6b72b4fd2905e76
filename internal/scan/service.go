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
// Package scan runs user-triggered scans and turns every outcome, including
// upstream failures, into a status message safe to show in a browser.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"leakfinder/internal/database/models"
	"leakfinder/internal/database/repositories"
	"leakfinder/internal/hibp"
	"leakfinder/internal/reconcile"
	"leakfinder/internal/shodan"
	"leakfinder/internal/upstream"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const genericFailure = "Scan failed due to an internal error. Check the server log for details."

var ErrIdentityNotFound = errors.New("identity not found")

// Outcome is what the caller shows the user after a scan.
type Outcome struct {
	Level    Level               `json:"level"`
	Message  string              `json:"message"`
	Status   int                 `json:"api_status,omitempty"`
	Returned int                 `json:"returned"`
	Created  int                 `json:"created"`
	Updated  int                 `json:"updated"`
	Finding  *models.HostFinding `json:"finding,omitempty"`
}

type BreachSource interface {
	BreachesForAccount(ctx context.Context, email string) (*hibp.Result, error)
}

type HostSource interface {
	FetchHost(ctx context.Context, target string) (*shodan.Host, error)
}

type Service struct {
	identities repositories.IdentityRepository
	breachSrc  BreachSource
	hostSrc    HostSource
	breaches   *reconcile.BreachReconciler
	hosts      *reconcile.HostReconciler
	logger     *pterm.Logger
}

func NewService(
	identities repositories.IdentityRepository,
	breachSrc BreachSource,
	hostSrc HostSource,
	breaches *reconcile.BreachReconciler,
	hosts *reconcile.HostReconciler,
	logger *pterm.Logger,
) *Service {
	return &Service{
		identities: identities,
		breachSrc:  breachSrc,
		hostSrc:    hostSrc,
		breaches:   breaches,
		hosts:      hosts,
		logger:     logger,
	}
}

// ScanIdentity fetches breaches for a stored identity and reconciles them.
// The only error returned is ErrIdentityNotFound; every other failure is
// reported through the Outcome.
func (s *Service) ScanIdentity(ctx context.Context, id uint) (out Outcome, err error) {
	identity, err := s.identities.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Outcome{}, ErrIdentityNotFound
		}
		return s.unexpected("identity lookup", fmt.Sprint(id), err), nil
	}
	defer s.recoverInto(&out, "identity scan", identity.Address)

	res, err := s.breachSrc.BreachesForAccount(ctx, identity.Address)
	if err != nil {
		return s.breachFailure(identity.Address, err), nil
	}
	s.logger.Info("Identity scanned", s.logger.Args(
		"identity", identity.Address,
		"status", res.Status,
		"items", res.Returned,
		"demo", res.Demo,
	))

	counts, err := s.breaches.Apply(ctx, identity, res.Breaches)
	if err != nil {
		return s.unexpected("breach reconciliation", identity.Address, err), nil
	}

	return Outcome{
		Level: LevelSuccess,
		Message: fmt.Sprintf("Scan complete for %s. API status=%d, returned=%d, new=%d, updated=%d.",
			identity.Address, res.Status, res.Returned, counts.Created, counts.Updated),
		Status:   res.Status,
		Returned: res.Returned,
		Created:  counts.Created,
		Updated:  counts.Updated,
	}, nil
}

func (s *Service) breachFailure(address string, err error) Outcome {
	var authErr *upstream.AuthError
	var rateErr *upstream.RateLimitError
	var statusErr *upstream.StatusError
	var netErr *upstream.NetworkError

	switch {
	case errors.As(err, &authErr):
		s.logger.Warn("HIBP authentication error", s.logger.Args("identity", address, "status", authErr.StatusCode))
		return Outcome{Level: LevelError, Message: "Authentication failed with HIBP. Set HIBP_API_KEY and HIBP_USER_AGENT."}
	case errors.As(err, &rateErr):
		s.logger.Warn("HIBP rate limit", s.logger.Args("identity", address, "retry_after", rateErr.RetryAfter))
		return Outcome{Level: LevelWarning, Message: rateLimitMessage("HIBP", rateErr)}
	case errors.As(err, &statusErr):
		s.logger.Warn("HIBP unexpected status", s.logger.Args("identity", address, "status", statusErr.StatusCode))
		return Outcome{Level: LevelError, Message: fmt.Sprintf("HIBP returned an unexpected status (%d). Try again later.", statusErr.StatusCode)}
	case errors.As(err, &netErr):
		s.logger.Warn("HIBP network error", s.logger.Args("identity", address, "error", netErr.Err))
		return Outcome{Level: LevelError, Message: "Could not reach HIBP. Try again later."}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Outcome{Level: LevelWarning, Message: "Scan was cancelled before it finished."}
	}
	return s.unexpected("identity scan", address, err)
}

// ScanHost fetches a host snapshot and stores it keyed by IP.
func (s *Service) ScanHost(ctx context.Context, target string) (out Outcome) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Outcome{Level: LevelError, Message: "Please enter a domain or IP."}
	}
	defer s.recoverInto(&out, "host scan", target)

	host, err := s.hostSrc.FetchHost(ctx, target)
	if err != nil {
		return s.hostFailure(target, err)
	}
	if host == nil {
		return Outcome{Level: LevelInfo, Message: fmt.Sprintf("No Shodan data found for %s.", target)}
	}
	if strings.TrimSpace(host.IP) == "" {
		return Outcome{Level: LevelError, Message: "Shodan returned no IP for this host."}
	}

	finding, created, err := s.hosts.Apply(ctx, host)
	if err != nil {
		return s.unexpected("host reconciliation", target, err)
	}
	s.logger.Info("Host scanned", s.logger.Args("target", target, "ip", finding.IP, "created", created))

	out = Outcome{Level: LevelSuccess, Message: fmt.Sprintf("Shodan scan saved for %s.", finding.IP), Finding: finding}
	if created {
		out.Created = 1
	} else {
		out.Updated = 1
	}
	return out
}

func (s *Service) hostFailure(target string, err error) Outcome {
	var cfgErr *upstream.ConfigError
	var authErr *upstream.AuthError
	var rateErr *upstream.RateLimitError
	var statusErr *upstream.StatusError
	var netErr *upstream.NetworkError
	var resolveErr *upstream.ResolveError

	s.logger.Warn("Shodan scan failed", s.logger.Args("target", target, "error", err))
	switch {
	case errors.As(err, &cfgErr):
		return Outcome{Level: LevelError, Message: fmt.Sprintf("Shodan scan failed: %s is not configured.", cfgErr.Key)}
	case errors.As(err, &authErr):
		return Outcome{Level: LevelError, Message: "Shodan scan failed: the API key was rejected."}
	case errors.As(err, &rateErr):
		return Outcome{Level: LevelWarning, Message: rateLimitMessage("Shodan", rateErr)}
	case errors.As(err, &resolveErr):
		return Outcome{Level: LevelError, Message: fmt.Sprintf("Shodan scan failed: could not resolve %s.", resolveErr.Host)}
	case errors.As(err, &statusErr):
		return Outcome{Level: LevelError, Message: fmt.Sprintf("Shodan scan failed: unexpected status %d.", statusErr.StatusCode)}
	case errors.As(err, &netErr):
		return Outcome{Level: LevelError, Message: fmt.Sprintf("Shodan scan failed: no response after %d attempt(s).", netErr.Attempts)}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Outcome{Level: LevelWarning, Message: "Scan was cancelled before it finished."}
	}
	return s.unexpected("host scan", target, err)
}

func rateLimitMessage(provider string, err *upstream.RateLimitError) string {
	if err.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit reached. Try again in %s.", provider, err.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit reached. Try again later.", provider)
}

// unexpected logs full detail and hands back a message that leaks none of it.
func (s *Service) unexpected(op, subject string, err error) Outcome {
	s.logger.WithCaller().Error("Unexpected scan error", s.logger.Args(
		"operation", op,
		"subject", subject,
		"error", err,
		"stack", string(debug.Stack()),
	))
	return Outcome{Level: LevelError, Message: genericFailure}
}

func (s *Service) recoverInto(out *Outcome, op, subject string) {
	if r := recover(); r != nil {
		*out = s.unexpected(op, subject, fmt.Errorf("panic: %v", r))
	}
}
