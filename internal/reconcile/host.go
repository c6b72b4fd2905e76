package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"leakfinder/internal/database/models"
	"leakfinder/internal/database/repositories"
	"leakfinder/internal/shodan"

	"github.com/pterm/pterm"
	"gorm.io/datatypes"
)

// Enricher adds location data to a finding before it is stored.
type Enricher interface {
	Enrich(f *models.HostFinding) error
}

// HostReconciler upserts host snapshots keyed by IP.
type HostReconciler struct {
	repo     repositories.HostFindingRepository
	enricher Enricher
	logger   *pterm.Logger
	now      func() time.Time
}

// NewHostReconciler accepts a nil enricher.
func NewHostReconciler(repo repositories.HostFindingRepository, enricher Enricher, logger *pterm.Logger) *HostReconciler {
	return &HostReconciler{repo: repo, enricher: enricher, logger: logger, now: time.Now}
}

func (r *HostReconciler) Apply(ctx context.Context, host *shodan.Host) (*models.HostFinding, bool, error) {
	if host == nil || strings.TrimSpace(host.IP) == "" {
		return nil, false, fmt.Errorf("reconcile: host snapshot has no IP")
	}

	ports, err := json.Marshal(NormalizePorts(host.Ports))
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode ports: %w", err)
	}
	raw := host.Raw
	if len(raw) == 0 {
		if raw, err = json.Marshal(host); err != nil {
			return nil, false, fmt.Errorf("failed to encode host payload: %w", err)
		}
	}
	hostnames := datatypes.JSONSlice[string]{}
	if len(host.Hostnames) > 0 {
		hostnames = datatypes.JSONSlice[string](host.Hostnames)
	}

	finding := &models.HostFinding{
		IP:        strings.TrimSpace(host.IP),
		Hostnames: hostnames,
		Ports:     datatypes.JSON(ports),
		Org:       host.Org,
		OS:        host.OS,
		Raw:       datatypes.JSON(raw),
		LastSeen:  r.now(),
	}
	if host.LastUpdate != nil && !host.LastUpdate.IsZero() {
		finding.LastSeen = *host.LastUpdate
	}

	if r.enricher != nil {
		if err := r.enricher.Enrich(finding); err != nil {
			r.logger.Debug("GeoIP enrichment failed", r.logger.Args("ip", finding.IP, "error", err))
		}
	}

	created, err := r.repo.Upsert(ctx, finding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert host %s: %w", finding.IP, err)
	}
	return finding, created, nil
}

// NormalizePorts sorts and deduplicates the list when every value is an
// integer; otherwise the list is returned unchanged.
func NormalizePorts(in []any) []any {
	if len(in) == 0 {
		return []any{}
	}
	ints := make([]int, 0, len(in))
	for _, v := range in {
		n, ok := portInt(v)
		if !ok {
			return in
		}
		ints = append(ints, n)
	}
	sort.Ints(ints)

	out := make([]any, 0, len(ints))
	for i, n := range ints {
		if i > 0 && ints[i-1] == n {
			continue
		}
		out = append(out, n)
	}
	return out
}

func portInt(v any) (int, bool) {
	switch p := v.(type) {
	case int:
		return p, true
	case int64:
		return int(p), true
	case float64:
		if p != math.Trunc(p) {
			return 0, false
		}
		return int(p), true
	case json.Number:
		n, err := strconv.Atoi(p.String())
		return n, err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(p))
		return n, err == nil
	}
	return 0, false
}
