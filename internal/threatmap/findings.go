package threatmap

import (
	"context"
	"encoding/json"

	"leakfinder/internal/database/repositories"

	"github.com/pterm/pterm"
)

// FindingsProvider plots stored host findings that carry GeoIP coordinates.
// Intensity scales with the number of open ports relative to the busiest host.
type FindingsProvider struct {
	repo   repositories.HostFindingRepository
	logger *pterm.Logger
}

func NewFindingsProvider(repo repositories.HostFindingRepository, logger *pterm.Logger) *FindingsProvider {
	return &FindingsProvider{repo: repo, logger: logger}
}

func (p *FindingsProvider) FetchPoints(ctx context.Context, limit int, source string) []Point {
	findings, err := p.repo.FindGeolocated(ctx, limit)
	if err != nil {
		p.logger.WithCaller().Error("Failed to load geolocated host findings", p.logger.Args("error", err))
		return []Point{}
	}

	counts := make([]int, len(findings))
	maxPorts := 1
	for i, f := range findings {
		var ports []any
		if len(f.Ports) > 0 {
			_ = json.Unmarshal(f.Ports, &ports)
		}
		counts[i] = len(ports)
		if counts[i] > maxPorts {
			maxPorts = counts[i]
		}
	}

	points := make([]Point, 0, len(findings))
	for i, f := range findings {
		if f.Latitude == nil || f.Longitude == nil {
			continue
		}
		points = append(points, Point{
			Lat:       *f.Latitude,
			Lon:       *f.Longitude,
			Intensity: round3(clamp(float64(counts[i])/float64(maxPorts), 0.2, 1.0)),
			Country:   f.Country,
			Metric:    float64(counts[i]),
			Layer:     "host",
		})
	}
	return points
}
