// Package threatmap serves cached attack-telemetry points for the world heatmap.
package threatmap

import "context"

// Source selectors understood by the providers.
const (
	SourceLayer7Origin = "layer7_origin"
	SourceLayer7Target = "layer7_target"
	SourceLayer3Origin = "layer3_origin"
	SourceLayer3Target = "layer3_target"
)

var allowedSources = map[string]bool{
	SourceLayer7Origin: true,
	SourceLayer7Target: true,
	SourceLayer3Origin: true,
	SourceLayer3Target: true,
}

// AllowedSource reports whether s is a selector clients may pass through.
// Anything else should be treated as the provider default.
func AllowedSource(s string) bool {
	return allowedSources[s]
}

// Point is one heatmap sample.
type Point struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Intensity float64 `json:"intensity"`
	Country   string  `json:"country,omitempty"`
	Metric    float64 `json:"metric"`
	Layer     string  `json:"layer,omitempty"`
	Direction string  `json:"direction,omitempty"`
}

// Provider produces points for a selector. Implementations never fail: on any
// internal error they return fallback points.
type Provider interface {
	FetchPoints(ctx context.Context, limit int, source string) []Point
}
