package threatmap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *CloudflareProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewCloudflareProvider(CloudflareOptions{Token: "tok", BaseURL: srv.URL}, testLogger())
	p.jitter = func() float64 { return 0 }
	return p
}

func TestCloudflare_MapsRows(t *testing.T) {
	var gotPath, gotAuth, gotName, gotLimit string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotName = r.URL.Query().Get("name")
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`{"success":true,"result":{"meta":{},"top_locations":[
			{"targetCountryAlpha2":"us","value":"40"},
			{"targetCountryAlpha2":"ZZ","value":"30"},
			{"targetCountryAlpha2":"DE","value":"4"}
		]}}`))
	})

	points := p.FetchPoints(context.Background(), 10, SourceLayer3Target)

	assert.Equal(t, "/radar/attacks/layer3/top/locations/target", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "attacks_target", gotName)
	assert.Equal(t, "10", gotLimit)

	require.Len(t, points, 2, "unknown country codes are skipped")
	assert.Equal(t, Point{Lat: 37.0902, Lon: -95.7129, Intensity: 1, Country: "US", Metric: 40, Layer: "L3", Direction: "target"}, points[0])
	assert.Equal(t, "DE", points[1].Country)
	assert.Equal(t, 0.2, points[1].Intensity, "intensity floors at 0.2")
}

func TestCloudflare_DefaultSourceAndRowKeyOrder(t *testing.T) {
	var gotPath string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"result":{"series":[{"originCountryAlpha2":"JP","value":3}],"zz":[{"originCountryAlpha2":"FR","value":9}]}}`))
	})

	points := p.FetchPoints(context.Background(), 5, "")
	assert.Equal(t, "/radar/attacks/layer7/top/locations/origin", gotPath)
	require.Len(t, points, 1)
	assert.Equal(t, "JP", points[0].Country)
	assert.Equal(t, "L7", points[0].Layer)
	assert.Equal(t, "origin", points[0].Direction)
}

func TestCloudflare_LimitAppliesBeforeMapping(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"attacks_origin":[
			{"originCountryAlpha2":"US","value":10},
			{"originCountryAlpha2":"CN","value":5},
			{"originCountryAlpha2":"RU","value":1}
		]}}`))
	})
	points := p.FetchPoints(context.Background(), 2, SourceLayer7Origin)
	require.Len(t, points, 2)
	assert.Equal(t, 0.5, points[1].Intensity)
}

func TestCloudflare_FallbackCases(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) }},
		{"no rows", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"result":{"meta":{}}}`)) }},
		{"no mappable rows", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result":{"data":[{"originCountryAlpha2":"ZZ","value":1}]}}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, tt.handler)
			points := p.FetchPoints(context.Background(), 10, SourceLayer3Target)
			require.Len(t, points, 4)
			for _, pt := range points {
				assert.Equal(t, "L3", pt.Layer)
				assert.Equal(t, "target", pt.Direction)
			}
			assert.Equal(t, "US", points[0].Country)
			assert.Equal(t, 0.9, points[0].Intensity)
		})
	}
}

func TestCloudflare_NoTokenSkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	p := NewCloudflareProvider(CloudflareOptions{BaseURL: srv.URL}, testLogger())
	points := p.FetchPoints(context.Background(), 10, "")
	if called {
		t.Error("Expected no request without a token")
	}
	if len(points) != 4 || points[0].Layer != "L7" || points[0].Direction != "origin" {
		t.Errorf("Expected default fallback points, got %+v", points)
	}
}

func TestCloudflare_JitterStaysNearCentroid(t *testing.T) {
	p := NewCloudflareProvider(CloudflareOptions{}, testLogger())
	for i := 0; i < 100; i++ {
		j := p.jitter()
		if j < -jitterDegrees || j > jitterDegrees {
			t.Fatalf("Expected jitter within ±%v, got %v", jitterDegrees, j)
		}
	}
}
