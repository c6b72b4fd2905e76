package enrichment

import (
	"errors"
	"net"
	"testing"

	"leakfinder/internal/database/models"

	"github.com/oschwald/geoip2-golang"
	"github.com/pterm/pterm"
)

type fakeCity struct{ calls int }

func (f *fakeCity) City(ip net.IP) (*geoip2.City, error) {
	f.calls++
	if ip.String() == "10.0.0.1" {
		return nil, errors.New("not found")
	}
	rec := &geoip2.City{}
	rec.Country.IsoCode = "US"
	rec.Country.Names = map[string]string{"en": "United States"}
	rec.City.Names = map[string]string{"en": "Mountain View"}
	rec.Location.Latitude = 37.386
	rec.Location.Longitude = -122.0838
	return rec, nil
}

type fakeCountry struct{}

func (fakeCountry) Country(ip net.IP) (*geoip2.Country, error) {
	rec := &geoip2.Country{}
	rec.Country.IsoCode = "DE"
	return rec, nil
}

type fakeASN struct{}

func (fakeASN) ASN(ip net.IP) (*geoip2.ASN, error) {
	return &geoip2.ASN{AutonomousSystemNumber: 15169, AutonomousSystemOrganization: "GOOGLE"}, nil
}

func newTestEnricher(cacheSize int) (*GeoIPEnricher, *fakeCity) {
	city := &fakeCity{}
	g := newEnricher(pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace), cacheSize)
	g.cityDB = city
	g.countryDB = fakeCountry{}
	g.asnDB = fakeASN{}
	g.enabled = true
	return g, city
}

func TestEnrich_CityAndASN(t *testing.T) {
	g, _ := newTestEnricher(10)
	f := &models.HostFinding{IP: "8.8.8.8"}

	if err := g.Enrich(f); err != nil {
		t.Fatalf("Enrich failed: %v", err)
	}
	if f.Country != "US" || f.City != "Mountain View" {
		t.Errorf("Expected US/Mountain View, got %s/%s", f.Country, f.City)
	}
	if f.Latitude == nil || *f.Latitude != 37.386 {
		t.Errorf("Expected latitude 37.386, got %v", f.Latitude)
	}
	if f.ASN != 15169 || f.ASNOrg != "GOOGLE" {
		t.Errorf("Expected ASN 15169 GOOGLE, got %d %s", f.ASN, f.ASNOrg)
	}
}

func TestEnrich_CountryFallback(t *testing.T) {
	g, _ := newTestEnricher(10)
	f := &models.HostFinding{IP: "10.0.0.1"}

	if err := g.Enrich(f); err != nil {
		t.Fatal(err)
	}
	if f.Country != "DE" {
		t.Errorf("Expected country fallback DE, got '%s'", f.Country)
	}
	if f.Latitude != nil {
		t.Error("Expected no coordinates from the country database")
	}
}

func TestLookup_CachesAndEvicts(t *testing.T) {
	g, city := newTestEnricher(10)

	for i := 0; i < 3; i++ {
		if _, err := g.Lookup("8.8.8.8"); err != nil {
			t.Fatal(err)
		}
	}
	if city.calls != 1 {
		t.Errorf("Expected a single database lookup, got %d", city.calls)
	}

	for i := 1; i <= 15; i++ {
		g.Lookup(net.IPv4(1, 1, 1, byte(i)).String())
	}
	if g.CacheSize() > 10 {
		t.Errorf("Expected cache to stay within 10 entries, got %d", g.CacheSize())
	}
}

func TestLookup_InvalidIP(t *testing.T) {
	g, _ := newTestEnricher(10)
	if _, err := g.Lookup("not-an-ip"); err == nil {
		t.Error("Expected error for invalid IP")
	}
}

func TestEnrich_DisabledIsNoop(t *testing.T) {
	g := NewGeoIPEnricher("", "", "", pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace), 0)
	if g.IsEnabled() {
		t.Fatal("Expected enricher to be disabled")
	}
	f := &models.HostFinding{IP: "8.8.8.8"}
	if err := g.Enrich(f); err != nil || f.Country != "" {
		t.Errorf("Expected no-op, got err=%v country=%s", err, f.Country)
	}

	var nilEnricher *GeoIPEnricher
	if err := nilEnricher.Enrich(f); err != nil {
		t.Errorf("Expected nil enricher to be a no-op, got %v", err)
	}
}

func TestNewGeoIPEnricher_MissingFiles(t *testing.T) {
	g := NewGeoIPEnricher("/nonexistent/city.mmdb", "", "/nonexistent/asn.mmdb", pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace), 0)
	if g.IsEnabled() {
		t.Error("Expected enricher to be disabled when databases cannot be opened")
	}
	g.Close()
}
