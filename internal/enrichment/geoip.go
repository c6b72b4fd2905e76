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
package enrichment

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"leakfinder/internal/database/models"

	"github.com/oschwald/geoip2-golang"
	"github.com/pterm/pterm"
)

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
}

type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
}

type asnReader interface {
	ASN(ip net.IP) (*geoip2.ASN, error)
}

// Location is what the GeoIP databases know about one address.
type Location struct {
	Country     string
	CountryName string
	City        string
	Latitude    float64
	Longitude   float64
	HasCoords   bool
	ASN         uint
	ASNOrg      string

	lookedUp time.Time
}

// GeoIPEnricher attaches location and ASN data to host findings.
type GeoIPEnricher struct {
	cityDB    cityReader
	countryDB countryReader
	asnDB     asnReader
	closers   []func() error
	logger    *pterm.Logger
	cache     map[string]*Location
	cacheMu   sync.RWMutex
	enabled   bool
	cacheSize int
}

// NewGeoIPEnricher opens whichever of the City, Country and ASN databases are configured.
// Missing databases only disable the matching lookups.
func NewGeoIPEnricher(cityDBPath, countryDBPath, asnDBPath string, logger *pterm.Logger, cacheSize int) *GeoIPEnricher {
	g := newEnricher(logger, cacheSize)

	if cityDBPath != "" {
		if db, err := geoip2.Open(cityDBPath); err != nil {
			logger.Warn("GeoIP City database not available", logger.Args("path", cityDBPath, "error", err))
		} else {
			g.cityDB = db
			g.closers = append(g.closers, db.Close)
			logger.Info("Loaded GeoIP City database", logger.Args("path", cityDBPath))
		}
	}

	if countryDBPath != "" {
		if db, err := geoip2.Open(countryDBPath); err != nil {
			logger.Warn("GeoIP Country database not available", logger.Args("path", countryDBPath, "error", err))
		} else {
			g.countryDB = db
			g.closers = append(g.closers, db.Close)
			logger.Info("Loaded GeoIP Country database", logger.Args("path", countryDBPath))
		}
	}

	if asnDBPath != "" {
		if db, err := geoip2.Open(asnDBPath); err != nil {
			logger.Warn("GeoIP ASN database not available", logger.Args("path", asnDBPath, "error", err))
		} else {
			g.asnDB = db
			g.closers = append(g.closers, db.Close)
			logger.Info("Loaded GeoIP ASN database", logger.Args("path", asnDBPath))
		}
	}

	g.enabled = g.cityDB != nil || g.countryDB != nil || g.asnDB != nil
	if !g.enabled {
		logger.Debug("GeoIP enrichment disabled - no databases available")
	}
	return g
}

func newEnricher(logger *pterm.Logger, cacheSize int) *GeoIPEnricher {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &GeoIPEnricher{
		logger:    logger,
		cache:     make(map[string]*Location, 64),
		cacheSize: cacheSize,
	}
}

// Enrich fills the geo and ASN columns of a finding. It is a no-op when disabled.
func (g *GeoIPEnricher) Enrich(finding *models.HostFinding) error {
	if g == nil || !g.enabled || finding.IP == "" {
		return nil
	}

	loc, err := g.Lookup(finding.IP)
	if err != nil {
		return err
	}

	finding.Country = loc.Country
	finding.City = loc.City
	finding.ASN = loc.ASN
	finding.ASNOrg = loc.ASNOrg
	if loc.HasCoords {
		lat, lon := loc.Latitude, loc.Longitude
		finding.Latitude = &lat
		finding.Longitude = &lon
	}
	return nil
}

// Lookup returns the cached or freshly resolved location of ip.
func (g *GeoIPEnricher) Lookup(ip string) (*Location, error) {
	g.cacheMu.RLock()
	cached, ok := g.cache[ip]
	g.cacheMu.RUnlock()
	if ok {
		g.logger.Trace("GeoIP cache hit", g.logger.Args("ip", ip, "country", cached.Country))
		return cached, nil
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		g.logger.Debug("Invalid IP address for GeoIP lookup", g.logger.Args("ip", ip))
		return nil, fmt.Errorf("invalid IP: %s", ip)
	}

	loc := &Location{lookedUp: time.Now()}

	cityHit := false
	if g.cityDB != nil {
		if record, err := g.cityDB.City(parsed); err == nil {
			loc.Country = record.Country.IsoCode
			loc.CountryName = record.Country.Names["en"]
			loc.City = record.City.Names["en"]
			loc.Latitude = record.Location.Latitude
			loc.Longitude = record.Location.Longitude
			loc.HasCoords = record.Location.Latitude != 0 || record.Location.Longitude != 0
			cityHit = loc.Country != ""
		} else {
			g.logger.Debug("GeoIP City lookup failed", g.logger.Args("ip", ip, "error", err))
		}
	}

	if !cityHit && g.countryDB != nil {
		if record, err := g.countryDB.Country(parsed); err == nil {
			loc.Country = record.Country.IsoCode
			loc.CountryName = record.Country.Names["en"]
		} else {
			g.logger.Debug("GeoIP Country lookup failed", g.logger.Args("ip", ip, "error", err))
		}
	}

	if g.asnDB != nil {
		if record, err := g.asnDB.ASN(parsed); err == nil {
			loc.ASN = record.AutonomousSystemNumber
			loc.ASNOrg = record.AutonomousSystemOrganization
		} else {
			g.logger.Debug("GeoIP ASN lookup failed", g.logger.Args("ip", ip, "error", err))
		}
	}

	g.store(ip, loc)
	return loc, nil
}

func (g *GeoIPEnricher) store(ip string, loc *Location) {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()

	if len(g.cache) >= g.cacheSize {
		// drop the oldest tenth
		evictCount := g.cacheSize / 10
		if evictCount < 1 {
			evictCount = 1
		}
		type ipAge struct {
			ip string
			at time.Time
		}
		ages := make([]ipAge, 0, len(g.cache))
		for k, v := range g.cache {
			ages = append(ages, ipAge{ip: k, at: v.lookedUp})
		}
		sort.Slice(ages, func(i, j int) bool { return ages[i].at.Before(ages[j].at) })
		for i := 0; i < evictCount && i < len(ages); i++ {
			delete(g.cache, ages[i].ip)
		}
		g.logger.Debug("GeoIP cache eviction performed",
			g.logger.Args("evicted", evictCount, "cache_size", len(g.cache), "max_size", g.cacheSize))
	}
	g.cache[ip] = loc
}

// Close closes the GeoIP databases.
func (g *GeoIPEnricher) Close() error {
	for _, c := range g.closers {
		c()
	}
	g.closers = nil
	return nil
}

// IsEnabled returns whether any GeoIP database is loaded.
func (g *GeoIPEnricher) IsEnabled() bool {
	return g != nil && g.enabled
}

// CacheSize returns the number of cached lookups.
func (g *GeoIPEnricher) CacheSize() int {
	g.cacheMu.RLock()
	defer g.cacheMu.RUnlock()
	return len(g.cache)
}
