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
package repositories

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// DefaultQueryTimeout bounds the dashboard aggregate queries.
const DefaultQueryTimeout = 10 * time.Second

// StatsRepository provides dashboard statistics over identities, breaches and host findings.
type StatsRepository interface {
	GetSummary(ctx context.Context) (*StatsSummary, error)
	GetTopDataClasses(ctx context.Context, limit int) ([]*DataClassStats, error)
	GetTopBreaches(ctx context.Context, limit int) ([]*BreachStats, error)
	GetHostCountries(ctx context.Context, limit int) ([]*CountryStats, error)
	GetBreachTimeline(ctx context.Context, years int) ([]*TimelineData, error)
}

type StatsSummary struct {
	Identities         int64 `json:"identities"`
	ExposedIdentities  int64 `json:"exposed_identities"`
	BreachRecords      int64 `json:"breach_records"`
	DistinctBreaches   int64 `json:"distinct_breaches"`
	VerifiedBreaches   int64 `json:"verified_breaches"`
	SensitiveBreaches  int64 `json:"sensitive_breaches"`
	StealerLogBreaches int64 `json:"stealer_log_breaches"`
	HostFindings       int64 `json:"host_findings"`
	GeolocatedHosts    int64 `json:"geolocated_hosts"`
}

type DataClassStats struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type BreachStats struct {
	BreachName string `json:"breach_name"`
	Domain     string `json:"domain"`
	Identities int64  `json:"identities"`
}

type CountryStats struct {
	Country string `json:"country"`
	Hosts   int64  `json:"hosts"`
}

type TimelineData struct {
	Year  string `json:"year"`
	Count int64  `json:"count"`
}

type statsRepo struct {
	db     *gorm.DB
	logger *pterm.Logger
}

// NewStatsRepository creates a new stats repository
func NewStatsRepository(db *gorm.DB, logger *pterm.Logger) StatsRepository {
	return &statsRepo{
		db:     db,
		logger: logger,
	}
}

// withTimeout derives a context with the default query timeout
func (r *statsRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

// GetSummary returns headline counts in a single round trip
func (r *statsRepo) GetSummary(ctx context.Context) (*StatsSummary, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var summary StatsSummary
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			(SELECT COUNT(*) FROM identities) AS identities,
			(SELECT COUNT(DISTINCT identity_id) FROM breach_records) AS exposed_identities,
			(SELECT COUNT(*) FROM breach_records) AS breach_records,
			(SELECT COUNT(DISTINCT breach_name) FROM breach_records) AS distinct_breaches,
			(SELECT COUNT(*) FROM breach_records WHERE is_verified = 1) AS verified_breaches,
			(SELECT COUNT(*) FROM breach_records WHERE is_sensitive = 1) AS sensitive_breaches,
			(SELECT COUNT(*) FROM breach_records WHERE is_stealer_log = 1) AS stealer_log_breaches,
			(SELECT COUNT(*) FROM host_findings) AS host_findings,
			(SELECT COUNT(*) FROM host_findings WHERE latitude IS NOT NULL AND longitude IS NOT NULL) AS geolocated_hosts
	`).Scan(&summary).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to get summary stats", r.logger.Args("error", err))
		return nil, err
	}
	return &summary, nil
}

// GetTopDataClasses returns the most frequently exposed data categories.
// data_classes is a JSON array bound as a blob, so it is cast to text before json_each.
func (r *statsRepo) GetTopDataClasses(ctx context.Context, limit int) ([]*DataClassStats, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT je.value AS name, COUNT(*) AS count
		FROM breach_records br, json_each(CAST(br.data_classes AS TEXT)) je
		WHERE br.data_classes IS NOT NULL AND json_valid(CAST(br.data_classes AS TEXT))
		GROUP BY je.value
		ORDER BY count DESC, name ASC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var classes []*DataClassStats
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&classes).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get top data classes", r.logger.Args("error", err))
		return nil, err
	}
	return classes, nil
}

// GetTopBreaches returns the breaches affecting the most monitored identities
func (r *statsRepo) GetTopBreaches(ctx context.Context, limit int) ([]*BreachStats, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var breaches []*BreachStats
	q := r.db.WithContext(ctx).Table("breach_records").
		Select("breach_name, MAX(domain) AS domain, COUNT(DISTINCT identity_id) AS identities").
		Group("breach_name").
		Order("identities DESC").
		Order("breach_name ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&breaches).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get top breaches", r.logger.Args("error", err))
		return nil, err
	}
	return breaches, nil
}

// GetHostCountries groups enriched host findings by country
func (r *statsRepo) GetHostCountries(ctx context.Context, limit int) ([]*CountryStats, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var countries []*CountryStats
	q := r.db.WithContext(ctx).Table("host_findings").
		Select("country, COUNT(*) AS hosts").
		Where("country != ''").
		Group("country").
		Order("hosts DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&countries).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get host countries", r.logger.Args("error", err))
		return nil, err
	}
	return countries, nil
}

// GetBreachTimeline counts breach records per occurrence year over the last n years.
// Undated records are left out.
func (r *statsRepo) GetBreachTimeline(ctx context.Context, years int) ([]*TimelineData, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if years <= 0 {
		years = 10
	}
	since := time.Now().AddDate(-years, 0, 0).Format("2006")

	var timeline []*TimelineData
	err := r.db.WithContext(ctx).Raw(`
		SELECT substr(occurred_on, 1, 4) AS year, COUNT(*) AS count
		FROM breach_records
		WHERE occurred_on IS NOT NULL AND substr(occurred_on, 1, 4) >= ?
		GROUP BY year
		ORDER BY year ASC
	`, since).Scan(&timeline).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to get breach timeline", r.logger.Args("error", err))
		return nil, err
	}
	return timeline, nil
}
