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
	"errors"

	"leakfinder/internal/database/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type HostFindingRepository interface {
	Upsert(ctx context.Context, finding *models.HostFinding) (bool, error)
	FindByID(ctx context.Context, id uint) (*models.HostFinding, error)
	FindRecent(ctx context.Context, limit int) ([]*models.HostFinding, error)
	FindGeolocated(ctx context.Context, limit int) ([]*models.HostFinding, error)
	Delete(ctx context.Context, id uint) error
}

type hostFindingRepo struct {
	db *gorm.DB
}

func NewHostFindingRepository(db *gorm.DB) HostFindingRepository {
	return &hostFindingRepo{db: db}
}

var hostMutableColumns = []string{
	"hostnames", "ports", "org", "os", "raw", "last_seen",
	"country", "city", "latitude", "longitude", "asn", "asn_org",
	"updated_at",
}

// Upsert stores the snapshot keyed by IP, replacing any earlier snapshot. Reports true when inserted.
func (r *hostFindingRepo) Upsert(ctx context.Context, finding *models.HostFinding) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.HostFinding
		err := tx.Select("id").Where("ip = ?", finding.IP).First(&existing).Error
		switch {
		case err == nil:
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
		default:
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ip"}},
			DoUpdates: clause.AssignmentColumns(hostMutableColumns),
		}).Create(finding).Error; err != nil {
			return err
		}
		var stored models.HostFinding
		if err := tx.Where("ip = ?", finding.IP).First(&stored).Error; err != nil {
			return err
		}
		*finding = stored
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *hostFindingRepo) FindByID(ctx context.Context, id uint) (*models.HostFinding, error) {
	var f models.HostFinding
	if err := r.db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// FindRecent returns the most recently observed findings.
func (r *hostFindingRepo) FindRecent(ctx context.Context, limit int) ([]*models.HostFinding, error) {
	var out []*models.HostFinding
	err := r.db.WithContext(ctx).Order("last_seen DESC").Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// FindGeolocated returns findings that carry coordinates, most recent first.
func (r *hostFindingRepo) FindGeolocated(ctx context.Context, limit int) ([]*models.HostFinding, error) {
	var out []*models.HostFinding
	err := r.db.WithContext(ctx).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Order("last_seen DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *hostFindingRepo) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.HostFinding{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
