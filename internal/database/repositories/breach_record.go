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

type BreachRecordRepository interface {
	FindByIdentity(ctx context.Context, identityID uint) ([]*models.BreachRecord, error)
	FindByName(ctx context.Context, identityID uint, name string) (*models.BreachRecord, error)
	Upsert(ctx context.Context, record *models.BreachRecord) (bool, error)
	CountByIdentity(ctx context.Context, identityID uint) (int64, error)
}

type breachRecordRepo struct {
	db *gorm.DB
}

func NewBreachRecordRepository(db *gorm.DB) BreachRecordRepository {
	return &breachRecordRepo{db: db}
}

// breachMutableColumns are overwritten when a rescan finds an existing (identity, name) row.
var breachMutableColumns = []string{
	"domain", "title", "description", "pwn_count", "data_classes", "logo_path",
	"occurred_on", "added_on", "modified_on",
	"is_verified", "is_sensitive", "is_fabricated", "is_spam_list",
	"is_retired", "is_malware", "is_stealer_log", "is_subscription_free",
	"updated_at",
}

// FindByIdentity returns breaches newest first: occurred, then added, then id.
func (r *breachRecordRepo) FindByIdentity(ctx context.Context, identityID uint) ([]*models.BreachRecord, error) {
	var records []*models.BreachRecord
	err := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("occurred_on DESC").
		Order("added_on DESC").
		Order("id DESC").
		Find(&records).Error
	return records, err
}

func (r *breachRecordRepo) FindByName(ctx context.Context, identityID uint, name string) (*models.BreachRecord, error) {
	var record models.BreachRecord
	err := r.db.WithContext(ctx).Where("identity_id = ? AND breach_name = ?", identityID, name).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert writes one record keyed by (identity_id, breach_name) in its own transaction.
// It reports true when a new row was inserted. The insert carries ON CONFLICT DO UPDATE,
// so a concurrent writer that wins the race turns this call into an update instead of a
// constraint failure.
func (r *breachRecordRepo) Upsert(ctx context.Context, record *models.BreachRecord) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.BreachRecord
		err := tx.Select("id").
			Where("identity_id = ? AND breach_name = ?", record.IdentityID, record.BreachName).
			First(&existing).Error
		switch {
		case err == nil:
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
		default:
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity_id"}, {Name: "breach_name"}},
			DoUpdates: clause.AssignmentColumns(breachMutableColumns),
		}).Create(record).Error; err != nil {
			return err
		}

		var stored models.BreachRecord
		if err := tx.Where("identity_id = ? AND breach_name = ?", record.IdentityID, record.BreachName).
			First(&stored).Error; err != nil {
			return err
		}
		*record = stored
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *breachRecordRepo) CountByIdentity(ctx context.Context, identityID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.BreachRecord{}).Where("identity_id = ?", identityID).Count(&n).Error
	return n, err
}
