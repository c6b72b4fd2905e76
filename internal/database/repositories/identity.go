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
)

type IdentityRepository interface {
	GetOrCreate(ctx context.Context, address string) (*models.Identity, bool, error)
	FindByID(ctx context.Context, id uint) (*models.Identity, error)
	FindByAddress(ctx context.Context, address string) (*models.Identity, error)
	FindAll(ctx context.Context) ([]*models.Identity, error)
	Delete(ctx context.Context, id uint) error
}

type identityRepo struct {
	db *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) IdentityRepository {
	return &identityRepo{db: db}
}

// GetOrCreate returns the identity for address, creating it if needed. The bool is true when created.
// address is expected to be normalized already.
func (r *identityRepo) GetOrCreate(ctx context.Context, address string) (*models.Identity, bool, error) {
	var identity models.Identity
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("address = ?", address).First(&identity).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		identity = models.Identity{Address: address}
		if err := tx.Create(&identity).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &identity, created, nil
}

func (r *identityRepo) FindByID(ctx context.Context, id uint) (*models.Identity, error) {
	var identity models.Identity
	if err := r.db.WithContext(ctx).First(&identity, id).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *identityRepo) FindByAddress(ctx context.Context, address string) (*models.Identity, error) {
	var identity models.Identity
	if err := r.db.WithContext(ctx).Where("address = ?", address).First(&identity).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

// FindAll lists identities newest first.
func (r *identityRepo) FindAll(ctx context.Context) ([]*models.Identity, error) {
	var identities []*models.Identity
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&identities).Error
	return identities, err
}

// Delete removes the identity and every breach record attached to it.
func (r *identityRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_id = ?", id).Delete(&models.BreachRecord{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Identity{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
