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
package models

import (
	"time"

	"gorm.io/datatypes"
)

// BreachRecord links one Identity to one named breach. (identity_id, breach_name) is unique.
type BreachRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	IdentityID uint   `gorm:"not null;uniqueIndex:idx_identity_breach,priority:1" json:"identity_id"`
	BreachName string `gorm:"size:200;not null;uniqueIndex:idx_identity_breach,priority:2" json:"breach_name"`

	Domain      string                      `gorm:"size:255" json:"domain"`
	Title       string                      `gorm:"size:255" json:"title"`
	Description string                      `gorm:"type:text" json:"description"` // untrusted HTML
	PwnCount    *int64                      `json:"pwn_count"`
	DataClasses datatypes.JSONSlice[string] `json:"data_classes"`
	LogoPath    string                      `gorm:"size:255" json:"logo_path"`

	// Dates are YYYY-MM-DD or NULL, never empty.
	OccurredOn *string `gorm:"type:date;index:idx_breach_order,priority:1" json:"occurred_on"`
	AddedOn    *string `gorm:"type:date;index:idx_breach_order,priority:2" json:"added_on"`
	ModifiedOn *string `gorm:"type:date" json:"modified_on"`

	IsVerified         bool `gorm:"not null" json:"is_verified"`
	IsSensitive        bool `gorm:"not null" json:"is_sensitive"`
	IsFabricated       bool `gorm:"not null" json:"is_fabricated"`
	IsSpamList         bool `gorm:"not null" json:"is_spam_list"`
	IsRetired          bool `gorm:"not null" json:"is_retired"`
	IsMalware          bool `gorm:"not null" json:"is_malware"`
	IsStealerLog       bool `gorm:"not null" json:"is_stealer_log"`
	IsSubscriptionFree bool `gorm:"not null" json:"is_subscription_free"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BreachRecord) TableName() string {
	return "breach_records"
}
