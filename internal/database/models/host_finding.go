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

// HostFinding is the latest exposure snapshot for one IP. Rescans overwrite it in place.
type HostFinding struct {
	ID        uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	IP        string                      `gorm:"uniqueIndex;not null;size:45" json:"ip"`
	Hostnames datatypes.JSONSlice[string] `json:"hostnames"`
	Ports     datatypes.JSON              `json:"ports"`
	Org       string                      `gorm:"size:255" json:"org"`
	OS        string                      `gorm:"size:255" json:"os"`
	Raw       datatypes.JSON              `json:"raw"` // opaque upstream payload

	// GeoIP enrichment, empty when no database is configured
	Country   string   `gorm:"size:2;index" json:"country,omitempty"`
	City      string   `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	ASN       uint     `json:"asn,omitempty"`
	ASNOrg    string   `json:"asn_org,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_on"`
	LastSeen  time.Time `gorm:"not null;index" json:"last_seen"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (HostFinding) TableName() string {
	return "host_findings"
}
