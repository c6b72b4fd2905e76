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
// Package reconcile writes fetched breach and host data into storage.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"leakfinder/internal/database/models"
	"leakfinder/internal/database/repositories"
	"leakfinder/internal/hibp"

	"github.com/pterm/pterm"
	"gorm.io/datatypes"
)

// Result counts the rows a batch inserted and overwrote.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// BreachReconciler upserts breach batches for one identity at a time.
type BreachReconciler struct {
	repo   repositories.BreachRecordRepository
	logger *pterm.Logger
	locks  [lockStripes]sync.Mutex
}

// identities share a stripe by id; the set of locks stays fixed however many identities come and go
const lockStripes = 64

func NewBreachReconciler(repo repositories.BreachRecordRepository, logger *pterm.Logger) *BreachReconciler {
	return &BreachReconciler{repo: repo, logger: logger}
}

// Apply stores every breach in the batch under a resolved name. Names repeated
// within the batch get a " (n)" suffix by position, so re-applying the same
// batch targets the same rows and only updates.
func (r *BreachReconciler) Apply(ctx context.Context, identity *models.Identity, breaches []hibp.Breach) (Result, error) {
	var res Result
	if identity == nil || identity.ID == 0 {
		return res, fmt.Errorf("reconcile: identity is not persisted")
	}

	mu := r.lockFor(identity.ID)
	mu.Lock()
	defer mu.Unlock()

	used := make(map[string]struct{}, len(breaches))
	for i := range breaches {
		b := &breaches[i]
		name := uniqueName(ResolveName(b), used)
		used[name] = struct{}{}

		record := toRecord(identity.ID, name, b)
		created, err := r.repo.Upsert(ctx, record)
		if err != nil {
			return res, fmt.Errorf("failed to upsert breach %q: %w", name, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	r.logger.Debug("Reconciled breach batch", r.logger.Args(
		"identity", identity.ID,
		"records", len(breaches),
		"created", res.Created,
		"updated", res.Updated,
	))
	return res, nil
}

func (r *BreachReconciler) lockFor(id uint) *sync.Mutex {
	return &r.locks[id%lockStripes]
}

// ResolveName picks the stable key for a breach: name, title, domain, a key
// built from its dates, and finally "Unknown".
func ResolveName(b *hibp.Breach) string {
	for _, s := range []string{b.Name, b.Title, b.Domain} {
		if s = strings.TrimSpace(s); s != "" {
			return truncateName(s)
		}
	}
	occurred, added := dateOrEmpty(b.BreachDate), dateOrEmpty(b.AddedDate)
	if occurred != "" || added != "" {
		if occurred == "" {
			occurred = "na"
		}
		if added == "" {
			added = "na"
		}
		return "unknown-" + occurred + "-" + added
	}
	return "Unknown"
}

func uniqueName(base string, used map[string]struct{}) string {
	if _, taken := used[base]; !taken {
		return base
	}
	for n := 2; ; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		candidate := truncateTo(base, maxNameBytes-len(suffix)) + suffix
		if _, taken := used[candidate]; !taken {
			return candidate
		}
	}
}

// breach_name column is 200 wide
const maxNameBytes = 200

func truncateName(s string) string {
	return truncateTo(s, maxNameBytes)
}

// truncateTo cuts s to at most n bytes without splitting a rune.
func truncateTo(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func dateOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// nilIfEmpty keeps empty strings out of date columns.
func nilIfEmpty(p *string) *string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func toRecord(identityID uint, name string, b *hibp.Breach) *models.BreachRecord {
	classes := datatypes.JSONSlice[string]{}
	if len(b.DataClasses) > 0 {
		classes = datatypes.JSONSlice[string](b.DataClasses)
	}
	return &models.BreachRecord{
		IdentityID:         identityID,
		BreachName:         name,
		Domain:             b.Domain,
		Title:              b.Title,
		Description:        b.Description,
		PwnCount:           b.PwnCount,
		DataClasses:        classes,
		LogoPath:           b.LogoPath,
		OccurredOn:         nilIfEmpty(b.BreachDate),
		AddedOn:            nilIfEmpty(b.AddedDate),
		ModifiedOn:         nilIfEmpty(b.ModifiedDate),
		IsVerified:         b.IsVerified,
		IsSensitive:        b.IsSensitive,
		IsFabricated:       b.IsFabricated,
		IsSpamList:         b.IsSpamList,
		IsRetired:          b.IsRetired,
		IsMalware:          b.IsMalware,
		IsStealerLog:       b.IsStealerLog,
		IsSubscriptionFree: b.IsSubscriptionFree,
	}
}
