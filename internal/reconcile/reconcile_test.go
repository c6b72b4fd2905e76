package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"leakfinder/internal/database"
	"leakfinder/internal/database/models"
	"leakfinder/internal/database/repositories"
	"leakfinder/internal/hibp"
	"leakfinder/internal/shodan"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func strPtr(s string) *string { return &s }

type fixture struct {
	db         *gorm.DB
	identities repositories.IdentityRepository
	breaches   repositories.BreachRecordRepository
	hosts      repositories.HostFindingRepository
	logger     *pterm.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	db, err := database.NewConnection(&database.Config{Path: database.MemoryPath}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return &fixture{
		db:         db,
		identities: repositories.NewIdentityRepository(db),
		breaches:   repositories.NewBreachRecordRepository(db),
		hosts:      repositories.NewHostFindingRepository(db),
		logger:     logger,
	}
}

func (f *fixture) identity(t *testing.T, addr string) *models.Identity {
	t.Helper()
	id, _, err := f.identities.GetOrCreate(context.Background(), addr)
	require.NoError(t, err)
	return id
}

func (f *fixture) names(t *testing.T, id uint) []string {
	t.Helper()
	recs, err := f.breaches.FindByIdentity(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.BreachName)
	}
	return out
}

func TestResolveName(t *testing.T) {
	tests := []struct {
		name string
		in   hibp.Breach
		want string
	}{
		{"name wins", hibp.Breach{Name: "Adobe", Title: "Adobe Inc", Domain: "adobe.com"}, "Adobe"},
		{"title next", hibp.Breach{Title: " Adobe Inc "}, "Adobe Inc"},
		{"domain next", hibp.Breach{Domain: "adobe.com"}, "adobe.com"},
		{"dates", hibp.Breach{BreachDate: strPtr("2013-10-04")}, "unknown-2013-10-04-na"},
		{"added only", hibp.Breach{AddedDate: strPtr("2013-12-04")}, "unknown-na-2013-12-04"},
		{"empty date ignored", hibp.Breach{BreachDate: strPtr("")}, "Unknown"},
		{"nothing", hibp.Breach{}, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveName(&tt.in); got != tt.want {
				t.Errorf("Expected '%s', got '%s'", tt.want, got)
			}
		})
	}
}

func TestBreachApply_DuplicateNamesInBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.identity(t, "alice@example.com")
	r := NewBreachReconciler(f.breaches, f.logger)

	batch := []hibp.Breach{
		{Name: "Adobe", Domain: "adobe.com"},
		{Name: "Adobe", Domain: "adobe.net"},
	}
	res, err := r.Apply(ctx, alice, batch)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2, Updated: 0}, res)
	assert.ElementsMatch(t, []string{"Adobe", "Adobe (2)"}, f.names(t, alice.ID))

	second, err := f.breaches.FindByName(ctx, alice.ID, "Adobe (2)")
	require.NoError(t, err)
	assert.Equal(t, "adobe.net", second.Domain)
}

func TestBreachApply_DuplicateLongNames(t *testing.T) {
	f := newFixture(t)
	alice := f.identity(t, "alice@example.com")
	r := NewBreachReconciler(f.breaches, f.logger)

	long := strings.Repeat("A", 210)
	batch := []hibp.Breach{{Name: long}, {Name: long}, {Name: long}}

	done := make(chan error, 1)
	go func() {
		_, err := r.Apply(context.Background(), alice, batch)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Expected Apply to finish for repeated long names")
	}

	names := f.names(t, alice.ID)
	require.Len(t, names, 3)
	base := strings.Repeat("A", 200)
	assert.ElementsMatch(t, []string{base, base[:196] + " (2)", base[:196] + " (3)"}, names)
	for _, n := range names {
		if len(n) > 200 {
			t.Errorf("Expected name within 200 bytes, got %d", len(n))
		}
	}
}

func TestTruncateName_KeepsRunesWhole(t *testing.T) {
	// 'é' is two bytes, so byte 200 falls inside a rune
	name := "x" + strings.Repeat("é", 150)
	got := truncateName(name)
	if !utf8.ValidString(got) {
		t.Errorf("Expected valid UTF-8, got %q", got)
	}
	if len(got) != 199 {
		t.Errorf("Expected 199 bytes, got %d", len(got))
	}

	used := map[string]struct{}{got: {}}
	suffixed := uniqueName(got, used)
	if !utf8.ValidString(suffixed) || !strings.HasSuffix(suffixed, " (2)") || len(suffixed) > 200 {
		t.Errorf("Expected a valid suffixed name within 200 bytes, got %q (%d bytes)", suffixed, len(suffixed))
	}
}

func TestBreachApply_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.identity(t, "alice@example.com")
	r := NewBreachReconciler(f.breaches, f.logger)

	pwn := int64(152445165)
	batch := []hibp.Breach{
		{Name: "Adobe", Title: "Adobe", BreachDate: strPtr("2013-10-04"), PwnCount: &pwn, DataClasses: []string{"Emails", "Passwords"}},
		{Name: "Adobe"},
		{Title: "Untitled"},
		{},
	}

	first, err := r.Apply(ctx, alice, batch)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Created)
	before, err := f.breaches.FindByIdentity(ctx, alice.ID)
	require.NoError(t, err)

	again, err := r.Apply(ctx, alice, batch)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 0, Updated: 4}, again)

	after, err := f.breaches.FindByIdentity(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].BreachName, after[i].BreachName)
		assert.Equal(t, before[i].DataClasses, after[i].DataClasses)
		assert.Equal(t, before[i].OccurredOn, after[i].OccurredOn)
	}
}

func TestBreachApply_UpdatesChangedUpstream(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.identity(t, "alice@example.com")
	r := NewBreachReconciler(f.breaches, f.logger)

	_, err := r.Apply(ctx, alice, []hibp.Breach{{Name: "LinkedIn", IsVerified: false}})
	require.NoError(t, err)
	res, err := r.Apply(ctx, alice, []hibp.Breach{{Name: "LinkedIn", IsVerified: true, ModifiedDate: strPtr("2024-01-01")},
		{Name: "Dropbox"}})
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 1, Updated: 1}, res)

	rec, err := f.breaches.FindByName(ctx, alice.ID, "LinkedIn")
	require.NoError(t, err)
	assert.True(t, rec.IsVerified)
	require.NotNil(t, rec.ModifiedOn)
	assert.Equal(t, "2024-01-01", *rec.ModifiedOn)
}

func TestBreachApply_EmptyDatesStoredAsNull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.identity(t, "alice@example.com")
	r := NewBreachReconciler(f.breaches, f.logger)

	_, err := r.Apply(ctx, alice, []hibp.Breach{{Name: "X", BreachDate: strPtr(""), AddedDate: strPtr("  ")}})
	require.NoError(t, err)

	var n int64
	f.db.Model(&models.BreachRecord{}).Where("occurred_on = '' OR added_on = ''").Count(&n)
	assert.Equal(t, int64(0), n)
	rec, err := f.breaches.FindByName(ctx, alice.ID, "X")
	require.NoError(t, err)
	assert.Nil(t, rec.OccurredOn)
	assert.Nil(t, rec.AddedOn)
}

func TestBreachApply_ConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.identity(t, "alice@example.com")
	r := NewBreachReconciler(f.breaches, f.logger)
	batch := []hibp.Breach{{Name: "Adobe"}, {Name: "Adobe"}, {Name: "Canva"}}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Apply(ctx, alice, batch)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := f.breaches.CountByIdentity(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestLockFor_StripesByIdentity(t *testing.T) {
	r := NewBreachReconciler(nil, pterm.DefaultLogger.WithLevel(pterm.LogLevelError))
	if r.lockFor(7) != r.lockFor(7) {
		t.Error("Expected the same lock for the same identity")
	}
	if r.lockFor(7) == r.lockFor(8) {
		t.Error("Expected neighbouring identities on different stripes")
	}
	if r.lockFor(7) != r.lockFor(7+lockStripes) {
		t.Error("Expected ids to wrap onto the fixed stripe set")
	}
}

func TestBreachApply_RequiresPersistedIdentity(t *testing.T) {
	r := NewBreachReconciler(newFixture(t).breaches, pterm.DefaultLogger.WithLevel(pterm.LogLevelError))
	if _, err := r.Apply(context.Background(), &models.Identity{}, nil); err == nil {
		t.Error("Expected error for unsaved identity")
	}
}

func TestNormalizePorts(t *testing.T) {
	assert.Equal(t, []any{22, 80, 443}, NormalizePorts([]any{443.0, 80.0, 22.0, 80.0}))
	assert.Equal(t, []any{53, 8080}, NormalizePorts([]any{"8080", json.Number("53")}))
	mixed := []any{443.0, "http", 22.0}
	assert.Equal(t, mixed, NormalizePorts(mixed), "non-integer values keep the original order")
	assert.Equal(t, []any{}, NormalizePorts(nil))
}

type fakeEnricher struct{ err error }

func (e fakeEnricher) Enrich(f *models.HostFinding) error {
	if e.err != nil {
		return e.err
	}
	f.Country = "US"
	lat, lon := 37.4, -122.1
	f.Latitude, f.Longitude = &lat, &lon
	return nil
}

func TestHostApply_UpsertsByIP(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := NewHostReconciler(f.hosts, fakeEnricher{}, f.logger)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	first, created, err := r.Apply(ctx, &shodan.Host{IP: "8.8.8.8", Hostnames: []string{"dns.google"}, Ports: []any{443.0, 53.0}})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.LastSeen.Equal(fixed), "last_seen defaults to now")
	assert.Equal(t, "US", first.Country)
	assert.JSONEq(t, `[53,443]`, string(first.Ports))

	seen := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	second, created, err := r.Apply(ctx, &shodan.Host{IP: "8.8.8.8", Hostnames: []string{"other.example"}, LastUpdate: &seen,
		Raw: json.RawMessage(`{"ip_str":"8.8.8.8"}`)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	recent, err := f.hosts.FindRecent(ctx, 12)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, []string{"other.example"}, []string(recent[0].Hostnames))
	assert.True(t, recent[0].LastSeen.Equal(seen))
	assert.JSONEq(t, `{"ip_str":"8.8.8.8"}`, string(recent[0].Raw))
}

func TestHostApply_EnrichmentFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	r := NewHostReconciler(f.hosts, fakeEnricher{err: errors.New("no db")}, f.logger)
	finding, created, err := r.Apply(context.Background(), &shodan.Host{IP: "1.1.1.1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, finding.Country)
}

func TestHostApply_RejectsMissingIP(t *testing.T) {
	f := newFixture(t)
	r := NewHostReconciler(f.hosts, nil, f.logger)
	if _, _, err := r.Apply(context.Background(), &shodan.Host{}); err == nil {
		t.Error("Expected error for host without IP")
	}
}
