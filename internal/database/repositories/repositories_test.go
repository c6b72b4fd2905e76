package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"leakfinder/internal/database"
	"leakfinder/internal/database/models"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewConnection(&database.Config{Path: database.MemoryPath}, pterm.DefaultLogger.WithLevel(pterm.LogLevelError))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return db
}

func strPtr(s string) *string { return &s }

func TestIdentityRepository_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepository(openTestDB(t))

	first, created, err := repo.GetOrCreate(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.GetOrCreate(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestIdentityRepository_FindAllNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepository(openTestDB(t))

	_, _, err := repo.GetOrCreate(ctx, "old@example.com")
	require.NoError(t, err)
	_, _, err = repo.GetOrCreate(ctx, "new@example.com")
	require.NoError(t, err)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new@example.com", all[0].Address)
}

func TestIdentityRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ids := NewIdentityRepository(db)
	breaches := NewBreachRecordRepository(db)

	alice, _, err := ids.GetOrCreate(ctx, "alice@example.com")
	require.NoError(t, err)
	bob, _, err := ids.GetOrCreate(ctx, "bob@example.com")
	require.NoError(t, err)

	_, err = breaches.Upsert(ctx, &models.BreachRecord{IdentityID: alice.ID, BreachName: "Adobe"})
	require.NoError(t, err)
	_, err = breaches.Upsert(ctx, &models.BreachRecord{IdentityID: bob.ID, BreachName: "Adobe"})
	require.NoError(t, err)

	require.NoError(t, ids.Delete(ctx, alice.ID))

	n, err := breaches.CountByIdentity(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	n, err = breaches.CountByIdentity(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.True(t, errors.Is(ids.Delete(ctx, alice.ID), gorm.ErrRecordNotFound))
}

func TestBreachRecordRepository_UpsertIsKeyedByIdentityAndName(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	identity, _, err := NewIdentityRepository(db).GetOrCreate(ctx, "alice@example.com")
	require.NoError(t, err)
	repo := NewBreachRecordRepository(db)

	rec := &models.BreachRecord{IdentityID: identity.ID, BreachName: "Adobe", Title: "Adobe", OccurredOn: strPtr("2013-10-04"),
		DataClasses: datatypes.JSONSlice[string]{"Emails"}}
	created, err := repo.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	firstID := rec.ID

	created, err = repo.Upsert(ctx, &models.BreachRecord{IdentityID: identity.ID, BreachName: "Adobe", Title: "Adobe Systems",
		IsVerified: true})
	require.NoError(t, err)
	assert.False(t, created)

	n, err := repo.CountByIdentity(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := repo.FindByName(ctx, identity.ID, "Adobe")
	require.NoError(t, err)
	assert.Equal(t, firstID, stored.ID)
	assert.Equal(t, "Adobe Systems", stored.Title)
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.OccurredOn, "mutable fields are overwritten in place")
}

func TestBreachRecordRepository_Ordering(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	identity, _, err := NewIdentityRepository(db).GetOrCreate(ctx, "alice@example.com")
	require.NoError(t, err)
	repo := NewBreachRecordRepository(db)

	for _, r := range []*models.BreachRecord{
		{BreachName: "Old", OccurredOn: strPtr("2012-01-01")},
		{BreachName: "Undated"},
		{BreachName: "New", OccurredOn: strPtr("2020-01-01")},
		{BreachName: "NewLaterAdded", OccurredOn: strPtr("2020-01-01"), AddedOn: strPtr("2021-01-01")},
	} {
		r.IdentityID = identity.ID
		_, err := repo.Upsert(ctx, r)
		require.NoError(t, err)
	}

	list, err := repo.FindByIdentity(ctx, identity.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, r := range list {
		names = append(names, r.BreachName)
	}
	assert.Equal(t, []string{"NewLaterAdded", "New", "Old", "Undated"}, names)
}

func TestHostFindingRepository_UpsertByIP(t *testing.T) {
	ctx := context.Background()
	repo := NewHostFindingRepository(openTestDB(t))

	created, err := repo.Upsert(ctx, &models.HostFinding{IP: "8.8.8.8", Hostnames: datatypes.JSONSlice[string]{"a.example"},
		LastSeen: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.True(t, created)

	second := &models.HostFinding{IP: "8.8.8.8", Hostnames: datatypes.JSONSlice[string]{"b.example"}, Org: "Google",
		LastSeen: time.Now()}
	created, err = repo.Upsert(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)

	recent, err := repo.FindRecent(ctx, 12)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, []string{"b.example"}, []string(recent[0].Hostnames))
	assert.Equal(t, "Google", recent[0].Org)
	assert.Equal(t, recent[0].ID, second.ID)

	require.NoError(t, repo.Delete(ctx, second.ID))
	_, err = repo.FindByID(ctx, second.ID)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestHostFindingRepository_FindGeolocated(t *testing.T) {
	ctx := context.Background()
	repo := NewHostFindingRepository(openTestDB(t))
	lat, lon := 37.75, -97.82

	_, err := repo.Upsert(ctx, &models.HostFinding{IP: "1.1.1.1", LastSeen: time.Now(), Latitude: &lat, Longitude: &lon, Country: "US"})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, &models.HostFinding{IP: "2.2.2.2", LastSeen: time.Now()})
	require.NoError(t, err)

	located, err := repo.FindGeolocated(ctx, 10)
	require.NoError(t, err)
	require.Len(t, located, 1)
	assert.Equal(t, "1.1.1.1", located[0].IP)
}
