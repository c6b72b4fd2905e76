package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"leakfinder/internal/database/models"

	"github.com/pterm/pterm"
)

func TestCleanupService_RunOnce(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	db, err := NewConnection(&Config{Path: MemoryPath}, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer Close(db)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	db.Create(&models.HostFinding{IP: "1.1.1.1", LastSeen: now.AddDate(0, 0, -40)})
	db.Create(&models.HostFinding{IP: "2.2.2.2", LastSeen: now.AddDate(0, 0, -5)})

	s := NewCleanupService(db, logger, 30, time.Hour, "02:00", true)
	s.now = func() time.Time { return now }

	deleted, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 stale finding deleted, got %d", deleted)
	}

	var remaining []models.HostFinding
	db.Find(&remaining)
	if len(remaining) != 1 || remaining[0].IP != "2.2.2.2" {
		t.Errorf("Expected only 2.2.2.2 to remain, got %+v", remaining)
	}

	stats := s.GetStats()
	if stats.RecordsDeleted != 1 || !stats.LastRunTime.Equal(now) {
		t.Errorf("Expected stats for the last run, got %+v", stats)
	}
	want := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	if !stats.NextScheduledRun.Equal(want) {
		t.Errorf("Expected next run %s, got %s", want, stats.NextScheduledRun)
	}
}

func TestCleanupService_Disabled(t *testing.T) {
	s := NewCleanupService(nil, pterm.DefaultLogger.WithLevel(pterm.LogLevelError), 0, 0, "02:00", false)
	s.Start()
	s.Stop()
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, ErrRetentionDisabled) {
		t.Errorf("Expected ErrRetentionDisabled, got %v", err)
	}
	if !s.GetStats().NextScheduledRun.IsZero() {
		t.Error("Expected no scheduled run when retention is disabled")
	}
}

func TestCleanupService_InvalidTimeFallsBack(t *testing.T) {
	s := NewCleanupService(nil, pterm.DefaultLogger.WithLevel(pterm.LogLevelError), 1, 0, "25:99", false)
	base := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	got := s.nextRun(base)
	if got.Hour() != 2 || got.Day() != 1 {
		t.Errorf("Expected fallback to 02:00 same day, got %s", got)
	}
}
