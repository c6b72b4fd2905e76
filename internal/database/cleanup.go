package database

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// ErrRetentionDisabled is returned by RunOnce when no retention window is configured.
var ErrRetentionDisabled = errors.New("host retention disabled (HOST_RETENTION_DAYS=0)")

// CleanupService prunes host findings that have not been refreshed within the retention window.
// Identities and breach records are never pruned.
type CleanupService struct {
	db              *gorm.DB
	logger          *pterm.Logger
	retentionDays   int
	cleanupInterval time.Duration
	cleanupTime     string
	vacuumEnabled   bool
	stopChan        chan struct{}
	running         bool
	now             func() time.Time

	mu              sync.Mutex
	lastRunTime     time.Time
	recordsDeleted  int64
	cleanupDuration time.Duration
}

// CleanupStats holds statistics about cleanup operations
type CleanupStats struct {
	RetentionDays    int           `json:"retention_days"`
	LastRunTime      time.Time     `json:"last_run_time"`
	RecordsDeleted   int64         `json:"records_deleted"`
	CleanupDuration  time.Duration `json:"cleanup_duration"`
	NextScheduledRun time.Time     `json:"next_scheduled_run"`
}

// NewCleanupService creates a new cleanup service. cleanupTime is HH:MM local time.
func NewCleanupService(db *gorm.DB, logger *pterm.Logger, retentionDays int, cleanupInterval time.Duration, cleanupTime string, vacuumEnabled bool) *CleanupService {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}
	return &CleanupService{
		db:              db,
		logger:          logger,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
		cleanupTime:     cleanupTime,
		vacuumEnabled:   vacuumEnabled,
		stopChan:        make(chan struct{}),
		now:             time.Now,
	}
}

// Start begins the scheduled loop. It is a no-op when retention is disabled.
func (s *CleanupService) Start() {
	if s.retentionDays <= 0 {
		s.logger.Info("Host retention disabled (HOST_RETENTION_DAYS=0), cleanup service not started")
		return
	}

	s.running = true
	s.logger.Info("Starting host finding cleanup service",
		s.logger.Args(
			"retention_days", s.retentionDays,
			"cleanup_time", s.cleanupTime,
			"vacuum_enabled", s.vacuumEnabled,
		))

	go s.scheduledCleanupLoop()
}

// Stop stops the cleanup service
func (s *CleanupService) Stop() {
	if !s.running {
		return
	}

	s.logger.Info("Stopping host finding cleanup service")
	close(s.stopChan)
	s.running = false
}

func (s *CleanupService) scheduledCleanupLoop() {
	for {
		targetTime := s.nextRun(s.now())
		waitDuration := targetTime.Sub(s.now())
		s.logger.Debug("Next cleanup scheduled",
			s.logger.Args("next_run", targetTime.Format("2006-01-02 15:04:05"), "wait_duration", waitDuration.Round(time.Minute)))

		select {
		case <-s.stopChan:
			return
		case <-time.After(min(waitDuration, s.cleanupInterval)):
			if s.now().After(targetTime.Add(-1 * time.Minute)) {
				if _, err := s.RunOnce(context.Background()); err != nil {
					s.logger.WithCaller().Error("Scheduled cleanup failed", s.logger.Args("error", err))
				}
			}
		}
	}
}

// parseCleanupTime returns the configured HH:MM on the day of baseTime.
func (s *CleanupService) parseCleanupTime(baseTime time.Time) time.Time {
	cleanupTime, err := time.Parse("15:04", s.cleanupTime)
	if err != nil {
		s.logger.Warn("Invalid cleanup time format, using 02:00",
			s.logger.Args("configured", s.cleanupTime, "error", err))
		cleanupTime, _ = time.Parse("15:04", "02:00")
	}

	return time.Date(
		baseTime.Year(), baseTime.Month(), baseTime.Day(),
		cleanupTime.Hour(), cleanupTime.Minute(), 0, 0,
		baseTime.Location(),
	)
}

func (s *CleanupService) nextRun(now time.Time) time.Time {
	target := s.parseCleanupTime(now)
	if now.After(target) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

// RunOnce deletes host findings whose last_seen is older than the retention window
// and returns how many were removed.
func (s *CleanupService) RunOnce(ctx context.Context) (int64, error) {
	if s.retentionDays <= 0 {
		return 0, ErrRetentionDisabled
	}

	startTime := s.now()
	cutoffDate := startTime.AddDate(0, 0, -s.retentionDays)
	s.logger.Info("Starting host finding cleanup",
		s.logger.Args("retention_days", s.retentionDays, "cutoff_date", cutoffDate.Format("2006-01-02")))

	totalDeleted, err := s.deleteOldRecords(ctx, cutoffDate)
	if err != nil {
		s.logger.WithCaller().Error("Failed to delete stale host findings",
			s.logger.Args("error", err, "cutoff_date", cutoffDate.Format("2006-01-02")))
		return totalDeleted, err
	}

	duration := s.now().Sub(startTime)
	s.mu.Lock()
	s.lastRunTime = startTime
	s.recordsDeleted = totalDeleted
	s.cleanupDuration = duration
	s.mu.Unlock()

	s.logger.Info("Cleanup completed",
		s.logger.Args("records_deleted", totalDeleted, "duration", duration.Round(time.Millisecond)))

	if s.vacuumEnabled && totalDeleted > 0 {
		s.runVacuum(ctx)
	}
	return totalDeleted, nil
}

// deleteOldRecords deletes in batches to keep write locks short.
func (s *CleanupService) deleteOldRecords(ctx context.Context, cutoffDate time.Time) (int64, error) {
	const batchSize = 500
	totalDeleted := int64(0)

	for {
		result := s.db.WithContext(ctx).Exec(`
			DELETE FROM host_findings
			WHERE id IN (
				SELECT id FROM host_findings
				WHERE last_seen < ?
				LIMIT ?
			)
		`, cutoffDate, batchSize)
		if result.Error != nil {
			return totalDeleted, result.Error
		}

		totalDeleted += result.RowsAffected
		if result.RowsAffected < batchSize {
			return totalDeleted, nil
		}
		s.logger.Trace("Deleted batch", s.logger.Args("total_deleted", totalDeleted))
	}
}

func (s *CleanupService) runVacuum(ctx context.Context) {
	s.logger.Info("Running VACUUM to reclaim disk space")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	startTime := time.Now()
	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		s.logger.WithCaller().Error("Failed to run VACUUM", s.logger.Args("error", err))
		return
	}
	s.logger.Info("VACUUM completed", s.logger.Args("duration", time.Since(startTime).Round(time.Millisecond)))
}

// GetStats returns cleanup statistics
func (s *CleanupService) GetStats() *CleanupStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &CleanupStats{
		RetentionDays:   s.retentionDays,
		LastRunTime:     s.lastRunTime,
		RecordsDeleted:  s.recordsDeleted,
		CleanupDuration: s.cleanupDuration,
	}
	if s.retentionDays > 0 {
		stats.NextScheduledRun = s.nextRun(s.now())
	}
	return stats
}
