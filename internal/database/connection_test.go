package database

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"leakfinder/internal/database/indexes"
	"leakfinder/internal/database/models"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

func TestNewConnection_Memory(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	db, err := NewConnection(&Config{Path: MemoryPath}, logger)
	if err != nil {
		t.Fatalf("Expected connection, got error: %v", err)
	}
	defer Close(db)

	for _, table := range []string{"identities", "breach_records", "host_findings"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("Expected table %s to exist", table)
		}
	}

	var fk int
	db.Raw("PRAGMA foreign_keys").Scan(&fk)
	if fk != 1 {
		t.Errorf("Expected foreign keys enabled, got %d", fk)
	}

	for _, def := range indexes.Expected() {
		var n int64
		db.Raw("SELECT count(*) FROM sqlite_master WHERE type='index' AND name = ?", def.Name).Scan(&n)
		if n != 1 {
			t.Errorf("Expected managed index %s", def.Name)
		}
	}
}

func TestNewConnection_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leakfinder.db")
	db, err := NewConnection(&Config{Path: path}, pterm.DefaultLogger.WithLevel(pterm.LogLevelError))
	if err != nil {
		t.Fatalf("Expected connection, got error: %v", err)
	}
	defer Close(db)

	var mode string
	db.Raw("PRAGMA journal_mode").Scan(&mode)
	if mode != "wal" {
		t.Errorf("Expected WAL journal mode, got '%s'", mode)
	}
}

func TestNewConnection_EmptyPath(t *testing.T) {
	if _, err := NewConnection(&Config{}, pterm.DefaultLogger.WithLevel(pterm.LogLevelError)); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestIndexesEnsure_DropsStaleManagedIndex(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
	db, err := NewConnection(&Config{Path: MemoryPath}, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer Close(db)

	db.Exec("CREATE INDEX perf_obsolete ON host_findings(org)")
	created, dropped, err := indexes.Ensure(db, logger)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 || dropped != 1 {
		t.Errorf("Expected created=0 dropped=1, got created=%d dropped=%d", created, dropped)
	}
	if !db.Migrator().HasIndex(&models.HostFinding{}, "idx_host_findings_ip") {
		t.Error("Expected model-declared unique index to survive reconciliation")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gorm.ErrDuplicatedKey, true},
		{errors.New("UNIQUE constraint failed: host_findings.ip"), true},
		{fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey), true},
		{errors.New("disk I/O error"), false},
	}
	for _, c := range cases {
		if got := IsUniqueViolation(c.err); got != c.want {
			t.Errorf("IsUniqueViolation(%v): expected %v, got %v", c.err, c.want, got)
		}
	}
}
