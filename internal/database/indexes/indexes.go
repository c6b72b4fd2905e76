package indexes

import (
	"strings"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// ManagedPrefix marks indexes owned by Ensure. Indexes declared on the gorm models
// (unique keys, plain lookups) are left to AutoMigrate.
const ManagedPrefix = "perf_"

// Definition represents an index name and its creation SQL.
type Definition struct {
	Name string
	SQL  string
}

// expectedDefinitions is the single source of truth for read-path indexes.
var expectedDefinitions = []Definition{
	// identity detail page: breaches newest first
	{Name: "perf_breach_timeline", SQL: `CREATE INDEX IF NOT EXISTS perf_breach_timeline ON breach_records(identity_id, occurred_on DESC, added_on DESC, id DESC)`},
	{Name: "perf_breach_stealer", SQL: `CREATE INDEX IF NOT EXISTS perf_breach_stealer ON breach_records(identity_id) WHERE is_stealer_log = 1`},

	{Name: "perf_host_recent", SQL: `CREATE INDEX IF NOT EXISTS perf_host_recent ON host_findings(last_seen DESC, id DESC)`},
	// findings geo provider
	{Name: "perf_host_geo", SQL: `CREATE INDEX IF NOT EXISTS perf_host_geo ON host_findings(country, latitude, longitude) WHERE latitude IS NOT NULL AND longitude IS NOT NULL`},
}

// Expected returns a copy of the managed definitions.
func Expected() []Definition {
	return append([]Definition(nil), expectedDefinitions...)
}

// Ensure reconciles managed indexes against SQLite, dropping obsolete ones and creating missing ones.
func Ensure(db *gorm.DB, logger *pterm.Logger) (created int, dropped int, err error) {
	existing, err := fetchManagedIndexes(db)
	if err != nil {
		return 0, 0, err
	}

	existingSet := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		existingSet[name] = struct{}{}
	}
	expectedSet := make(map[string]struct{}, len(expectedDefinitions))
	for _, def := range expectedDefinitions {
		expectedSet[def.Name] = struct{}{}
	}

	for _, name := range existing {
		if _, ok := expectedSet[name]; ok {
			continue
		}
		if err := db.Exec("DROP INDEX IF EXISTS " + name).Error; err != nil {
			logger.Warn("Failed to drop index", logger.Args("index", name, "error", err))
			continue
		}
		dropped++
	}

	for _, def := range expectedDefinitions {
		if err := db.Exec(def.SQL).Error; err != nil {
			logger.Warn("Failed to create index", logger.Args("index", def.Name, "error", err))
			return created, dropped, err
		}
		if _, ok := existingSet[def.Name]; !ok {
			created++
		}
	}

	return created, dropped, nil
}

func fetchManagedIndexes(db *gorm.DB) ([]string, error) {
	var names []string
	rows, err := db.Raw(`SELECT name FROM sqlite_master WHERE type='index' AND name LIKE ?`, ManagedPrefix+"%").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}
