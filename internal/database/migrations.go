package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"propwatch/server/internal/models"
)

// A Migration is one reversible schema change. Apply must be safe to
// re-invoke: a crash between the schema change and the ledger insert is
// recovered by running the same version again on the next start, so every
// step is a guarded create or a guarded column add.
type Migration struct {
	Version int
	Name    string
	Apply   func(tx *gorm.DB) error
	Revert  func(tx *gorm.DB) error
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_properties",
		Apply: execAll(`
			CREATE TABLE IF NOT EXISTS properties (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL,
				source TEXT NOT NULL,
				property_type TEXT,
				district TEXT NOT NULL DEFAULT '',
				title TEXT NOT NULL,
				description TEXT,
				price_usd REAL NOT NULL,
				address TEXT NOT NULL,
				covered_size REAL,
				rooms INTEGER,
				antiquity INTEGER,
				url TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE(source, external_id)
			)`),
		Revert: execAll(`DROP TABLE IF EXISTS properties`),
	},
	{
		Version: 2,
		Name:    "create_property_price_history",
		Apply: execAll(`
			CREATE TABLE IF NOT EXISTS property_price_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				property_id INTEGER NOT NULL,
				price_usd REAL NOT NULL,
				observed_at DATETIME NOT NULL,
				FOREIGN KEY(property_id) REFERENCES properties(id),
				UNIQUE(property_id, observed_at)
			)`),
		Revert: execAll(`DROP TABLE IF EXISTS property_price_history`),
	},
	{
		Version: 3,
		Name:    "create_property_images",
		Apply: execAll(`
			CREATE TABLE IF NOT EXISTS property_images (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				property_id INTEGER NOT NULL,
				url TEXT NOT NULL,
				local_path TEXT NOT NULL,
				hash BLOB NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY(property_id) REFERENCES properties(id),
				UNIQUE(property_id, url)
			)`),
		Revert: execAll(`DROP TABLE IF EXISTS property_images`),
	},
	{
		Version: 4,
		Name:    "add_property_status",
		Apply: func(tx *gorm.DB) error {
			if err := addColumn(tx, "properties", "status", "TEXT NOT NULL DEFAULT 'active'"); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_properties_status ON properties(status)`).Error
		},
		Revert: func(tx *gorm.DB) error {
			if err := tx.Exec(`DROP INDEX IF EXISTS idx_properties_status`).Error; err != nil {
				return err
			}
			return dropColumn(tx, "properties", "status")
		},
	},
	{
		Version: 5,
		Name:    "add_property_coordinates",
		Apply: func(tx *gorm.DB) error {
			if err := addColumn(tx, "properties", "latitude", "REAL"); err != nil {
				return err
			}
			if err := addColumn(tx, "properties", "longitude", "REAL"); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_properties_coordinates ON properties(latitude, longitude)`).Error
		},
		Revert: func(tx *gorm.DB) error {
			if err := tx.Exec(`DROP INDEX IF EXISTS idx_properties_coordinates`).Error; err != nil {
				return err
			}
			if err := dropColumn(tx, "properties", "longitude"); err != nil {
				return err
			}
			return dropColumn(tx, "properties", "latitude")
		},
	},
}

// execAll builds an apply/revert func out of plain SQL statements.
func execAll(stmts ...string) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		for _, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	}
}

// hasColumn checks pragma_table_info so column adds stay idempotent.
func hasColumn(tx *gorm.DB, table, column string) (bool, error) {
	var count int
	err := tx.Raw(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Row().Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func addColumn(tx *gorm.DB, table, column, definition string) error {
	exists, err := hasColumn(tx, table, column)
	if err != nil || exists {
		return err
	}
	return tx.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition)).Error
}

func dropColumn(tx *gorm.DB, table, column string) error {
	exists, err := hasColumn(tx, table, column)
	if err != nil || !exists {
		return err
	}
	return tx.Exec(fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s`, table, column)).Error
}

func migrationByVersion(version int) (Migration, bool) {
	for _, m := range migrations {
		if m.Version == version {
			return m, true
		}
	}
	return Migration{}, false
}

// ensureLedger bootstraps the migrations table itself; it is the one piece
// of schema the engine does not version.
func (d *Database) ensureLedger() error {
	err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL
		)`).Error
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", classify(err))
	}
	return nil
}

func (d *Database) appliedVersions() (map[int]bool, []int, error) {
	rows, err := d.db.Raw(`SELECT version FROM migrations ORDER BY version`).Rows()
	if err != nil {
		return nil, nil, classify(err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	var ordered []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, nil, classify(err)
		}
		applied[version] = true
		ordered = append(ordered, version)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, classify(err)
	}
	return applied, ordered, nil
}

// Migrate applies every pending migration in ascending version order. Each
// schema change commits together with its ledger row or not at all.
func (d *Database) Migrate() error {
	if err := d.ensureLedger(); err != nil {
		return err
	}
	applied, _, err := d.appliedVersions()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		migration := m
		err := d.transaction(func(tx *gorm.DB) error {
			if err := migration.Apply(tx); err != nil {
				return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
			}
			return tx.Exec(
				`INSERT INTO migrations (version, applied_at) VALUES (?, ?)`,
				migration.Version, time.Now().UTC(),
			).Error
		})
		if err != nil {
			return err
		}
		d.logger.WithFields(map[string]interface{}{
			"version": migration.Version,
			"name":    migration.Name,
		}).Info("Applied migration")
	}
	return nil
}

// RollbackTo reverts applied migrations above target, most recent first.
// target must be zero or an applied version with a known definition;
// otherwise nothing changes and ErrSchemaMismatch is returned.
func (d *Database) RollbackTo(target int) error {
	if err := d.ensureLedger(); err != nil {
		return err
	}
	applied, ordered, err := d.appliedVersions()
	if err != nil {
		return err
	}

	if target != 0 {
		if _, ok := migrationByVersion(target); !ok {
			return fmt.Errorf("%w: no migration defined for version %d", ErrSchemaMismatch, target)
		}
		if !applied[target] {
			return fmt.Errorf("%w: version %d was never applied", ErrSchemaMismatch, target)
		}
	}

	// Validate the whole plan before reverting anything.
	var plan []Migration
	for i := len(ordered) - 1; i >= 0; i-- {
		version := ordered[i]
		if version <= target {
			continue
		}
		m, ok := migrationByVersion(version)
		if !ok {
			return fmt.Errorf("%w: no migration defined for applied version %d", ErrSchemaMismatch, version)
		}
		plan = append(plan, m)
	}

	for _, m := range plan {
		migration := m
		err := d.transaction(func(tx *gorm.DB) error {
			if err := migration.Revert(tx); err != nil {
				return fmt.Errorf("failed to revert migration %d (%s): %w", migration.Version, migration.Name, err)
			}
			return tx.Exec(`DELETE FROM migrations WHERE version = ?`, migration.Version).Error
		})
		if err != nil {
			return err
		}
		d.logger.WithFields(map[string]interface{}{
			"version": migration.Version,
			"name":    migration.Name,
		}).Info("Reverted migration")
	}
	return nil
}

// ListAppliedMigrations returns the ledger sorted ascending by version.
func (d *Database) ListAppliedMigrations() ([]models.MigrationRecord, error) {
	if err := d.ensureLedger(); err != nil {
		return nil, err
	}
	rows, err := d.db.Raw(`SELECT version, applied_at FROM migrations ORDER BY version`).Rows()
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var records []models.MigrationRecord
	for rows.Next() {
		var rec models.MigrationRecord
		if err := rows.Scan(&rec.Version, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to decode migration record: %v", ErrValidation, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return records, nil
}
