package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/formhist/formhist/internal/history"
)

// Schema version history:
// 1 - fieldname/value rows only
// 2 - usage tracking: timesUsed, firstUsed, lastUsed + lastUsed index
// 3 - stable external identity: guid column + index, backfilled
// 4 - marker release, no structural change
const (
	currentSchemaVersion = 4

	// minSchemaVersion is the oldest version the code still understands.
	// Anything below it (including an unset version on an existing table)
	// is unrecoverable short of recreating the database.
	minSchemaVersion = 1
)

// migrationStep applies the changes that bring the schema from version-1
// to version. All pending steps run inside one transaction; the recorded
// version advances only after that transaction commits.
type migrationStep func(tx *sql.Tx, now int64) error

var migrationSteps = map[int]migrationStep{
	2: migrateToV2,
	3: migrateToV3,
	4: migrateToV4,
}

// ensureInitialized brings the on-disk schema to the current version.
//
// Contract:
//   - no formhistory table: create it fresh and stamp the current version;
//     no migration steps run.
//   - recorded version below minSchemaVersion: CorruptedSchema.
//   - recorded version equal to current: no-op.
//   - recorded version above current (data written by newer code): verify
//     every expected column is queryable; if so, stamp the version down
//     without touching data, otherwise CorruptedSchema.
//   - recorded version below current: apply the steps from v+1 through
//     current in one transaction, then stamp.
func ensureInitialized(db *sql.DB) error {
	exists, err := tableExists(db, "formhistory")
	if err != nil {
		return err
	}
	if !exists {
		if _, err := db.Exec(schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return setSchemaVersion(db, currentSchemaVersion)
	}

	v, err := schemaVersion(db)
	if err != nil {
		return err
	}

	switch {
	case v == currentSchemaVersion:
		return nil

	case v < minSchemaVersion:
		return history.NewCorruptedSchema(
			fmt.Sprintf("schema version %d predates the oldest supported version %d", v, minSchemaVersion), nil)

	case v > currentSchemaVersion:
		// Data written by newer code. If every column this build needs is
		// still queryable the shape is compatible: pull the version down
		// and let the newer code re-upgrade later.
		if err := verifyColumns(db); err != nil {
			return history.NewCorruptedSchema(
				fmt.Sprintf("schema version %d is newer than %d and missing expected columns", v, currentSchemaVersion), err)
		}
		slog.Info("downgrading recorded schema version",
			"from", v,
			"to", currentSchemaVersion,
		)
		return setSchemaVersion(db, currentSchemaVersion)

	default:
		return migrate(db, v)
	}
}

// migrate applies the steps from v+1 through currentSchemaVersion inside
// one transaction. The version is never stamped if that transaction fails.
func migrate(db *sql.DB, from int) error {
	now := time.Now().UnixMicro()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for v := from + 1; v <= currentSchemaVersion; v++ {
		step, ok := migrationSteps[v]
		if !ok {
			return history.NewCorruptedSchema(
				fmt.Sprintf("no migration step to version %d", v), nil)
		}
		if err := step(tx, now); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	slog.Info("form history schema migrated",
		"from", from,
		"to", currentSchemaVersion,
	)
	return setSchemaVersion(db, currentSchemaVersion)
}

// migrateToV2 adds the usage-tracking columns. Pre-existing rows count as
// used once, now.
func migrateToV2(tx *sql.Tx, now int64) error {
	stmts := []string{
		"ALTER TABLE formhistory ADD COLUMN timesUsed INTEGER NOT NULL DEFAULT 1",
		"ALTER TABLE formhistory ADD COLUMN firstUsed INTEGER NOT NULL DEFAULT 0",
		"ALTER TABLE formhistory ADD COLUMN lastUsed INTEGER NOT NULL DEFAULT 0",
		"CREATE INDEX IF NOT EXISTS idx_formhistory_lastused ON formhistory(lastUsed)",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := tx.Exec("UPDATE formhistory SET firstUsed = ?, lastUsed = ? WHERE firstUsed = 0", now, now)
	return err
}

// migrateToV3 adds the guid column and backfills a fresh guid per row.
func migrateToV3(tx *sql.Tx, now int64) error {
	stmts := []string{
		"ALTER TABLE formhistory ADD COLUMN guid TEXT NOT NULL DEFAULT ''",
		"CREATE INDEX IF NOT EXISTS idx_formhistory_guid ON formhistory(guid)",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	rows, err := tx.Query("SELECT id FROM formhistory WHERE guid = ''")
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	gen := history.UUIDv7Generator{}
	for _, id := range ids {
		if _, err := tx.Exec("UPDATE formhistory SET guid = ? WHERE id = ?", gen.NewGUID(), id); err != nil {
			return err
		}
	}
	return nil
}

// migrateToV4 is a marker release: the version advances, the shape does not.
func migrateToV4(*sql.Tx, int64) error { return nil }

// verifyColumns checks that every column this build expects is queryable.
func verifyColumns(db *sql.DB) error {
	rows, err := db.Query(
		"SELECT id, fieldname, value, timesUsed, firstUsed, lastUsed, guid FROM formhistory LIMIT 1")
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

// tableExists reports whether a table is present in the database.
func tableExists(db *sql.DB, name string) (bool, error) {
	var found string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return true, nil
}

// schemaVersion reads the recorded schema version.
func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return v, nil
}

// setSchemaVersion stamps the recorded schema version.
func setSchemaVersion(db *sql.DB, v int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
