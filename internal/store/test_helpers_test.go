package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/formhist/formhist/internal/history"
	"github.com/formhist/formhist/internal/testutil"
)

// testNow is an arbitrary fixed instant (microseconds) used across tests.
const testNow = int64(2_000_000_000_000_000)

const microsPerDay = int64(24) * 60 * 60 * 1_000_000

// openTestStore opens a store on a fresh temp database.
func openTestStore(t *testing.T, opts Options) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "formhistory.sqlite")
	s, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, path
}

// openFixedStore opens a store with a frozen clock and predetermined guids.
func openFixedStore(t *testing.T, guids ...string) *Store {
	t.Helper()
	s, _ := openTestStore(t, Options{
		Clock: testutil.NewClock(testNow, 0),
		GUIDs: history.NewFixedGUIDGenerator(guids...),
	})
	return s
}

// rawOpen opens a bare connection for fixture crafting, bypassing Store.
func rawOpen(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// mustAdd applies one add and returns nothing; failures stop the test.
func mustAdd(t *testing.T, s *Store, fieldName, value string) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), history.Add{FieldName: fieldName, Value: value}))
}

// insertRaw inserts a row directly, bypassing the write pipeline.
func insertRaw(t *testing.T, s *Store, e history.Entry) {
	t.Helper()
	_, err := s.db.Exec(insertEntrySQL,
		e.FieldName, e.Value, e.TimesUsed, e.FirstUsed, e.LastUsed, e.GUID)
	require.NoError(t, err)
}
