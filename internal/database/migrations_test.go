package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appliedVersionList(t *testing.T, db *Database) []int {
	t.Helper()
	records, err := db.ListAppliedMigrations()
	require.NoError(t, err)
	versions := make([]int, 0, len(records))
	for _, rec := range records {
		versions = append(versions, rec.Version)
	}
	return versions
}

func tableExists(t *testing.T, db *Database, name string) bool {
	t.Helper()
	var count int
	err := db.GetDB().Raw(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Row().Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func TestMigrateFresh(t *testing.T) {
	db := newTestDatabase(t)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, appliedVersionList(t, db))
	assert.True(t, tableExists(t, db, "properties"))
	assert.True(t, tableExists(t, db, "property_price_history"))
	assert.True(t, tableExists(t, db, "property_images"))
}

func TestMigrateIdempotent(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.Migrate())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, appliedVersionList(t, db))
}

func TestMigrationRoundTrip(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.RollbackTo(1))
	assert.Equal(t, []int{1}, appliedVersionList(t, db))
	assert.True(t, tableExists(t, db, "properties"))
	assert.False(t, tableExists(t, db, "property_price_history"))
	assert.False(t, tableExists(t, db, "property_images"))

	// Re-applying must land in the same state as a fresh apply-all.
	require.NoError(t, db.Migrate())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, appliedVersionList(t, db))

	p := testProperty("argenprop", "round-trip-1", 100000)
	require.NoError(t, db.SaveProperty(p))
	assert.Greater(t, p.ID, int64(0))
}

func TestRollbackToZero(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.RollbackTo(0))
	assert.Empty(t, appliedVersionList(t, db))
	assert.False(t, tableExists(t, db, "properties"))

	require.NoError(t, db.Migrate())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, appliedVersionList(t, db))
}

func TestRollbackGapSafety(t *testing.T) {
	db := newTestDatabase(t)

	err := db.RollbackTo(42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	// Nothing may have changed.
	assert.Equal(t, []int{1, 2, 3, 4, 5}, appliedVersionList(t, db))
	assert.True(t, tableExists(t, db, "property_price_history"))
}

func TestRollbackToUnappliedVersion(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.RollbackTo(1))

	err := db.RollbackTo(3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Equal(t, []int{1}, appliedVersionList(t, db))
}

func TestMigrationDefinitionsAreOrdered(t *testing.T) {
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "migration versions must be contiguous from 1")
		assert.NotNil(t, m.Apply)
		assert.NotNil(t, m.Revert)
	}
}
