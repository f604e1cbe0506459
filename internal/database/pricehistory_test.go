package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendPriceObservationDuplicateIgnored(t *testing.T) {
	db := newTestDatabase(t)

	p := testProperty("argenprop", "ap-1", 100000)
	require.NoError(t, db.SaveProperty(p))

	observedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.AppendPriceObservation(p.ID, 110000, observedAt))
	require.NoError(t, db.AppendPriceObservation(p.ID, 120000, observedAt))

	history, err := db.GetPriceHistory(p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// The colliding second append was dropped, not applied.
	assert.Equal(t, 110000.0, history[0].PriceUSD)
}

func TestAppendPriceObservationUnknownProperty(t *testing.T) {
	db := newTestDatabase(t)

	err := db.AppendPriceObservation(99999, 100000, time.Now().UTC())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetPriceHistoryOrder(t *testing.T) {
	db := newTestDatabase(t)

	p := testProperty("argenprop", "ap-1", 100000)
	require.NoError(t, db.SaveProperty(p))

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.AppendPriceObservation(p.ID, 110000, base.Add(24*time.Hour)))
	require.NoError(t, db.AppendPriceObservation(p.ID, 105000, base.Add(12*time.Hour)))

	history, err := db.GetPriceHistory(p.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 110000.0, history[0].PriceUSD)
	assert.Equal(t, 105000.0, history[1].PriceUSD)
	assert.Equal(t, 100000.0, history[2].PriceUSD)
}

func TestGetPriceHistoryEmpty(t *testing.T) {
	db := newTestDatabase(t)

	p := testProperty("argenprop", "ap-1", 100000)
	require.NoError(t, db.SaveProperty(p))
	history, err := db.GetPriceHistory(p.ID + 1)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCompactPriceHistory(t *testing.T) {
	db := newTestDatabase(t)

	p := testProperty("argenprop", "ap-1", 100000)
	require.NoError(t, db.SaveProperty(p))
	// Drop the observation SaveProperty recorded so the fixture is exact.
	require.NoError(t, db.GetDB().Exec(
		`DELETE FROM property_price_history WHERE property_id = ?`, p.ID).Error)

	day1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	// Day 1: three samples at the same price. Only the first survives.
	require.NoError(t, db.AppendPriceObservation(p.ID, 100000, day1))
	require.NoError(t, db.AppendPriceObservation(p.ID, 100000, day1.Add(6*time.Hour)))
	require.NoError(t, db.AppendPriceObservation(p.ID, 100000, day1.Add(12*time.Hour)))
	// Day 2: a genuine price change. Kept as the day's first sample anyway.
	require.NoError(t, db.AppendPriceObservation(p.ID, 95000, day2))

	deleted, err := db.CompactPriceHistory()
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	history, err := db.GetPriceHistory(p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 95000.0, history[0].PriceUSD)
	assert.Equal(t, 100000.0, history[1].PriceUSD)
}

func TestCompactPriceHistoryKeepsIntradayChanges(t *testing.T) {
	db := newTestDatabase(t)

	p := testProperty("argenprop", "ap-1", 100000)
	require.NoError(t, db.SaveProperty(p))
	require.NoError(t, db.GetDB().Exec(
		`DELETE FROM property_price_history WHERE property_id = ?`, p.ID).Error)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.AppendPriceObservation(p.ID, 100000, day))
	// Within the threshold of the kept row: compacted away.
	require.NoError(t, db.AppendPriceObservation(p.ID, 100050, day.Add(4*time.Hour)))
	// Beyond the threshold: a real intraday reprice, kept.
	require.NoError(t, db.AppendPriceObservation(p.ID, 101000, day.Add(8*time.Hour)))

	deleted, err := db.CompactPriceHistory()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	history, err := db.GetPriceHistory(p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 101000.0, history[0].PriceUSD)
	assert.Equal(t, 100000.0, history[1].PriceUSD)
}

func TestCompactPriceHistoryIdempotent(t *testing.T) {
	db := newTestDatabase(t)

	p := testProperty("argenprop", "ap-1", 100000)
	require.NoError(t, db.SaveProperty(p))

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.AppendPriceObservation(p.ID, 100000, day.Add(time.Duration(i)*time.Hour)))
	}

	first, err := db.CompactPriceHistory()
	require.NoError(t, err)
	require.Greater(t, first, int64(0))

	second, err := db.CompactPriceHistory()
	require.NoError(t, err)
	assert.Zero(t, second, "compaction must be a fixpoint")
}

func TestCompactPriceHistorySeparatesProperties(t *testing.T) {
	db := newTestDatabase(t)

	a := testProperty("argenprop", "ap-1", 100000)
	b := testProperty("argenprop", "ap-2", 100000)
	require.NoError(t, db.SaveProperty(a))
	require.NoError(t, db.SaveProperty(b))
	require.NoError(t, db.GetDB().Exec(`DELETE FROM property_price_history`).Error)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// Same price, same day, different owners: both survive.
	require.NoError(t, db.AppendPriceObservation(a.ID, 100000, day))
	require.NoError(t, db.AppendPriceObservation(b.ID, 100000, day.Add(time.Hour)))

	deleted, err := db.CompactPriceHistory()
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
