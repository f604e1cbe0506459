package database

import (
	"math"
	"time"

	"gorm.io/gorm"

	"propwatch/server/internal/models"
)

// appendObservation inserts one price sample. A duplicate (property_id,
// observed_at) is ignored, not an error, so callers triggering at the same
// timestamp stay idempotent.
func appendObservation(tx *gorm.DB, propertyID int64, priceUSD float64, observedAt time.Time) error {
	return tx.Exec(`
		INSERT INTO property_price_history (property_id, price_usd, observed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(property_id, observed_at) DO NOTHING`,
		propertyID, priceUSD, observedAt.UTC(),
	).Error
}

// AppendPriceObservation records one price sample for a property.
func (d *Database) AppendPriceObservation(propertyID int64, priceUSD float64, observedAt time.Time) error {
	return d.transaction(func(tx *gorm.DB) error {
		return appendObservation(tx, propertyID, priceUSD, observedAt)
	})
}

// GetPriceHistory returns a property's observations, most recent first.
func (d *Database) GetPriceHistory(propertyID int64) ([]models.PriceObservation, error) {
	rows, err := d.db.Raw(`
		SELECT property_id, price_usd, observed_at
		FROM property_price_history
		WHERE property_id = ?
		ORDER BY datetime(observed_at) DESC`, propertyID).Rows()
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var history []models.PriceObservation
	for rows.Next() {
		var obs models.PriceObservation
		if err := rows.Scan(&obs.PropertyID, &obs.PriceUSD, &obs.ObservedAt); err != nil {
			return nil, scanFailure(err)
		}
		history = append(history, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return history, nil
}

// deleteChunk keeps DELETE ... IN statements below SQLite's bind limit.
const deleteChunk = 500

// CompactPriceHistory applies the retention policy: per property, keep the
// earliest observation of each UTC calendar day plus every observation whose
// price differs from the previous kept one by more than the change
// threshold; delete the rest. Comparing against the previous KEPT row (not
// the raw predecessor) makes the policy a fixpoint, so a second consecutive
// run deletes nothing. Returns the number of rows deleted.
func (d *Database) CompactPriceHistory() (int64, error) {
	var deleted int64
	err := d.transaction(func(tx *gorm.DB) error {
		rows, err := tx.Raw(`
			SELECT id, property_id, price_usd, observed_at
			FROM property_price_history
			ORDER BY property_id, datetime(observed_at), id`).Rows()
		if err != nil {
			return err
		}

		var (
			deleteIDs       []int64
			currentProperty int64 = -1
			lastKeptPrice   float64
			lastKeptDay     string
		)
		for rows.Next() {
			var (
				id, propertyID int64
				price          float64
				observedAt     time.Time
			)
			if err := rows.Scan(&id, &propertyID, &price, &observedAt); err != nil {
				rows.Close()
				return scanFailure(err)
			}

			day := observedAt.UTC().Format("2006-01-02")
			keep := propertyID != currentProperty ||
				day != lastKeptDay ||
				math.Abs(price-lastKeptPrice) > lastKeptPrice*d.opts.PriceChangeThreshold

			if keep {
				currentProperty = propertyID
				lastKeptPrice = price
				lastKeptDay = day
			} else {
				deleteIDs = append(deleteIDs, id)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for start := 0; start < len(deleteIDs); start += deleteChunk {
			end := start + deleteChunk
			if end > len(deleteIDs) {
				end = len(deleteIDs)
			}
			chunk := deleteIDs[start:end]

			query := `DELETE FROM property_price_history WHERE id IN (`
			args := make([]interface{}, 0, len(chunk))
			for i, id := range chunk {
				if i > 0 {
					query += ", "
				}
				query += "?"
				args = append(args, id)
			}
			query += ")"

			res := tx.Exec(query, args...)
			if res.Error != nil {
				return res.Error
			}
			deleted += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	d.logger.WithField("deleted", deleted).Info("Compacted price history")
	return deleted, nil
}
