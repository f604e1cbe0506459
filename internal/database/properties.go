package database

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"propwatch/server/internal/models"
)

const propertyColumns = `id, external_id, source, property_type, district, title, description,
	price_usd, address, covered_size, rooms, antiquity, url, status, latitude, longitude,
	created_at, updated_at`

// sortFields whitelists the columns ListProperties may order by.
var sortFields = map[string]bool{
	"id":           true,
	"price_usd":    true,
	"covered_size": true,
	"district":     true,
	"created_at":   true,
	"updated_at":   true,
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProperty(row rowScanner) (*models.Property, error) {
	var (
		p                     models.Property
		propertyType, desc    sql.NullString
		coveredSize, lat, lng sql.NullFloat64
		rooms, antiquity      sql.NullInt64
		status                string
	)
	err := row.Scan(
		&p.ID, &p.ExternalID, &p.Source, &propertyType, &p.District, &p.Title, &desc,
		&p.PriceUSD, &p.Address, &coveredSize, &rooms, &antiquity, &p.URL, &status,
		&lat, &lng, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, scanFailure(err)
	}

	parsed, err := models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: property %d: %v", ErrValidation, p.ID, err)
	}
	p.Status = parsed

	if propertyType.Valid {
		p.PropertyType = &propertyType.String
	}
	if desc.Valid {
		p.Description = &desc.String
	}
	if coveredSize.Valid {
		p.CoveredSize = &coveredSize.Float64
	}
	if rooms.Valid {
		n := int(rooms.Int64)
		p.Rooms = &n
	}
	if antiquity.Valid {
		n := int(antiquity.Int64)
		p.Antiquity = &n
	}
	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lng.Valid {
		p.Longitude = &lng.Float64
	}
	return &p, nil
}

// SaveProperty upserts one listing. On first insert the property gets its
// surrogate id and an initial price observation. On update the incoming
// price is compared against the latest recorded observation (not the stale
// row value): a new observation is recorded when the relative change exceeds
// the threshold or the last observation is older than the refresh interval.
// The mutable attributes and updated_at are always overwritten. Status is
// never touched by an upsert; a sold listing stays sold until an explicit
// transition.
func (d *Database) SaveProperty(p *models.Property) error {
	return d.transaction(func(tx *gorm.DB) error {
		return d.saveProperty(tx, p)
	})
}

// SaveProperties stores a whole crawl batch inside one transaction; either
// every listing in the batch becomes visible or none does.
func (d *Database) SaveProperties(batch []*models.Property) error {
	return d.transaction(func(tx *gorm.DB) error {
		for _, p := range batch {
			if err := d.saveProperty(tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) saveProperty(tx *gorm.DB, p *models.Property) error {
	now := time.Now().UTC()

	var (
		lastPrice    sql.NullFloat64
		lastObserved sql.NullTime
	)
	err := tx.Raw(`
		SELECT h.price_usd, h.observed_at
		FROM property_price_history h
		JOIN properties pr ON pr.id = h.property_id
		WHERE pr.source = ? AND pr.external_id = ?
		ORDER BY datetime(h.observed_at) DESC
		LIMIT 1`,
		p.Source, p.ExternalID,
	).Row().Scan(&lastPrice, &lastObserved)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return scanFailure(err)
	}

	// Uniqueness on (source, external_id) is enforced by the schema, so two
	// concurrent writers cannot race a check-then-insert into duplicates.
	row := tx.Raw(`
		INSERT INTO properties (
			external_id, source, property_type, district, title, description,
			price_usd, address, covered_size, rooms, antiquity, url, status,
			latitude, longitude, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?, ?, ?)
		ON CONFLICT(source, external_id) DO UPDATE SET
			property_type = excluded.property_type,
			district = excluded.district,
			title = excluded.title,
			description = excluded.description,
			price_usd = excluded.price_usd,
			address = excluded.address,
			covered_size = excluded.covered_size,
			rooms = excluded.rooms,
			antiquity = excluded.antiquity,
			url = excluded.url,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			updated_at = excluded.updated_at
		RETURNING id, status, created_at`,
		p.ExternalID, p.Source, p.PropertyType, p.District, p.Title, p.Description,
		p.PriceUSD, p.Address, p.CoveredSize, p.Rooms, p.Antiquity, p.URL,
		p.Latitude, p.Longitude, now, now,
	).Row()

	var status string
	if err := row.Scan(&p.ID, &status, &p.CreatedAt); err != nil {
		return scanFailure(err)
	}
	parsed, err := models.ParseStatus(status)
	if err != nil {
		return fmt.Errorf("%w: property %d: %v", ErrValidation, p.ID, err)
	}
	p.Status = parsed
	p.UpdatedAt = now

	isNew := !lastPrice.Valid
	priceChanged := lastPrice.Valid &&
		math.Abs(p.PriceUSD-lastPrice.Float64) > lastPrice.Float64*d.opts.PriceChangeThreshold
	stale := lastObserved.Valid && now.Sub(lastObserved.Time) > d.opts.PriceRefreshInterval

	if isNew || priceChanged || stale {
		if err := appendObservation(tx, p.ID, p.PriceUSD, now); err != nil {
			return err
		}
		d.logger.WithFields(map[string]interface{}{
			"property_id":   p.ID,
			"price_usd":     p.PriceUSD,
			"price_changed": priceChanged,
			"refresh":       stale,
		}).Debug("Recorded price observation")
	}
	return nil
}

// GetProperty fetches one listing by its surrogate id.
func (d *Database) GetProperty(id int64) (*models.Property, error) {
	row := d.db.Raw(`SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id).Row()
	p, err := scanProperty(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: property %d", ErrNotFound, id)
	}
	return p, err
}

// GetPropertyByKey fetches one listing by its crawl identity.
func (d *Database) GetPropertyByKey(source, externalID string) (*models.Property, error) {
	row := d.db.Raw(
		`SELECT `+propertyColumns+` FROM properties WHERE source = ? AND external_id = ?`,
		source, externalID,
	).Row()
	p, err := scanProperty(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: property %s/%s", ErrNotFound, source, externalID)
	}
	return p, err
}

// ListProperties returns listings matching the filter. Absent filter fields
// are ignored; the sort field must be whitelisted.
func (d *Database) ListProperties(filter models.PropertyFilter, opts models.ListOptions) ([]models.Property, error) {
	query := `SELECT ` + propertyColumns + ` FROM properties WHERE 1=1`
	var args []interface{}

	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		if _, err := models.ParseStatus(string(filter.Status)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.MinPrice != nil {
		query += " AND price_usd >= ?"
		args = append(args, *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		query += " AND price_usd <= ?"
		args = append(args, *filter.MaxPrice)
	}
	if filter.MinSize != nil {
		query += " AND covered_size >= ?"
		args = append(args, *filter.MinSize)
	}
	if filter.MaxSize != nil {
		query += " AND covered_size <= ?"
		args = append(args, *filter.MaxSize)
	}

	sortField := opts.SortField
	if sortField == "" {
		sortField = "created_at"
	}
	if !sortFields[sortField] {
		return nil, fmt.Errorf("%w: invalid sort field %q", ErrValidation, opts.SortField)
	}
	query += " ORDER BY " + sortField
	if opts.SortDesc {
		query += " DESC"
	}

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET.
		query += " LIMIT -1"
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := d.db.Raw(query, args...).Rows()
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var properties []models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		properties = append(properties, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return properties, nil
}

// MarkSold transitions a listing to sold. Calling it on a listing that is
// already sold is a no-op; only active listings may transition.
func (d *Database) MarkSold(id int64) error {
	return d.markStatus(id, models.StatusSold)
}

// MarkRemoved transitions a listing to removed. Same idempotency rules as
// MarkSold.
func (d *Database) MarkRemoved(id int64) error {
	return d.markStatus(id, models.StatusRemoved)
}

func (d *Database) markStatus(id int64, target models.Status) error {
	return d.transaction(func(tx *gorm.DB) error {
		var current string
		err := tx.Raw(`SELECT status FROM properties WHERE id = ?`, id).Row().Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: property %d", ErrNotFound, id)
		}
		if err != nil {
			return scanFailure(err)
		}
		parsed, err := models.ParseStatus(current)
		if err != nil {
			return fmt.Errorf("%w: property %d: %v", ErrValidation, id, err)
		}
		if parsed == target {
			return nil
		}
		if parsed != models.StatusActive {
			return fmt.Errorf("%w: cannot transition property %d from %s to %s",
				ErrConflict, id, parsed, target)
		}
		return tx.Exec(
			`UPDATE properties SET status = ?, updated_at = ? WHERE id = ?`,
			target, time.Now().UTC(), id,
		).Error
	})
}

// reconcileSeenChunk keeps temp-table inserts below SQLite's bind limit.
const reconcileSeenChunk = 500

// ReconcileSold demotes to sold every active listing of source that a fresh
// crawl pass did not see. startedAt is the recorded start of the pass: rows
// touched after it belong to an in-flight save and are left alone. The whole
// pass is one transaction.
func (d *Database) ReconcileSold(source string, seenExternalIDs []string, startedAt time.Time) (int64, error) {
	var demoted int64
	err := d.transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DROP TABLE IF EXISTS temp.reconcile_seen`).Error; err != nil {
			return err
		}
		if err := tx.Exec(`CREATE TEMP TABLE reconcile_seen (external_id TEXT PRIMARY KEY)`).Error; err != nil {
			return err
		}

		for start := 0; start < len(seenExternalIDs); start += reconcileSeenChunk {
			end := start + reconcileSeenChunk
			if end > len(seenExternalIDs) {
				end = len(seenExternalIDs)
			}
			chunk := seenExternalIDs[start:end]

			insert := `INSERT OR IGNORE INTO temp.reconcile_seen (external_id) VALUES `
			args := make([]interface{}, 0, len(chunk))
			for i, id := range chunk {
				if i > 0 {
					insert += ", "
				}
				insert += "(?)"
				args = append(args, id)
			}
			if err := tx.Exec(insert, args...).Error; err != nil {
				return err
			}
		}

		res := tx.Exec(`
			UPDATE properties
			SET status = 'sold', updated_at = ?
			WHERE source = ?
			  AND status = 'active'
			  AND datetime(updated_at) < datetime(?)
			  AND external_id NOT IN (SELECT external_id FROM temp.reconcile_seen)`,
			time.Now().UTC(), source, startedAt.UTC(),
		)
		if res.Error != nil {
			return res.Error
		}
		demoted = res.RowsAffected

		return tx.Exec(`DROP TABLE temp.reconcile_seen`).Error
	})
	if err != nil {
		return 0, err
	}
	d.logger.WithFields(map[string]interface{}{
		"source":  source,
		"seen":    len(seenExternalIDs),
		"demoted": demoted,
	}).Info("Reconciled sold listings")
	return demoted, nil
}

// DistrictResolver maps a coordinate to a district name.
type DistrictResolver interface {
	ResolveDistrict(lat, lng float64) (string, bool)
}

// UpdateMissingDistricts backfills the district of listings that carry
// coordinates but no district yet. Rows the resolver cannot place are left
// untouched.
func (d *Database) UpdateMissingDistricts(resolver DistrictResolver) (int64, error) {
	type candidate struct {
		id       int64
		lat, lng float64
	}

	rows, err := d.db.Raw(`
		SELECT id, latitude, longitude
		FROM properties
		WHERE district = '' AND latitude IS NOT NULL AND longitude IS NOT NULL`).Rows()
	if err != nil {
		return 0, classify(err)
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.lat, &c.lng); err != nil {
			rows.Close()
			return 0, scanFailure(err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, classify(err)
	}
	rows.Close()

	if len(candidates) == 0 {
		return 0, nil
	}

	var updated int64
	err = d.transaction(func(tx *gorm.DB) error {
		for _, c := range candidates {
			district, ok := resolver.ResolveDistrict(c.lat, c.lng)
			if !ok {
				continue
			}
			res := tx.Exec(
				`UPDATE properties SET district = ?, updated_at = ? WHERE id = ? AND district = ''`,
				district, time.Now().UTC(), c.id,
			)
			if res.Error != nil {
				return res.Error
			}
			updated += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	d.logger.WithField("updated", updated).Info("Backfilled property districts")
	return updated, nil
}
