package database

import (
	"time"

	"gorm.io/gorm"

	"propwatch/server/internal/models"
)

// SavePropertyImage upserts one image on its (property_id, url) identity.
// A re-download of the same URL refreshes the stored location, content hash
// and updated_at; the owning property must already exist.
func (d *Database) SavePropertyImage(img *models.PropertyImage) error {
	return d.transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		row := tx.Raw(`
			INSERT INTO property_images (property_id, url, local_path, hash, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(property_id, url) DO UPDATE SET
				local_path = excluded.local_path,
				hash = excluded.hash,
				updated_at = excluded.updated_at
			RETURNING id, created_at`,
			img.PropertyID, img.URL, img.LocalPath, img.Hash, now, now,
		).Row()
		if err := row.Scan(&img.ID, &img.CreatedAt); err != nil {
			return scanFailure(err)
		}
		img.UpdatedAt = now
		return nil
	})
}

// GetPropertyImages returns all images owned by a property, oldest first.
func (d *Database) GetPropertyImages(propertyID int64) ([]models.PropertyImage, error) {
	rows, err := d.db.Raw(`
		SELECT id, property_id, url, local_path, hash, created_at, updated_at
		FROM property_images
		WHERE property_id = ?
		ORDER BY id`, propertyID).Rows()
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var images []models.PropertyImage
	for rows.Next() {
		var img models.PropertyImage
		if err := rows.Scan(
			&img.ID, &img.PropertyID, &img.URL, &img.LocalPath, &img.Hash,
			&img.CreatedAt, &img.UpdatedAt,
		); err != nil {
			return nil, scanFailure(err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return images, nil
}
