package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Status is the lifecycle state of a listing. It is a closed set: values
// are validated when constructed and when decoded from storage.
type Status string

const (
	StatusActive  Status = "active"
	StatusSold    Status = "sold"
	StatusRemoved Status = "removed"
)

// ParseStatus validates a raw status value read from storage or input.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusSold, StatusRemoved:
		return Status(s), nil
	default:
		return "", fmt.Errorf("invalid property status: %q", s)
	}
}

// Value implements driver.Valuer so a Status can be bound directly.
func (s Status) Value() (driver.Value, error) {
	if _, err := ParseStatus(string(s)); err != nil {
		return nil, err
	}
	return string(s), nil
}

// Scan implements sql.Scanner. An unknown persisted value is an error,
// never coerced to a default.
func (s *Status) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Status", value)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) String() string {
	return string(s)
}

// Property is one real-estate listing as tracked by the catalog.
// Identity is (Source, ExternalID); ID is the surrogate key assigned on
// first insert and stable afterwards.
type Property struct {
	ID           int64     `json:"id"`
	ExternalID   string    `json:"external_id"`
	Source       string    `json:"source"`
	PropertyType *string   `json:"property_type"`
	District     string    `json:"district"`
	Title        string    `json:"title"`
	Description  *string   `json:"description"`
	PriceUSD     float64   `json:"price_usd"`
	Address      string    `json:"address"`
	CoveredSize  *float64  `json:"covered_size"`
	Rooms        *int      `json:"rooms"`
	Antiquity    *int      `json:"antiquity"`
	URL          string    `json:"url"`
	Status       Status    `json:"status"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PropertyImage is owned by exactly one Property and deduplicated by
// (PropertyID, URL). Hash is the content hash of the downloaded file.
type PropertyImage struct {
	ID         int64     `json:"id"`
	PropertyID int64     `json:"property_id"`
	URL        string    `json:"url"`
	LocalPath  string    `json:"local_path"`
	Hash       []byte    `json:"hash"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PriceObservation is one timestamped price sample for a Property.
// Observations are append-only; compaction is the only thing that removes
// them.
type PriceObservation struct {
	PropertyID int64     `json:"property_id"`
	PriceUSD   float64   `json:"price_usd"`
	ObservedAt time.Time `json:"observed_at"`
}

// MigrationRecord is one row of the schema ledger.
type MigrationRecord struct {
	Version   int       `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// PropertyFilter narrows ListProperties. Zero/nil fields are ignored.
type PropertyFilter struct {
	Source   string
	Status   Status
	MinPrice *float64
	MaxPrice *float64
	MinSize  *float64
	MaxSize  *float64
}

// ListOptions controls ordering and pagination of ListProperties.
// SortField must be one of the whitelisted column names; an empty field
// sorts by created_at.
type ListOptions struct {
	SortField string
	SortDesc  bool
	Limit     int
	Offset    int
}
