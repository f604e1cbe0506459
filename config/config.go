package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	// Database configuration
	Database struct {
		// Path to the SQLite database file
		Path string `env:"DB_PATH" envDefault:"data/propwatch.db"`

		// Relative price change that triggers a new history observation
		PriceChangeThreshold float64 `env:"DB_PRICE_CHANGE_THRESHOLD" envDefault:"0.001"`

		// Maximum age of the latest observation before an unchanged price
		// is re-recorded
		PriceRefreshInterval time.Duration `env:"DB_PRICE_REFRESH_INTERVAL" envDefault:"168h"`

		// How long a writer waits on a locked database
		BusyTimeout time.Duration `env:"DB_BUSY_TIMEOUT" envDefault:"5s"`
	}

	// BatchProcessing configuration
	BatchProcessing struct {
		// Number of listing batches the ingest queue buffers
		QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"100"`

		// Number of concurrent batch processors
		ProcessorCount int `env:"BATCH_PROCESSOR_COUNT" envDefault:"2"`

		// Maximum number of retries for failed batches
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries
		RetryDelay time.Duration `env:"BATCH_RETRY_DELAY" envDefault:"5s"`
	}

	// HTTP API configuration
	HTTP struct {
		Port int `env:"HTTP_PORT" envDefault:"8080"`
	}

	// Geometry configuration
	Geometry struct {
		// GeoJSON file with district boundary polygons; empty disables
		// district backfill
		DistrictsPath string `env:"DISTRICTS_GEOJSON" envDefault:""`
	}

	// Maintenance configuration
	Maintenance struct {
		// Hour of day (UTC) at which price history compaction runs
		CompactionHourUTC int `env:"COMPACTION_HOUR_UTC" envDefault:"0"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
