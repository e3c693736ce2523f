package collector

import (
	"context"

	"github.com/i474232898/weather-collector/internal/weather"
)

// WeatherSource resolves a live reading for a city or coordinate pair.
type WeatherSource interface {
	FetchByCity(ctx context.Context, name string) (weather.Reading, error)
	FetchByCoordinates(ctx context.Context, lat, lon float64) (weather.Reading, error)
}

// ConfigStore persists collector configurations. Missing ids yield ErrNotFound.
type ConfigStore interface {
	ListConfigs(ctx context.Context) ([]Config, error)
	GetConfig(ctx context.Context, id string) (Config, error)
	CreateConfig(ctx context.Context, cfg Config) (Config, error)
	UpdateConfig(ctx context.Context, id string, patch Patch) (Config, error)
	DeleteConfig(ctx context.Context, id string) (bool, error)
}

// ReadingStore persists weather readings. At most one live reading is kept
// per collector id; ReadingByCollector returns the most recent match.
type ReadingStore interface {
	ReadingByCollector(ctx context.Context, collectorID string) (weather.Reading, error)
	CreateReading(ctx context.Context, r weather.Reading) (weather.Reading, error)
	UpdateReading(ctx context.Context, id string, r weather.Reading) (weather.Reading, error)
	// QueryReadings returns matches sorted by timestamp, newest first.
	QueryReadings(ctx context.Context, filter weather.ReadingFilter) ([]weather.Reading, error)
}

// Store is the durable store for configs and readings.
type Store interface {
	ConfigStore
	ReadingStore
}

// Sink receives every reading after it has been persisted.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r weather.Reading) error
}
