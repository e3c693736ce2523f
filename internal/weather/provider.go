package weather

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProviderReading is a single provider's answer converted to metric units.
// Normalize turns it into a Reading.
type ProviderReading struct {
	ProviderName string
	// PlaceName is the provider's own label for the location, if any.
	PlaceName string
	Timestamp time.Time

	TemperatureC     *float64
	HumidityPct      *float64
	PressureHpa      *float64
	WindSpeedMS      *float64
	WindDirectionDeg *float64
	Condition        string
	Description      string
	Icon             string
}

// Provider abstracts a weather data source (e.g. OpenWeatherMap, WeatherAPI, Open-Meteo).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (ProviderReading, error)
}

var ErrNoProviders = errors.New("no weather providers configured")

// ProviderError wraps a failure returned by a remote provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
