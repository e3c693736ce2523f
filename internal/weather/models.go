package weather

import (
	"errors"
	"fmt"
	"time"
)

// Reading attribute names. These are the JSON field names of Reading and the
// values accepted in a collector's attribute allow-list.
const (
	AttrCoordinates   = "coordinates"
	AttrTemperature   = "temperature"
	AttrHumidity      = "humidity"
	AttrPressure      = "pressure"
	AttrWindSpeed     = "wind_speed"
	AttrWindDirection = "wind_direction"
	AttrCondition     = "weather_condition"
	AttrDescription   = "weather_description"
	AttrIcon          = "icon"
)

// Attributes lists every attribute that can appear in an allow-list.
var Attributes = []string{
	AttrCoordinates,
	AttrTemperature,
	AttrHumidity,
	AttrPressure,
	AttrWindSpeed,
	AttrWindDirection,
	AttrCondition,
	AttrDescription,
	AttrIcon,
}

// IsAttribute reports whether name is a known reading attribute.
func IsAttribute(name string) bool {
	for _, a := range Attributes {
		if a == name {
			return true
		}
	}
	return false
}

// IsMeasurement reports whether name is an attribute that satisfies the
// reading invariant on its own: a measurement or the condition code.
func IsMeasurement(name string) bool {
	switch name {
	case AttrTemperature, AttrHumidity, AttrPressure, AttrWindSpeed, AttrWindDirection, AttrCondition:
		return true
	}
	return false
}

var ErrInvalidReading = errors.New("invalid weather reading")

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location identifies what a provider is asked about: either a city name or
// a coordinate pair. Coordinates take precedence when both are set.
type Location struct {
	City    string   `json:"city,omitempty"`
	Country string   `json:"country,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
}

// HasCoordinates reports whether both lat and lon are present.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// Key returns a canonical string key for caching and logging.
func (l Location) Key() string {
	if l.HasCoordinates() {
		return fmt.Sprintf("%.4f,%.4f", *l.Lat, *l.Lon)
	}
	if l.Country != "" {
		return l.City + ":" + l.Country
	}
	return l.City
}

// Reading is the canonical weather record persisted per collector.
// Measurement fields are sparse: nil (or empty) means the value is absent.
type Reading struct {
	ID          string       `json:"id,omitempty"`
	CollectorID string       `json:"collector_id,omitempty"`
	Location    string       `json:"location"`
	Timestamp   time.Time    `json:"timestamp"` // always UTC
	Coordinates *Coordinates `json:"coordinates,omitempty"`

	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Pressure      *float64 `json:"pressure,omitempty"`
	WindSpeed     *float64 `json:"wind_speed,omitempty"`
	WindDirection *float64 `json:"wind_direction,omitempty"`
	Condition     string   `json:"weather_condition,omitempty"`
	Description   string   `json:"weather_description,omitempty"`
	Icon          string   `json:"icon,omitempty"`
}

// Validate checks that location and timestamp are set and that at least one
// measurement or the condition code is populated.
func (r Reading) Validate() error {
	if r.Location == "" {
		return fmt.Errorf("%w: location is empty", ErrInvalidReading)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is empty", ErrInvalidReading)
	}
	if r.Temperature == nil && r.Humidity == nil && r.Pressure == nil &&
		r.WindSpeed == nil && r.WindDirection == nil && r.Condition == "" {
		return fmt.Errorf("%w: no measurement present", ErrInvalidReading)
	}
	return nil
}

// ReadingFilter narrows a reading query. Zero values mean "no filter".
type ReadingFilter struct {
	Location    string
	CollectorID string
	From        *time.Time
	To          *time.Time
	Limit       int
}

// DefaultQueryLimit caps QueryReadings results when no limit is given.
const DefaultQueryLimit = 100

// Matches reports whether r satisfies every set filter field.
func (f ReadingFilter) Matches(r Reading) bool {
	if f.Location != "" && r.Location != f.Location {
		return false
	}
	if f.CollectorID != "" && r.CollectorID != f.CollectorID {
		return false
	}
	if f.From != nil && r.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && r.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// EffectiveLimit returns Limit or DefaultQueryLimit when unset.
func (f ReadingFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	return f.Limit
}
