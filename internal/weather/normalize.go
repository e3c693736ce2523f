package weather

import (
	"fmt"
	"time"
)

// Normalize converts a provider reading for loc into a canonical Reading.
//
// City lookups are labelled with the requested city name. Coordinate lookups
// use the provider's place name, falling back to "Lat:<lat>, Lon:<lon>".
// A zero provider timestamp is replaced with now.
func Normalize(loc Location, r ProviderReading, now time.Time) (Reading, error) {
	out := Reading{
		Timestamp:     r.Timestamp.UTC(),
		Temperature:   r.TemperatureC,
		Humidity:      r.HumidityPct,
		Pressure:      r.PressureHpa,
		WindSpeed:     r.WindSpeedMS,
		WindDirection: r.WindDirectionDeg,
		Condition:     r.Condition,
		Description:   r.Description,
		Icon:          r.Icon,
	}
	if r.Timestamp.IsZero() || r.Timestamp.Unix() <= 0 {
		out.Timestamp = now.UTC()
	}

	if loc.HasCoordinates() {
		out.Coordinates = &Coordinates{Lat: *loc.Lat, Lon: *loc.Lon}
		out.Location = r.PlaceName
		if out.Location == "" {
			out.Location = fmt.Sprintf("Lat:%g, Lon:%g", *loc.Lat, *loc.Lon)
		}
	} else {
		out.Location = loc.City
	}

	if err := out.Validate(); err != nil {
		return Reading{}, err
	}
	return out, nil
}

// Project keeps location, timestamp and the collector reference, plus only the
// allow-listed attributes that are present on r. An empty allow-list keeps r
// unchanged. Attributes missing from r are omitted, never synthesized.
func Project(r Reading, attrs []string) Reading {
	if len(attrs) == 0 {
		return r
	}

	out := Reading{
		ID:          r.ID,
		CollectorID: r.CollectorID,
		Location:    r.Location,
		Timestamp:   r.Timestamp,
	}
	for _, attr := range attrs {
		switch attr {
		case AttrCoordinates:
			out.Coordinates = r.Coordinates
		case AttrTemperature:
			out.Temperature = r.Temperature
		case AttrHumidity:
			out.Humidity = r.Humidity
		case AttrPressure:
			out.Pressure = r.Pressure
		case AttrWindSpeed:
			out.WindSpeed = r.WindSpeed
		case AttrWindDirection:
			out.WindDirection = r.WindDirection
		case AttrCondition:
			out.Condition = r.Condition
		case AttrDescription:
			out.Description = r.Description
		case AttrIcon:
			out.Icon = r.Icon
		}
	}
	return out
}

// Float returns a pointer to v. Providers use it to fill sparse fields.
func Float(v float64) *float64 {
	return &v
}
