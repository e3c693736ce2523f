package collector

import (
	"time"

	"github.com/i474232898/weather-collector/internal/weather"
)

// LocationType selects how a collector's location is resolved.
type LocationType string

const (
	LocationCity        LocationType = "city"
	LocationCoordinates LocationType = "coordinates"
)

// Coordinates is the user-supplied coordinate pair. Either value may be
// missing in input, which validation rejects for coordinate collectors.
type Coordinates struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// Complete reports whether both lat and lon are present.
func (c *Coordinates) Complete() bool {
	return c != nil && c.Lat != nil && c.Lon != nil
}

// Config is a persisted collector configuration.
type Config struct {
	ID             string       `json:"id"`
	Name           string       `json:"name,omitempty"`
	Location       string       `json:"location" validate:"required"`
	LocationType   LocationType `json:"locationType" validate:"required,oneof=city coordinates"`
	Coordinates    *Coordinates `json:"coordinates,omitempty"`
	Attributes     []string     `json:"attributes,omitempty" validate:"dive,weather_attr"`
	Interval       int64        `json:"interval,omitempty" validate:"omitempty,min=1000"`
	CronExpression string       `json:"cronExpression,omitempty" validate:"omitempty,cron_spec"`
	Timezone       string       `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Active         bool         `json:"active"`
	Created        time.Time    `json:"created"`
	Updated        time.Time    `json:"updated"`
}

// lookup converts the location descriptor to a provider query.
func (c Config) lookup() weather.Location {
	if c.LocationType == LocationCoordinates && c.Coordinates.Complete() {
		return weather.Location{Lat: c.Coordinates.Lat, Lon: c.Coordinates.Lon}
	}
	return weather.Location{City: c.Location}
}

// Draft is the input to Service.Create. Active defaults to true when nil.
type Draft struct {
	Name           string       `json:"name,omitempty"`
	Location       string       `json:"location"`
	LocationType   LocationType `json:"locationType,omitempty"`
	Coordinates    *Coordinates `json:"coordinates,omitempty"`
	Attributes     []string     `json:"attributes,omitempty"`
	Interval       int64        `json:"interval,omitempty"`
	CronExpression string       `json:"cronExpression,omitempty"`
	Timezone       string       `json:"timezone,omitempty"`
	Active         *bool        `json:"active,omitempty"`
}

// config applies creation defaults.
func (d Draft) config(now time.Time, defaultInterval time.Duration) Config {
	cfg := Config{
		Name:           d.Name,
		Location:       d.Location,
		LocationType:   d.LocationType,
		Coordinates:    d.Coordinates,
		Attributes:     d.Attributes,
		Interval:       d.Interval,
		CronExpression: d.CronExpression,
		Timezone:       d.Timezone,
		Active:         true,
		Created:        now,
		Updated:        now,
	}
	if cfg.LocationType == "" {
		cfg.LocationType = LocationCity
	}
	if d.Active != nil {
		cfg.Active = *d.Active
	}
	if cfg.Interval == 0 && cfg.CronExpression == "" {
		cfg.Interval = defaultInterval.Milliseconds()
	}
	return cfg
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name           *string       `json:"name,omitempty"`
	Location       *string       `json:"location,omitempty"`
	LocationType   *LocationType `json:"locationType,omitempty"`
	Coordinates    *Coordinates  `json:"coordinates,omitempty"`
	Attributes     *[]string     `json:"attributes,omitempty"`
	Interval       *int64        `json:"interval,omitempty"`
	CronExpression *string       `json:"cronExpression,omitempty"`
	Timezone       *string       `json:"timezone,omitempty"`
	Active         *bool         `json:"active,omitempty"`
}

// TouchesSchedule reports whether applying p requires restarting a running job.
func (p Patch) TouchesSchedule() bool {
	return p.Active != nil || p.Location != nil || p.LocationType != nil ||
		p.Coordinates != nil || p.Interval != nil || p.CronExpression != nil ||
		p.Timezone != nil
}

// Apply returns c with every set field of p applied.
func (p Patch) Apply(c Config) Config {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Location != nil {
		c.Location = *p.Location
	}
	if p.LocationType != nil {
		c.LocationType = *p.LocationType
	}
	if p.Coordinates != nil {
		c.Coordinates = p.Coordinates
	}
	if p.Attributes != nil {
		c.Attributes = *p.Attributes
	}
	if p.Interval != nil {
		c.Interval = *p.Interval
	}
	if p.CronExpression != nil {
		c.CronExpression = *p.CronExpression
	}
	if p.Timezone != nil {
		c.Timezone = *p.Timezone
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
	return c
}
