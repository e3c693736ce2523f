package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-collector/internal/resilience"
	"github.com/i474232898/weather-collector/internal/weather"
)

const openMeteoDefaultURL = "https://api.open-meteo.com/v1/forecast"

// GeocodeFunc resolves a city to coordinates.
type GeocodeFunc func(ctx context.Context, city, country string) (lat, lon float64, err error)

var geocoderKeyMu sync.Mutex

// GoogleGeocoder returns a GeocodeFunc backed by the Google geocoding API.
func GoogleGeocoder(apiKey string) GeocodeFunc {
	return func(_ context.Context, city, country string) (float64, float64, error) {
		if apiKey == "" {
			return 0, 0, fmt.Errorf("geocoder api key is not configured")
		}
		// geocoder keeps the key in a package variable.
		geocoderKeyMu.Lock()
		defer geocoderKeyMu.Unlock()
		geocoder.ApiKey = apiKey

		loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
		if err != nil {
			return 0, 0, fmt.Errorf("geocode %q: %w", city, err)
		}
		return loc.Latitude, loc.Longitude, nil
	}
}

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
// Open-Meteo only understands coordinates, so city lookups go through geocode.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	geocode GeocodeFunc
	httpCfg resilience.HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(client *http.Client, baseURL string, geocode GeocodeFunc) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = openMeteoDefaultURL
	}
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: baseURL,
		geocode: geocode,
		httpCfg: resilience.HTTPClientConfig{
			Client:  client,
			Backoff: resilience.DefaultBackoff,
		},
		circuit: resilience.NewBreaker("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	var lat, lon float64
	switch {
	case loc.HasCoordinates():
		lat, lon = *loc.Lat, *loc.Lon
	case p.geocode != nil:
		var err error
		lat, lon, err = p.geocode(ctx, loc.City, loc.Country)
		if err != nil {
			return weather.ProviderReading{}, err
		}
	default:
		return weather.ProviderReading{}, fmt.Errorf("openmeteo requires latitude and longitude")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", lat))
		values.Set("longitude", fmt.Sprintf("%f", lon))
		values.Set("current", "temperature_2m,relative_humidity_2m,surface_pressure,wind_speed_10m,wind_direction_10m,weather_code")
		values.Set("wind_speed_unit", "ms")
		values.Set("timeformat", "unixtime")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := resilience.Do(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.ProviderReading{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Current struct {
			Time          int64    `json:"time"`
			Temperature   *float64 `json:"temperature_2m"`
			Humidity      *float64 `json:"relative_humidity_2m"`
			Pressure      *float64 `json:"surface_pressure"`
			WindSpeed     *float64 `json:"wind_speed_10m"`
			WindDirection *float64 `json:"wind_direction_10m"`
			WeatherCode   *int     `json:"weather_code"`
		} `json:"current"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.ProviderReading{}, fmt.Errorf("decode openmeteo response: %w", err)
	}

	reading := weather.ProviderReading{
		ProviderName:     p.name,
		TemperatureC:     payload.Current.Temperature,
		HumidityPct:      payload.Current.Humidity,
		PressureHpa:      payload.Current.Pressure,
		WindSpeedMS:      payload.Current.WindSpeed,
		WindDirectionDeg: payload.Current.WindDirection,
	}
	if payload.Current.Time > 0 {
		reading.Timestamp = time.Unix(payload.Current.Time, 0).UTC()
	}
	if payload.Current.WeatherCode != nil {
		reading.Condition, reading.Description = mapOpenMeteoCondition(*payload.Current.WeatherCode)
	}

	return reading, nil
}
