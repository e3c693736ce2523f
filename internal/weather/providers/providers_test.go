package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-collector/internal/resilience"
	"github.com/i474232898/weather-collector/internal/weather"
)

const owmBody = `{
	"name": "Berlin",
	"dt": 1700000000,
	"main": {"temp": 12.5, "humidity": 81, "pressure": 1012},
	"wind": {"speed": 3.6, "deg": 240},
	"weather": [{"main": "Clouds", "description": "broken clouds", "icon": "04d"}]
}`

func TestOpenWeatherFetchByCity(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "secret", r.URL.Query().Get("appid"))
		w.Write([]byte(owmBody))
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), "secret", srv.URL)
	r, err := p.Fetch(context.Background(), weather.Location{City: "Berlin"})
	require.NoError(t, err)

	assert.Equal(t, "Berlin", gotQuery)
	assert.Equal(t, "openweathermap", r.ProviderName)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), r.Timestamp)
	require.NotNil(t, r.TemperatureC)
	assert.InDelta(t, 12.5, *r.TemperatureC, 0.001)
	require.NotNil(t, r.WindDirectionDeg)
	assert.InDelta(t, 240, *r.WindDirectionDeg, 0.001)
	assert.Equal(t, "Clouds", r.Condition)
	assert.Equal(t, "broken clouds", r.Description)
	assert.Equal(t, "04d", r.Icon)
}

func TestOpenWeatherFetchByCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "52.52", r.URL.Query().Get("lat"))
		assert.Equal(t, "13.405", r.URL.Query().Get("lon"))
		assert.Empty(t, r.URL.Query().Get("q"))
		w.Write([]byte(`{"main": {"temp": 1.0}, "weather": []}`))
	}))
	defer srv.Close()

	lat, lon := 52.52, 13.405
	p := NewOpenWeatherProvider(srv.Client(), "secret", srv.URL)
	r, err := p.Fetch(context.Background(), weather.Location{Lat: &lat, Lon: &lon})
	require.NoError(t, err)
	assert.Nil(t, r.HumidityPct)
	assert.Empty(t, r.Condition)
}

func TestOpenWeatherRequiresAPIKey(t *testing.T) {
	p := NewOpenWeatherProvider(http.DefaultClient, "", "http://127.0.0.1:0")
	_, err := p.Fetch(context.Background(), weather.Location{City: "Berlin"})
	assert.Error(t, err)
}

func TestOpenWeatherClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), "secret", srv.URL)
	_, err := p.Fetch(context.Background(), weather.Location{City: "Atlantis"})

	var statusErr *resilience.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWeatherAPIFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Paris", r.URL.Query().Get("q"))
		w.Write([]byte(`{
			"location": {"name": "Paris", "localtime_epoch": 1700000000},
			"current": {"temp_c": 9, "humidity": 70, "wind_kph": 36, "wind_degree": 90,
				"pressure_mb": 1020, "condition": {"text": "Light rain shower", "icon": "//cdn/rain.png"}}
		}`))
	}))
	defer srv.Close()

	p := NewWeatherAPIProvider(srv.Client(), "key", srv.URL)
	r, err := p.Fetch(context.Background(), weather.Location{City: "Paris"})
	require.NoError(t, err)

	require.NotNil(t, r.WindSpeedMS)
	assert.InDelta(t, 10.0, *r.WindSpeedMS, 0.001)
	assert.Equal(t, "Rain", r.Condition)
	assert.Equal(t, "Light rain shower", r.Description)
}

func TestOpenMeteoGeocodesCities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "48.856600", r.URL.Query().Get("latitude"))
		w.Write([]byte(`{"current": {"time": 1700000000, "temperature_2m": 4.2, "weather_code": 61}}`))
	}))
	defer srv.Close()

	geocode := func(_ context.Context, city, _ string) (float64, float64, error) {
		assert.Equal(t, "Paris", city)
		return 48.8566, 2.3522, nil
	}

	p := NewOpenMeteoProvider(srv.Client(), srv.URL, geocode)
	r, err := p.Fetch(context.Background(), weather.Location{City: "Paris"})
	require.NoError(t, err)
	assert.Equal(t, "Rain", r.Condition)
	require.NotNil(t, r.TemperatureC)
	assert.InDelta(t, 4.2, *r.TemperatureC, 0.001)
}

func TestOpenMeteoWithoutGeocoder(t *testing.T) {
	p := NewOpenMeteoProvider(http.DefaultClient, "http://127.0.0.1:0", nil)
	_, err := p.Fetch(context.Background(), weather.Location{City: "Paris"})
	assert.Error(t, err)
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

type countingProvider struct {
	calls int
	err   error
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Fetch(_ context.Context, loc weather.Location) (weather.ProviderReading, error) {
	p.calls++
	if p.err != nil {
		return weather.ProviderReading{}, p.err
	}
	return weather.ProviderReading{ProviderName: "counting", TemperatureC: weather.Float(20)}, nil
}

func TestCachedProviderServesFromCache(t *testing.T) {
	next := &countingProvider{}
	p := NewCachedProvider(next, &memCache{data: map[string][]byte{}}, time.Minute, nil)

	for i := 0; i < 3; i++ {
		r, err := p.Fetch(context.Background(), weather.Location{City: "Oslo"})
		require.NoError(t, err)
		require.NotNil(t, r.TemperatureC)
		assert.InDelta(t, 20, *r.TemperatureC, 0.001)
	}
	assert.Equal(t, 1, next.calls)

	_, err := p.Fetch(context.Background(), weather.Location{City: "Bergen"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedProviderDoesNotCacheErrors(t *testing.T) {
	next := &countingProvider{err: errors.New("boom")}
	p := NewCachedProvider(next, &memCache{data: map[string][]byte{}}, time.Minute, nil)

	_, err := p.Fetch(context.Background(), weather.Location{City: "Oslo"})
	assert.Error(t, err)
	_, err = p.Fetch(context.Background(), weather.Location{City: "Oslo"})
	assert.Error(t, err)
	assert.Equal(t, 2, next.calls)
}
