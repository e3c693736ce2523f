package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-collector/internal/collector"
	"github.com/i474232898/weather-collector/internal/store"
	"github.com/i474232898/weather-collector/internal/weather"
)

type stubSource struct {
	err error
}

func (s *stubSource) FetchByCity(_ context.Context, name string) (weather.Reading, error) {
	if s.err != nil {
		return weather.Reading{}, s.err
	}
	return weather.Reading{
		Location:    name,
		Timestamp:   time.Now().UTC(),
		Temperature: weather.Float(18),
		Humidity:    weather.Float(60),
	}, nil
}

func (s *stubSource) FetchByCoordinates(ctx context.Context, lat, lon float64) (weather.Reading, error) {
	r, err := s.FetchByCity(ctx, "Coords")
	r.Coordinates = &weather.Coordinates{Lat: lat, Lon: lon}
	return r, err
}

type testEnv struct {
	app   *fiber.App
	store *store.MemoryStore
	svc   *collector.Service
}

func newTestEnv(t *testing.T, source *stubSource) *testEnv {
	t.Helper()

	mem := store.NewMemoryStore()
	task := collector.NewTask(source, mem, nil, nil, nil)
	registry := collector.NewRegistry(task, time.Hour, nil, nil)
	svc := collector.NewService(mem, registry, time.Hour, nil)
	t.Cleanup(svc.Shutdown)

	app := fiber.New()
	RegisterRoutes(app, Dependencies{
		Collectors: svc,
		Readings:   mem,
		Source:     source,
	})
	return &testEnv{app: app, store: mem, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestCollectorLifecycle(t *testing.T) {
	env := newTestEnv(t, &stubSource{})

	resp, body := env.do(t, http.MethodPost, "/api/collectors",
		`{"name":"home","location":"London","attributes":["temperature"],"interval":60000}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created collector.Config
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, collector.LocationCity, created.LocationType)
	assert.True(t, created.Active)

	resp, body = env.do(t, http.MethodGet, "/api/collectors/"+created.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap collector.JobSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, collector.StatusRunning, snap.Status)
	assert.Equal(t, int64(60000), snap.Interval)

	resp, body = env.do(t, http.MethodGet, "/api/collectors", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var running []collector.JobSnapshot
	require.NoError(t, json.Unmarshal(body, &running))
	assert.Len(t, running, 1)

	resp, _ = env.do(t, http.MethodPost, "/api/collectors/"+created.ID+"/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/collectors/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/collectors/"+created.ID+"/stop", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/collectors/"+created.ID+"/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodPut, "/api/collectors/"+created.ID, `{"name":"office"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated collector.Config
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "office", updated.Name)
	assert.True(t, updated.Active)

	resp, _ = env.do(t, http.MethodDelete, "/api/collectors/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/collectors/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/collectors?all=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestCreateCollector_Validation(t *testing.T) {
	env := newTestEnv(t, &stubSource{})

	cases := map[string]string{
		"missing location":    `{"name":"x"}`,
		"missing coordinates": `{"location":"somewhere","locationType":"coordinates","coordinates":{"lat":51.5}}`,
		"unknown attribute":   `{"location":"London","attributes":["uv_index"]}`,
		"bad cron":            `{"location":"London","cronExpression":"every day"}`,
		"interval too small":  `{"location":"London","interval":10}`,
		"malformed body":      `{"location":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, data := env.do(t, http.MethodPost, "/api/collectors", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(data))
		})
	}

	configs, err := env.store.ListConfigs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestUpdateCollector_NotFound(t *testing.T) {
	env := newTestEnv(t, &stubSource{})

	resp, _ := env.do(t, http.MethodPut, "/api/collectors/missing", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/collectors/missing/start", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWeatherReadings(t *testing.T) {
	env := newTestEnv(t, &stubSource{})
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, loc := range []string{"London", "London", "Paris"} {
		_, err := env.store.CreateReading(ctx, weather.Reading{
			CollectorID: "c" + loc,
			Location:    loc,
			Timestamp:   base.Add(time.Duration(i) * time.Hour),
			Temperature: weather.Float(float64(10 + i)),
		})
		require.NoError(t, err)
	}

	resp, body := env.do(t, http.MethodGet, "/api/weather?location=London", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var readings []weather.Reading
	require.NoError(t, json.Unmarshal(body, &readings))
	require.Len(t, readings, 2)
	assert.Equal(t, 11.0, *readings[0].Temperature)

	resp, body = env.do(t, http.MethodGet, "/api/weather?startDate=2024-03-01T13:30:00Z&endDate=2024-03-02", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &readings))
	require.Len(t, readings, 1)
	assert.Equal(t, "Paris", readings[0].Location)

	resp, _ = env.do(t, http.MethodGet, "/api/weather?startDate=2024-03-02&endDate=2024-03-01", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/weather?startDate=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/weather/location/Paris", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var latest weather.Reading
	require.NoError(t, json.Unmarshal(body, &latest))
	assert.Equal(t, "cParis", latest.CollectorID)

	resp, _ = env.do(t, http.MethodGet, "/api/weather/location/Berlin", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/weather/collector/cLondon", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &readings))
	assert.Len(t, readings, 2)

	resp, body = env.do(t, http.MethodGet, "/api/weather/collector/unknown", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestCurrentWeather(t *testing.T) {
	env := newTestEnv(t, &stubSource{})

	resp, body := env.do(t, http.MethodGet, "/api/weather/current/Madrid", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var r weather.Reading
	require.NoError(t, json.Unmarshal(body, &r))
	assert.Equal(t, "Madrid", r.Location)

	resp, body = env.do(t, http.MethodGet, "/api/weather/current/here?lat=40.4&lon=-3.7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &r))
	require.NotNil(t, r.Coordinates)
	assert.Equal(t, 40.4, r.Coordinates.Lat)

	resp, _ = env.do(t, http.MethodGet, "/api/weather/current/here?lat=100&lon=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	readings, err := env.store.QueryReadings(context.Background(), weather.ReadingFilter{})
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestWeatherRoutes_DecodeLocation(t *testing.T) {
	env := newTestEnv(t, &stubSource{})

	_, err := env.store.CreateReading(context.Background(), weather.Reading{
		CollectorID: "ny",
		Location:    "New York",
		Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Temperature: weather.Float(7),
	})
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodGet, "/api/weather/location/New%20York", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var latest weather.Reading
	require.NoError(t, json.Unmarshal(body, &latest))
	assert.Equal(t, "ny", latest.CollectorID)

	resp, body = env.do(t, http.MethodGet, "/api/weather/current/New%20York", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var current weather.Reading
	require.NoError(t, json.Unmarshal(body, &current))
	assert.Equal(t, "New York", current.Location)
}

func TestCurrentWeather_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, &stubSource{err: &weather.ProviderError{Provider: "openweathermap", Err: errors.New("timeout")}})

	resp, _ := env.do(t, http.MethodGet, "/api/weather/current/Madrid", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return store.ErrUnavailable }

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubSource{})

	resp, _ := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	app := fiber.New()
	RegisterRoutes(app, Dependencies{Collectors: env.svc, Readings: env.store, Source: &stubSource{}, Health: downStore{}})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestToFiberError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&collector.ValidationError{Field: "location", Reason: "is required"}, fiber.StatusBadRequest},
		{collector.ErrNotFound, fiber.StatusNotFound},
		{&store.StoreError{Op: "get config", Err: store.ErrUnavailable}, fiber.StatusServiceUnavailable},
		{weather.ErrNoProviders, fiber.StatusBadGateway},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		var fe *fiber.Error
		require.ErrorAs(t, toFiberError(tc.err), &fe)
		assert.Equal(t, tc.code, fe.Code, tc.err.Error())
	}
}
