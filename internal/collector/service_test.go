package collector_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-collector/internal/collector"
	"github.com/i474232898/weather-collector/internal/store"
	"github.com/i474232898/weather-collector/internal/weather"
)

type stubSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubSource) reading(location string) (weather.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return weather.Reading{}, s.err
	}
	return weather.Reading{
		Location:      location,
		Timestamp:     time.Now().UTC(),
		Temperature:   weather.Float(15.2),
		Humidity:      weather.Float(72),
		Pressure:      weather.Float(1012),
		WindSpeed:     weather.Float(4.1),
		WindDirection: weather.Float(230),
		Condition:     "Clouds",
		Description:   "broken clouds",
		Icon:          "04d",
	}, nil
}

func (s *stubSource) FetchByCity(_ context.Context, name string) (weather.Reading, error) {
	return s.reading(name)
}

func (s *stubSource) FetchByCoordinates(_ context.Context, lat, lon float64) (weather.Reading, error) {
	r, err := s.reading("Lat:51.5, Lon:-0.12")
	r.Coordinates = &weather.Coordinates{Lat: lat, Lon: lon}
	return r, err
}

type recordingSink struct {
	mu       sync.Mutex
	readings []weather.Reading
	err      error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, r weather.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return s.err
}

type fixture struct {
	store  *store.MemoryStore
	source *stubSource
	sink   *recordingSink
	task   *collector.Task
	svc    *collector.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:  store.NewMemoryStore(),
		source: &stubSource{},
		sink:   &recordingSink{},
	}
	f.task = collector.NewTask(f.source, f.store, []collector.Sink{f.sink}, nil, nil)
	registry := collector.NewRegistry(f.task, time.Hour, nil, nil)
	f.svc = collector.NewService(f.store, registry, time.Hour, nil)
	t.Cleanup(f.svc.Shutdown)
	return f
}

func (f *fixture) readings(t *testing.T, collectorID string) []weather.Reading {
	t.Helper()
	rs, err := f.store.QueryReadings(context.Background(), weather.ReadingFilter{CollectorID: collectorID})
	require.NoError(t, err)
	return rs
}

func TestCreateThenStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.Create(ctx, collector.Draft{Location: "London", Interval: 60000})
	require.NoError(t, err)
	require.NotEmpty(t, cfg.ID)

	snap, ok := f.svc.Status(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, collector.StatusRunning, snap.Status)
	assert.Equal(t, "London", snap.Location)

	require.Eventually(t, func() bool { return len(f.readings(t, cfg.ID)) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCreateInactiveIsNotScheduled(t *testing.T) {
	f := newFixture(t)

	inactive := false
	cfg, err := f.svc.Create(context.Background(), collector.Draft{Location: "London", Active: &inactive})
	require.NoError(t, err)

	_, ok := f.svc.Status(cfg.ID)
	assert.False(t, ok)
	assert.Equal(t, int64(3600000), cfg.Interval)
}

func TestCreateRejectsIncompleteCoordinates(t *testing.T) {
	f := newFixture(t)
	lat := 51.5

	_, err := f.svc.Create(context.Background(), collector.Draft{
		Location:     "home",
		LocationType: collector.LocationCoordinates,
		Coordinates:  &collector.Coordinates{Lat: &lat},
	})
	var ve *collector.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "coordinates", ve.Field)

	configs, err := f.store.ListConfigs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, configs)
	assert.Empty(t, f.svc.List())
}

func TestTaskProjectsAttributes(t *testing.T) {
	f := newFixture(t)
	cfg := collector.Config{
		ID:           "c1",
		Location:     "London",
		LocationType: collector.LocationCity,
		Attributes:   []string{weather.AttrTemperature},
		Interval:     60000,
	}

	r, err := f.task.Collect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "c1", r.CollectorID)
	assert.Equal(t, "London", r.Location)
	assert.False(t, r.Timestamp.IsZero())
	require.NotNil(t, r.Temperature)
	assert.Equal(t, 15.2, *r.Temperature)
	assert.Nil(t, r.Humidity)
	assert.Nil(t, r.Pressure)
	assert.Nil(t, r.WindSpeed)
	assert.Empty(t, r.Condition)
	assert.Empty(t, r.Icon)
}

func TestTaskUpsertsSingleReading(t *testing.T) {
	f := newFixture(t)
	cfg := collector.Config{ID: "c1", Location: "London", LocationType: collector.LocationCity, Interval: 60000}
	ctx := context.Background()

	first, err := f.task.Collect(ctx, cfg)
	require.NoError(t, err)
	second, err := f.task.Collect(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.readings(t, "c1"), 1)
	assert.Len(t, f.sink.readings, 2)
}

func TestTaskCoordinates(t *testing.T) {
	f := newFixture(t)
	lat, lon := 51.5, -0.12
	cfg := collector.Config{
		ID:           "c2",
		Location:     "home",
		LocationType: collector.LocationCoordinates,
		Coordinates:  &collector.Coordinates{Lat: &lat, Lon: &lon},
		Attributes:   []string{weather.AttrCoordinates, weather.AttrHumidity},
		Interval:     60000,
	}

	r, err := f.task.Collect(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, r.Coordinates)
	assert.Equal(t, 51.5, r.Coordinates.Lat)
	assert.NotNil(t, r.Humidity)
	assert.Nil(t, r.Temperature)
}

func TestTaskProviderFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.source.err = &weather.ProviderError{Provider: "openweathermap", Err: errors.New("timeout")}
	cfg := collector.Config{ID: "c3", Location: "London", LocationType: collector.LocationCity, Interval: 60000}

	_, err := f.task.Collect(context.Background(), cfg)
	var pe *weather.ProviderError
	require.ErrorAs(t, err, &pe)

	f.task.Run(context.Background(), cfg)
	assert.Empty(t, f.readings(t, "c3"))
	assert.Empty(t, f.sink.readings)
}

func TestTaskSinkFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("broker down")
	cfg := collector.Config{ID: "c4", Location: "London", LocationType: collector.LocationCity, Interval: 60000}

	_, err := f.task.Collect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, f.readings(t, "c4"), 1)
}

func TestTaskRejectsReadingWithoutMeasurement(t *testing.T) {
	f := newFixture(t)
	cfg := collector.Config{
		ID:           "c5",
		Location:     "London",
		LocationType: collector.LocationCity,
		Attributes:   []string{weather.AttrIcon},
		Interval:     60000,
	}

	_, err := f.task.Collect(context.Background(), cfg)
	require.ErrorIs(t, err, weather.ErrInvalidReading)
	assert.Empty(t, f.readings(t, "c5"))
	assert.Empty(t, f.sink.readings)
}

// slowLookupStore delays the existing-reading lookup so that a tick is still
// in flight when the next one is due.
type slowLookupStore struct {
	*store.MemoryStore
	delay time.Duration
}

func (s slowLookupStore) ReadingByCollector(ctx context.Context, collectorID string) (weather.Reading, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.ReadingByCollector(ctx, collectorID)
}

func TestSlowTicksKeepSingleReading(t *testing.T) {
	mem := store.NewMemoryStore()
	st := slowLookupStore{MemoryStore: mem, delay: 1200 * time.Millisecond}
	task := collector.NewTask(&stubSource{}, st, nil, nil, nil)
	svc := collector.NewService(st, collector.NewRegistry(task, time.Hour, nil, nil), time.Hour, nil)
	t.Cleanup(svc.Shutdown)

	cfg, err := svc.Create(context.Background(), collector.Draft{Location: "London", Interval: 1000})
	require.NoError(t, err)

	time.Sleep(2600 * time.Millisecond)
	rs, err := mem.QueryReadings(context.Background(), weather.ReadingFilter{CollectorID: cfg.ID})
	require.NoError(t, err)
	assert.Len(t, rs, 1)
}

func TestUpdateRestartsOnlyForScheduleChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.Create(ctx, collector.Draft{Location: "London", Interval: 60000})
	require.NoError(t, err)
	before, ok := f.svc.Status(cfg.ID)
	require.True(t, ok)

	name := "renamed"
	_, err = f.svc.Update(ctx, cfg.ID, collector.Patch{Name: &name})
	require.NoError(t, err)
	same, ok := f.svc.Status(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, before.StartedAt, same.StartedAt)

	time.Sleep(5 * time.Millisecond)
	interval := int64(5000)
	updated, err := f.svc.Update(ctx, cfg.ID, collector.Patch{Interval: &interval})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), updated.Interval)

	after, ok := f.svc.Status(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, int64(5000), after.Interval)
	assert.True(t, after.StartedAt.After(before.StartedAt))
	assert.Len(t, f.svc.List(), 1)
}

func TestConcurrentUpdatesRunLastPersistedConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.Create(ctx, collector.Draft{Location: "London", Interval: 60000})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(interval int64) {
			defer wg.Done()
			_, err := f.svc.Update(ctx, cfg.ID, collector.Patch{Interval: &interval})
			assert.NoError(t, err)
		}(int64(i) * 1000)
	}
	wg.Wait()

	stored, err := f.svc.Get(ctx, cfg.ID)
	require.NoError(t, err)
	snap, ok := f.svc.Status(cfg.ID)
	require.True(t, ok)
	assert.Equal(t, stored.Interval, snap.Interval)
	assert.Len(t, f.svc.List(), 1)
}

func TestUpdateRejectsInvalidPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.Create(ctx, collector.Draft{Location: "London", Interval: 60000})
	require.NoError(t, err)

	tooFast := int64(10)
	_, err = f.svc.Update(ctx, cfg.ID, collector.Patch{Interval: &tooFast})
	var ve *collector.ValidationError
	require.ErrorAs(t, err, &ve)

	stored, err := f.svc.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), stored.Interval)
}

func TestUpdateDeactivateStopsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.Create(ctx, collector.Draft{Location: "London", Interval: 60000})
	require.NoError(t, err)

	inactive := false
	_, err = f.svc.Update(ctx, cfg.ID, collector.Patch{Active: &inactive})
	require.NoError(t, err)
	_, ok := f.svc.Status(cfg.ID)
	assert.False(t, ok)
}

func TestUpdateUnknown(t *testing.T) {
	f := newFixture(t)
	name := "x"
	_, err := f.svc.Update(context.Background(), "missing", collector.Patch{Name: &name})
	assert.ErrorIs(t, err, collector.ErrNotFound)
}

func TestDeleteThenStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.Create(ctx, collector.Draft{Location: "London", Interval: 60000})
	require.NoError(t, err)

	ok, err := f.svc.Delete(ctx, cfg.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, running := f.svc.Status(cfg.ID)
	assert.False(t, running)
	_, err = f.svc.Get(ctx, cfg.ID)
	assert.ErrorIs(t, err, collector.ErrNotFound)

	ok, err = f.svc.Delete(ctx, cfg.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStopPersistsInactiveAndStartReactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.Create(ctx, collector.Draft{Location: "London", Interval: 60000})
	require.NoError(t, err)

	require.NoError(t, f.svc.Stop(ctx, cfg.ID))
	stored, err := f.svc.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	assert.ErrorIs(t, f.svc.Stop(ctx, cfg.ID), collector.ErrNotRunning)

	snap, err := f.svc.Start(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, collector.StatusRunning, snap.Status)
	stored, err = f.svc.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestRestoreStartsActiveConfigs(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	for _, active := range []bool{true, true, false} {
		_, err := mem.CreateConfig(ctx, collector.Config{
			Location:     "London",
			LocationType: collector.LocationCity,
			Interval:     60000,
			Active:       active,
		})
		require.NoError(t, err)
	}

	task := collector.NewTask(&stubSource{}, mem, nil, nil, nil)
	svc := collector.NewService(mem, collector.NewRegistry(task, time.Hour, nil, nil), time.Hour, nil)
	t.Cleanup(svc.Shutdown)

	n, err := svc.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, svc.List(), 2)

	configs, err := svc.Configs(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 3)
}

func TestRestoreReportsStoreFailure(t *testing.T) {
	backend := &failingBackend{MemoryStore: store.NewMemoryStore()}
	gw := store.NewGateway(backend, store.AuthBackoff, nil, nil)
	svc := collector.NewService(gw, collector.NewRegistry(collector.NewTask(&stubSource{}, gw, nil, nil, nil), time.Hour, nil, nil), time.Hour, nil)
	t.Cleanup(svc.Shutdown)

	_, err := svc.Restore(context.Background())
	var se *store.StoreError
	require.ErrorAs(t, err, &se)
}

type failingBackend struct {
	*store.MemoryStore
}

func (failingBackend) Authenticate(context.Context) error { return errors.New("connection refused") }
