package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/weather-collector/internal/metrics"
	"github.com/i474232898/weather-collector/internal/weather"
)

// Task is the unit of work run on every tick: fetch, filter, stamp, upsert,
// publish. It implements Runner.
type Task struct {
	source  WeatherSource
	store   ReadingStore
	sinks   []Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTask returns a Task that fetches from source and persists to store.
// sinks, logger and m may be nil.
func NewTask(source WeatherSource, store ReadingStore, sinks []Sink, logger *zap.Logger, m *metrics.Metrics) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Task{
		source:  source,
		store:   store,
		sinks:   sinks,
		logger:  logger.Named("task"),
		metrics: m,
		now:     time.Now,
	}
}

// Run executes one tick for cfg. Errors are logged and counted, never returned.
func (t *Task) Run(ctx context.Context, cfg Config) {
	start := t.now()
	reading, result, err := t.collect(ctx, cfg)
	t.metrics.ObserveTick(result, t.now().Sub(start))

	if err != nil {
		t.logger.Error("error collecting weather data",
			zap.String("collector_id", cfg.ID),
			zap.String("location", cfg.Location),
			zap.String("result", result),
			zap.Error(err))
		return
	}

	t.logger.Info("collected weather data",
		zap.String("collector_id", cfg.ID),
		zap.String("location", reading.Location),
		zap.String("reading_id", reading.ID))
}

// Collect runs one tick and returns the persisted reading or the first error.
func (t *Task) Collect(ctx context.Context, cfg Config) (weather.Reading, error) {
	reading, _, err := t.collect(ctx, cfg)
	return reading, err
}

func (t *Task) collect(ctx context.Context, cfg Config) (weather.Reading, string, error) {
	reading, err := t.fetch(ctx, cfg)
	if err != nil {
		return weather.Reading{}, metrics.ResultProviderError, fmt.Errorf("fetch weather: %w", err)
	}

	reading = weather.Project(reading, cfg.Attributes)
	reading.CollectorID = cfg.ID
	if err := reading.Validate(); err != nil {
		return weather.Reading{}, metrics.ResultInvalid, fmt.Errorf("filter attributes: %w", err)
	}

	saved, err := t.upsert(ctx, reading)
	if err != nil {
		return weather.Reading{}, metrics.ResultStoreError, fmt.Errorf("store reading: %w", err)
	}

	t.publish(ctx, saved)
	return saved, metrics.ResultOK, nil
}

func (t *Task) fetch(ctx context.Context, cfg Config) (weather.Reading, error) {
	loc := cfg.lookup()
	if loc.HasCoordinates() {
		return t.source.FetchByCoordinates(ctx, *loc.Lat, *loc.Lon)
	}
	return t.source.FetchByCity(ctx, loc.City)
}

// upsert updates the collector's existing reading in place, or creates one.
func (t *Task) upsert(ctx context.Context, r weather.Reading) (weather.Reading, error) {
	existing, err := t.store.ReadingByCollector(ctx, r.CollectorID)
	switch {
	case err == nil:
		r.ID = existing.ID
		return t.store.UpdateReading(ctx, existing.ID, r)
	case errors.Is(err, ErrNotFound):
		r.ID = ""
		return t.store.CreateReading(ctx, r)
	default:
		return weather.Reading{}, err
	}
}

func (t *Task) publish(ctx context.Context, r weather.Reading) {
	for _, s := range t.sinks {
		if err := s.Publish(ctx, r); err != nil {
			t.metrics.SinkError(s.Name())
			t.logger.Warn("failed to publish reading",
				zap.String("sink", s.Name()),
				zap.String("collector_id", r.CollectorID),
				zap.Error(err))
		}
	}
}
