package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-collector/internal/collector"
	"github.com/i474232898/weather-collector/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory Backend.
type MemoryStore struct {
	mu sync.RWMutex

	configs  map[string]collector.Config
	readings map[string]weather.Reading

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:  make(map[string]collector.Config),
		readings: make(map[string]weather.Reading),
		now:      time.Now,
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Authenticate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) ListConfigs(_ context.Context) ([]collector.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]collector.Config, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

func (s *MemoryStore) GetConfig(_ context.Context, id string) (collector.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[id]
	if !ok {
		return collector.Config{}, ErrNotFound
	}
	return cfg, nil
}

func (s *MemoryStore) CreateConfig(_ context.Context, cfg collector.Config) (collector.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg.ID = uuid.NewString()
	if cfg.Created.IsZero() {
		cfg.Created = s.now().UTC()
	}
	cfg.Updated = cfg.Created
	s.configs[cfg.ID] = cfg
	return cfg, nil
}

func (s *MemoryStore) UpdateConfig(_ context.Context, id string, patch collector.Patch) (collector.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[id]
	if !ok {
		return collector.Config{}, ErrNotFound
	}
	cfg = patch.Apply(cfg)
	cfg.Updated = s.now().UTC()
	s.configs[id] = cfg
	return cfg, nil
}

func (s *MemoryStore) DeleteConfig(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[id]; !ok {
		return false, nil
	}
	delete(s.configs, id)
	return true, nil
}

// ReadingByCollector returns the newest reading stamped with collectorID.
func (s *MemoryStore) ReadingByCollector(_ context.Context, collectorID string) (weather.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found  weather.Reading
		exists bool
	)
	for _, r := range s.readings {
		if r.CollectorID != collectorID {
			continue
		}
		if !exists || r.Timestamp.After(found.Timestamp) {
			found, exists = r, true
		}
	}
	if !exists {
		return weather.Reading{}, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) CreateReading(_ context.Context, r weather.Reading) (weather.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uuid.NewString()
	s.readings[r.ID] = r
	return r, nil
}

func (s *MemoryStore) UpdateReading(_ context.Context, id string, r weather.Reading) (weather.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.readings[id]; !ok {
		return weather.Reading{}, ErrNotFound
	}
	r.ID = id
	s.readings[id] = r
	return r, nil
}

// QueryReadings returns matching readings, newest first.
func (s *MemoryStore) QueryReadings(_ context.Context, filter weather.ReadingFilter) ([]weather.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.Reading
	for _, r := range s.readings {
		if filter.Matches(r) {
			result = append(result, r)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if limit := filter.EffectiveLimit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
