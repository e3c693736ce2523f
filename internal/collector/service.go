package collector

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service is the lifecycle facade. It keeps durable configs in the store
// and the set of running jobs in the registry consistent with each other.
type Service struct {
	store           ConfigStore
	registry        *Registry
	defaultInterval time.Duration
	logger          *zap.Logger
	now             func() time.Time

	// Update, Start, Stop and Delete for one id run one at a time, so the
	// running job always reflects the last persisted config.
	locks [64]sync.Mutex
}

// NewService returns a Service over store and registry. defaultInterval
// applies to configs created or patched without any schedule.
func NewService(store ConfigStore, registry *Registry, defaultInterval time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:           store,
		registry:        registry,
		defaultInterval: defaultInterval,
		logger:          logger.Named("collectors"),
		now:             time.Now,
	}
}

func (s *Service) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%uint32(len(s.locks))]
	mu.Lock()
	return mu.Unlock
}

// Create validates d, applies defaults, persists it and starts it when active.
func (s *Service) Create(ctx context.Context, d Draft) (Config, error) {
	cfg := d.config(s.now().UTC(), s.defaultInterval)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	saved, err := s.store.CreateConfig(ctx, cfg)
	if err != nil {
		return Config{}, fmt.Errorf("create collector: %w", err)
	}

	if saved.Active {
		if _, err := s.registry.Start(saved); err != nil {
			return saved, err
		}
	}

	s.logger.Info("created collector",
		zap.String("collector_id", saved.ID),
		zap.String("location", saved.Location))
	return saved, nil
}

// Update persists p first, then restarts the job if p touches the schedule.
// Patches that change nothing schedule-related leave a running job alone.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Config, error) {
	defer s.lock(id)()

	current, err := s.store.GetConfig(ctx, id)
	if err != nil {
		return Config{}, fmt.Errorf("get collector %s: %w", id, err)
	}

	merged := p.Apply(current)
	if merged.Interval == 0 && merged.CronExpression == "" {
		interval := s.defaultInterval.Milliseconds()
		p.Interval = &interval
		merged.Interval = interval
	}
	if err := Validate(merged); err != nil {
		return Config{}, err
	}

	updated, err := s.store.UpdateConfig(ctx, id, p)
	if err != nil {
		return Config{}, fmt.Errorf("update collector %s: %w", id, err)
	}

	if p.TouchesSchedule() {
		s.registry.Stop(id)
		if updated.Active {
			if _, err := s.registry.Start(updated); err != nil {
				return updated, err
			}
		}
	}

	s.logger.Info("updated collector",
		zap.String("collector_id", id),
		zap.Bool("rescheduled", p.TouchesSchedule()))
	return updated, nil
}

// Delete stops the job if running and removes the persisted config. It
// reports false when the config did not exist.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	defer s.lock(id)()

	s.registry.Stop(id)

	ok, err := s.store.DeleteConfig(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete collector %s: %w", id, err)
	}
	if ok {
		s.logger.Info("deleted collector", zap.String("collector_id", id))
	}
	return ok, nil
}

// Status reports whether id is actively scheduled. It does not consult the
// persisted active flag.
func (s *Service) Status(id string) (JobSnapshot, bool) {
	return s.registry.Status(id)
}

// List returns all running collectors.
func (s *Service) List() []JobSnapshot {
	return s.registry.List()
}

// Get returns the persisted config for id.
func (s *Service) Get(ctx context.Context, id string) (Config, error) {
	return s.store.GetConfig(ctx, id)
}

// Configs returns every persisted config, running or not.
func (s *Service) Configs(ctx context.Context) ([]Config, error) {
	return s.store.ListConfigs(ctx)
}

// Start marks id active if needed and (re)starts its job.
func (s *Service) Start(ctx context.Context, id string) (JobSnapshot, error) {
	defer s.lock(id)()

	cfg, err := s.store.GetConfig(ctx, id)
	if err != nil {
		return JobSnapshot{}, fmt.Errorf("get collector %s: %w", id, err)
	}

	if !cfg.Active {
		active := true
		cfg, err = s.store.UpdateConfig(ctx, id, Patch{Active: &active})
		if err != nil {
			return JobSnapshot{}, fmt.Errorf("activate collector %s: %w", id, err)
		}
	}

	return s.registry.Start(cfg)
}

// Stop unschedules id and persists active=false. It returns ErrNotRunning
// when id has no running job.
func (s *Service) Stop(ctx context.Context, id string) error {
	defer s.lock(id)()

	if !s.registry.Stop(id) {
		return fmt.Errorf("stop collector %s: %w", id, ErrNotRunning)
	}

	inactive := false
	if _, err := s.store.UpdateConfig(ctx, id, Patch{Active: &inactive}); err != nil {
		return fmt.Errorf("deactivate collector %s: %w", id, err)
	}
	return nil
}

// Restore starts every persisted active config. Configs that fail to start
// are logged and skipped; the number started is returned.
func (s *Service) Restore(ctx context.Context) (int, error) {
	configs, err := s.store.ListConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load collectors: %w", err)
	}

	started := 0
	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		if _, err := s.registry.Start(cfg); err != nil {
			s.logger.Error("failed to restore collector",
				zap.String("collector_id", cfg.ID),
				zap.Error(err))
			continue
		}
		started++
	}

	s.logger.Info("loaded collector configurations",
		zap.Int("total", len(configs)),
		zap.Int("started", started))
	return started, nil
}

// Shutdown stops all running jobs.
func (s *Service) Shutdown() {
	s.registry.Shutdown()
}
