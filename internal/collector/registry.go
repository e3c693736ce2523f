package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/weather-collector/internal/metrics"
)

// StatusRunning is the only status a registered job reports.
const StatusRunning = "running"

// Runner executes one collection tick for a config. It must not panic or
// block forever on purpose; failures are its own to log.
type Runner interface {
	Run(ctx context.Context, cfg Config)
}

// JobSnapshot is the externally visible view of a running collector.
type JobSnapshot struct {
	ID             string       `json:"id"`
	Name           string       `json:"name,omitempty"`
	Location       string       `json:"location"`
	LocationType   LocationType `json:"locationType"`
	Attributes     []string     `json:"attributes"`
	Interval       int64        `json:"interval,omitempty"`
	CronExpression string       `json:"cronExpression,omitempty"`
	Timezone       string       `json:"timezone,omitempty"`
	Active         bool         `json:"active"`
	Status         string       `json:"status"`
	Schedule       string       `json:"schedule"`
	StartedAt      time.Time    `json:"started"`
	NextRun        *time.Time   `json:"nextRun,omitempty"`
}

type runningJob struct {
	config    Config
	schedule  Schedule
	job       *gocron.Job
	startedAt time.Time

	// inflight is held for the duration of a tick. The immediate first tick
	// runs outside gocron's singleton guard, so ticks of one job queue here.
	inflight sync.Mutex
}

// Registry owns the table of running collectors. Every collector is an
// independent job on one shared gocron scheduler. All table and scheduler
// mutations happen under mu, so an id never has two live jobs.
type Registry struct {
	mu        sync.Mutex
	scheduler *gocron.Scheduler
	jobs      map[string]*runningJob

	runner          Runner
	defaultInterval time.Duration
	logger          *zap.Logger
	metrics         *metrics.Metrics
	now             func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates a Registry and starts its scheduler.
func NewRegistry(runner Runner, defaultInterval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.StartAsync()

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		scheduler:       s,
		jobs:            make(map[string]*runningJob),
		runner:          runner,
		defaultInterval: defaultInterval,
		logger:          logger.Named("registry"),
		metrics:         m,
		now:             time.Now,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start schedules cfg, replacing any job already registered under cfg.ID, and
// runs the task once right away in the background.
func (r *Registry) Start(cfg Config) (JobSnapshot, error) {
	rj := &runningJob{
		config:   cfg,
		schedule: ScheduleFor(cfg, r.defaultInterval),
	}
	tick := r.tick(rj)

	r.mu.Lock()
	if old, ok := r.jobs[cfg.ID]; ok {
		r.removeLocked(cfg.ID, old)
	}

	job, err := rj.schedule.install(r.scheduler, tick)
	if err != nil {
		r.metrics.SetRunning(len(r.jobs))
		r.mu.Unlock()
		r.logger.Error("failed to schedule collector",
			zap.String("collector_id", cfg.ID),
			zap.String("schedule", rj.schedule.String()),
			zap.Error(err))
		return JobSnapshot{}, fmt.Errorf("schedule collector %s: %w", cfg.ID, err)
	}

	rj.job = job
	rj.startedAt = r.now().UTC()
	r.jobs[cfg.ID] = rj
	r.metrics.SetRunning(len(r.jobs))
	snap := r.snapshotLocked(rj)
	r.mu.Unlock()

	go tick()

	r.logger.Info("started collector",
		zap.String("collector_id", cfg.ID),
		zap.String("location", cfg.Location),
		zap.String("schedule", rj.schedule.String()))
	return snap, nil
}

// Stop cancels the job for id and removes it. It reports false for unknown
// ids. A tick already running is left to finish on its own.
func (r *Registry) Stop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rj, ok := r.jobs[id]
	if !ok {
		r.logger.Debug("no running collector", zap.String("collector_id", id))
		return false
	}
	r.removeLocked(id, rj)
	r.metrics.SetRunning(len(r.jobs))

	r.logger.Info("stopped collector",
		zap.String("collector_id", id),
		zap.String("location", rj.config.Location))
	return true
}

// Status returns the snapshot for id, if it is running.
func (r *Registry) Status(id string) (JobSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rj, ok := r.jobs[id]
	if !ok {
		return JobSnapshot{}, false
	}
	return r.snapshotLocked(rj), true
}

// List returns snapshots of all running collectors ordered by id.
func (r *Registry) List() []JobSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobSnapshot, 0, len(r.jobs))
	for _, rj := range r.jobs {
		out = append(out, r.snapshotLocked(rj))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown stops every job and the scheduler, and cancels in-flight ticks.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for id, rj := range r.jobs {
		r.removeLocked(id, rj)
	}
	r.metrics.SetRunning(0)
	r.mu.Unlock()

	r.scheduler.Stop()
	r.cancel()
}

func (r *Registry) removeLocked(id string, rj *runningJob) {
	r.scheduler.RemoveByReference(rj.job)
	delete(r.jobs, id)
}

func (r *Registry) snapshotLocked(rj *runningJob) JobSnapshot {
	cfg := rj.config
	attrs := cfg.Attributes
	if attrs == nil {
		attrs = []string{}
	}

	snap := JobSnapshot{
		ID:             cfg.ID,
		Name:           cfg.Name,
		Location:       cfg.Location,
		LocationType:   cfg.LocationType,
		Attributes:     attrs,
		Interval:       cfg.Interval,
		CronExpression: cfg.CronExpression,
		Timezone:       cfg.Timezone,
		Active:         true,
		Status:         StatusRunning,
		Schedule:       rj.schedule.String(),
		StartedAt:      rj.startedAt,
	}
	if snap.Interval == 0 && snap.CronExpression == "" {
		snap.Interval = r.defaultInterval.Milliseconds()
	}
	if next := rj.job.NextRun(); !next.IsZero() {
		snap.NextRun = &next
	}
	return snap
}

// tick wraps the runner so a panicking task never reaches the scheduler and
// two ticks of the same job never overlap.
func (r *Registry) tick(rj *runningJob) func() {
	cfg := rj.config
	return func() {
		rj.inflight.Lock()
		defer rj.inflight.Unlock()
		defer func() {
			if p := recover(); p != nil {
				r.metrics.ObserveTick(metrics.ResultPanic, 0)
				r.logger.Error("collector tick panicked",
					zap.String("collector_id", cfg.ID),
					zap.Any("panic", p))
			}
		}()
		r.runner.Run(r.ctx, cfg)
	}
}
