package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// RestoreFunc starts persisted collectors and reports how many were started.
type RestoreFunc func(ctx context.Context) (int, error)

// Restorer runs the boot-time restore of persisted collectors. If the store
// is not reachable at boot the restore is retried every interval until it
// succeeds once.
type Restorer struct {
	scheduler *gocron.Scheduler
	restore   RestoreFunc
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	done bool
	job  *gocron.Job
}

// New creates a new Restorer.
func New(restore RestoreFunc, interval time.Duration, logger *zap.Logger) *Restorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Restorer{
		scheduler: gocron.NewScheduler(time.UTC),
		restore:   restore,
		interval:  interval,
		timeout:   30 * time.Second,
		logger:    logger.Named("restore"),
	}
}

// Start attempts the restore immediately and schedules retries on failure.
func (r *Restorer) Start() error {
	if r.attempt() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}

	job, err := r.scheduler.Every(r.interval).SingletonMode().WaitForSchedule().Do(func() {
		if r.attempt() {
			r.mu.Lock()
			if r.job != nil {
				r.scheduler.RemoveByReference(r.job)
				r.job = nil
			}
			r.mu.Unlock()
		}
	})
	if err != nil {
		return err
	}
	r.job = job

	r.scheduler.StartAsync()
	return nil
}

// Done reports whether a restore has succeeded.
func (r *Restorer) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Restorer) attempt() bool {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	n, err := r.restore(ctx)
	if err != nil {
		r.logger.Warn("failed to restore collectors, will retry",
			zap.Duration("retry_in", r.interval),
			zap.Error(err))
		return false
	}

	r.mu.Lock()
	r.done = true
	r.mu.Unlock()
	r.logger.Info("restored collectors", zap.Int("started", n))
	return true
}

// Stop stops the scheduler and cancels any pending retry.
func (r *Restorer) Stop() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}
