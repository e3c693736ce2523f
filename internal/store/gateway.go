package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/weather-collector/internal/collector"
	"github.com/i474232898/weather-collector/internal/metrics"
	"github.com/i474232898/weather-collector/internal/resilience"
	"github.com/i474232898/weather-collector/internal/weather"
)

// Backend is a concrete store. Authenticate establishes or verifies the
// session and is called lazily by the Gateway before the first operation and
// again after a failure or an ErrUnauthorized answer.
type Backend interface {
	collector.Store
	Name() string
	Authenticate(ctx context.Context) error
	Close() error
}

// SessionState is the Gateway's view of the backend session.
type SessionState int

const (
	Unauthenticated SessionState = iota
	Authenticated
	RetryPending
)

func (s SessionState) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case RetryPending:
		return "retry_pending"
	default:
		return "unauthenticated"
	}
}

// AuthBackoff is the default re-authentication schedule: 5s doubling up to 2m.
var AuthBackoff = resilience.BackoffConfig{
	InitialInterval: 5 * time.Second,
	MaxInterval:     2 * time.Minute,
}

// Gateway implements collector.Store over a Backend, authenticating lazily.
// After a failed attempt no further attempt is made until the backoff delay
// has elapsed; operations in that window fail fast with ErrUnavailable.
type Gateway struct {
	backend Backend
	backoff resilience.BackoffConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	auth singleflight.Group

	mu       sync.Mutex
	state    SessionState
	failures int
	retryAt  time.Time
}

// NewGateway wraps backend. logger and m may be nil.
func NewGateway(backend Backend, backoff resilience.BackoffConfig, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		backend: backend,
		backoff: backoff,
		logger:  logger.Named("store").With(zap.String("backend", backend.Name())),
		metrics: m,
		now:     time.Now,
	}
}

// State returns the current session state.
func (g *Gateway) State() SessionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Ping ensures the session is established.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.ensure(ctx)
}

func (g *Gateway) Close() error {
	return g.backend.Close()
}

// ensure returns nil once a session is established. Concurrent callers share
// one Authenticate call, made without holding mu.
func (g *Gateway) ensure(ctx context.Context) error {
	if done, err := g.check(); done {
		return err
	}
	_, err, _ := g.auth.Do("authenticate", func() (any, error) {
		if done, err := g.check(); done {
			return nil, err
		}
		return nil, g.authenticate(ctx)
	})
	return err
}

// check reports done when no authentication attempt should be made now,
// either because the session is up or because a retry is still pending.
func (g *Gateway) check() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case Authenticated:
		return true, nil
	case RetryPending:
		if wait := g.retryAt.Sub(g.now()); wait > 0 {
			return true, fmt.Errorf("%w: authentication retry in %s", ErrUnavailable, wait.Round(time.Millisecond))
		}
	}
	return false, nil
}

func (g *Gateway) authenticate(ctx context.Context) error {
	err := g.backend.Authenticate(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil {
		delay := g.backoff.Delay(g.failures)
		g.failures++
		g.state = RetryPending
		g.retryAt = g.now().Add(delay)
		g.metrics.StoreAuth(false)
		g.logger.Error("failed to authenticate with store",
			zap.Int("attempt", g.failures),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		return &StoreError{Op: "authenticate", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}

	g.state = Authenticated
	g.failures = 0
	g.metrics.StoreAuth(true)
	g.logger.Info("authenticated with store")
	return nil
}

func (g *Gateway) invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Authenticated {
		g.state = Unauthenticated
	}
}

// call runs fn with an established session. An ErrUnauthorized answer drops
// the session and fn is retried once after re-authenticating.
func call[T any](ctx context.Context, g *Gateway, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := g.ensure(ctx); err != nil {
		return zero, err
	}

	v, err := fn()
	if errors.Is(err, ErrUnauthorized) {
		g.logger.Warn("store session rejected, re-authenticating", zap.String("op", op))
		g.invalidate()
		if err := g.ensure(ctx); err != nil {
			return zero, err
		}
		v, err = fn()
	}

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return zero, err
		}
		return zero, &StoreError{Op: op, Err: err}
	}
	return v, nil
}

func (g *Gateway) ListConfigs(ctx context.Context) ([]collector.Config, error) {
	return call(ctx, g, "list configs", func() ([]collector.Config, error) {
		return g.backend.ListConfigs(ctx)
	})
}

func (g *Gateway) GetConfig(ctx context.Context, id string) (collector.Config, error) {
	return call(ctx, g, "get config", func() (collector.Config, error) {
		return g.backend.GetConfig(ctx, id)
	})
}

func (g *Gateway) CreateConfig(ctx context.Context, cfg collector.Config) (collector.Config, error) {
	return call(ctx, g, "create config", func() (collector.Config, error) {
		return g.backend.CreateConfig(ctx, cfg)
	})
}

func (g *Gateway) UpdateConfig(ctx context.Context, id string, patch collector.Patch) (collector.Config, error) {
	return call(ctx, g, "update config", func() (collector.Config, error) {
		return g.backend.UpdateConfig(ctx, id, patch)
	})
}

func (g *Gateway) DeleteConfig(ctx context.Context, id string) (bool, error) {
	return call(ctx, g, "delete config", func() (bool, error) {
		return g.backend.DeleteConfig(ctx, id)
	})
}

func (g *Gateway) ReadingByCollector(ctx context.Context, collectorID string) (weather.Reading, error) {
	return call(ctx, g, "find reading", func() (weather.Reading, error) {
		return g.backend.ReadingByCollector(ctx, collectorID)
	})
}

func (g *Gateway) CreateReading(ctx context.Context, r weather.Reading) (weather.Reading, error) {
	return call(ctx, g, "create reading", func() (weather.Reading, error) {
		return g.backend.CreateReading(ctx, r)
	})
}

func (g *Gateway) UpdateReading(ctx context.Context, id string, r weather.Reading) (weather.Reading, error) {
	return call(ctx, g, "update reading", func() (weather.Reading, error) {
		return g.backend.UpdateReading(ctx, id, r)
	})
}

func (g *Gateway) QueryReadings(ctx context.Context, filter weather.ReadingFilter) ([]weather.Reading, error) {
	return call(ctx, g, "query readings", func() ([]weather.Reading, error) {
		return g.backend.QueryReadings(ctx, filter)
	})
}
