package weather

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Service resolves readings through an ordered list of providers. The first
// provider that answers wins; failures fall through to the next one.
type Service struct {
	providers []Provider
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new Service.
func NewService(providers []Provider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		providers: providers,
		logger:    logger.Named("weather"),
		now:       time.Now,
	}
}

// FetchByCity returns a normalized reading for a city name.
func (s *Service) FetchByCity(ctx context.Context, name string) (Reading, error) {
	return s.fetch(ctx, Location{City: name})
}

// FetchByCoordinates returns a normalized reading for a coordinate pair.
func (s *Service) FetchByCoordinates(ctx context.Context, lat, lon float64) (Reading, error) {
	return s.fetch(ctx, Location{Lat: &lat, Lon: &lon})
}

func (s *Service) fetch(ctx context.Context, loc Location) (Reading, error) {
	if len(s.providers) == 0 {
		return Reading{}, ErrNoProviders
	}

	var errs []error
	for _, p := range s.providers {
		raw, err := p.Fetch(ctx, loc)
		if err != nil {
			s.logger.Warn("provider fetch failed",
				zap.String("provider", p.Name()),
				zap.String("location", loc.Key()),
				zap.Error(err))
			errs = append(errs, &ProviderError{Provider: p.Name(), Err: err})
			if ctx.Err() != nil {
				break
			}
			continue
		}

		reading, err := Normalize(loc, raw, s.now())
		if err != nil {
			s.logger.Warn("provider returned unusable reading",
				zap.String("provider", p.Name()),
				zap.String("location", loc.Key()),
				zap.Error(err))
			errs = append(errs, &ProviderError{Provider: p.Name(), Err: err})
			continue
		}

		s.logger.Debug("fetched weather",
			zap.String("provider", p.Name()),
			zap.String("location", reading.Location))
		return reading, nil
	}

	return Reading{}, errors.Join(errs...)
}
