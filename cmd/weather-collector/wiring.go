package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/i474232898/weather-collector/internal/collector"
	"github.com/i474232898/weather-collector/internal/config"
	"github.com/i474232898/weather-collector/internal/sink"
	"github.com/i474232898/weather-collector/internal/store"
	"github.com/i474232898/weather-collector/internal/weather"
	"github.com/i474232898/weather-collector/internal/weather/providers"
)

// buildProviders returns the configured providers in fallback order, each
// wrapped in the Redis response cache when REDIS_ADDR is set.
func buildProviders(ctx context.Context, cfg *config.AppConfig, client *http.Client, logger *zap.Logger) ([]weather.Provider, []io.Closer, error) {
	var (
		provs   []weather.Provider
		closers []io.Closer
	)
	for _, name := range cfg.Providers {
		switch name {
		case config.ProviderOpenWeather:
			provs = append(provs, providers.NewOpenWeatherProvider(client, cfg.OpenWeatherAPIKey, cfg.OpenWeatherURL))
		case config.ProviderWeatherAPI:
			provs = append(provs, providers.NewWeatherAPIProvider(client, cfg.WeatherAPIKey, cfg.WeatherAPIURL))
		case config.ProviderOpenMeteo:
			var geocode providers.GeocodeFunc
			if cfg.GeocoderAPIKey != "" {
				geocode = providers.GoogleGeocoder(cfg.GeocoderAPIKey)
			}
			provs = append(provs, providers.NewOpenMeteoProvider(client, cfg.OpenMeteoURL, geocode))
		}
	}

	if cfg.RedisAddr == "" {
		return provs, nil, nil
	}

	cache, err := providers.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	closers = append(closers, cache)
	for i, p := range provs {
		provs[i] = providers.NewCachedProvider(p, cache, cfg.ProviderCacheTTL, logger)
	}
	return provs, closers, nil
}

func buildBackend(cfg *config.AppConfig, client *http.Client) (store.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		return store.OpenSQLite(cfg.SQLitePath)
	case config.BackendPostgres:
		return store.OpenPostgres(cfg.DatabaseURL)
	case config.BackendPocketBase:
		return store.NewPocketBaseStore(client, cfg.PocketBaseURL, cfg.PocketBaseEmail, cfg.PocketBasePassword), nil
	default:
		return store.NewMemoryStore(), nil
	}
}

// buildSinks connects every configured sink. A sink that cannot connect is
// logged and skipped.
func buildSinks(cfg *config.AppConfig, logger *zap.Logger) ([]collector.Sink, []io.Closer) {
	var (
		sinks   []collector.Sink
		closers []io.Closer
	)

	if len(cfg.KafkaBrokers) > 0 {
		k := sink.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, k)
		closers = append(closers, k)
	}

	if cfg.MQTTBroker != "" {
		m, err := sink.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix)
		if err != nil {
			logger.Error("failed to connect mqtt sink", zap.String("broker", cfg.MQTTBroker), zap.Error(err))
		} else {
			sinks = append(sinks, m)
			closers = append(closers, m)
		}
	}

	if cfg.InfluxURL != "" {
		i, err := sink.ConnectInflux(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		if err != nil {
			logger.Error("failed to connect influxdb sink", zap.String("url", cfg.InfluxURL), zap.Error(err))
		} else {
			sinks = append(sinks, i)
			closers = append(closers, i)
		}
	}

	for _, s := range sinks {
		logger.Info("publishing readings", zap.String("sink", s.Name()))
	}
	return sinks, closers
}

func closeAll(closers []io.Closer, logger *zap.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Warn("error during close", zap.Error(err))
		}
	}
}
