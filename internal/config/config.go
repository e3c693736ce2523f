package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendPostgres   = "postgres"
	BackendPocketBase = "pocketbase"
)

// Provider names accepted in WEATHER_PROVIDERS.
const (
	ProviderOpenWeather = "openweathermap"
	ProviderWeatherAPI  = "weatherapi"
	ProviderOpenMeteo   = "openmeteo"
)

type AppConfig struct {
	Port        string
	HTTPTimeout time.Duration

	LogLevel  string
	LogFormat string
	LogDir    string

	// DefaultInterval is used for collectors created without a schedule.
	DefaultInterval time.Duration

	// Providers in fallback order.
	Providers         []string
	OpenWeatherAPIKey string
	OpenWeatherURL    string
	WeatherAPIKey     string
	WeatherAPIURL     string
	OpenMeteoURL      string
	GeocoderAPIKey    string

	StoreBackend       string
	SQLitePath         string
	DatabaseURL        string
	PocketBaseURL      string
	PocketBaseEmail    string
	PocketBasePassword string

	// Provider response cache; disabled when RedisAddr is empty.
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ProviderCacheTTL time.Duration

	// Sinks; each is disabled when its address is empty.
	KafkaBrokers    []string
	KafkaTopic      string
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string
	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "3000")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")
	cfg.LogDir = os.Getenv("LOG_DIR")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// Milliseconds, like collector intervals. Default one hour.
	intervalMs := getenvInt("DEFAULT_INTERVAL", 3600000)
	if intervalMs < 1000 {
		return nil, fmt.Errorf("invalid DEFAULT_INTERVAL: must be at least 1000ms, got %d", intervalMs)
	}
	cfg.DefaultInterval = time.Duration(intervalMs) * time.Millisecond

	cfg.Providers = getenvList("WEATHER_PROVIDERS", []string{ProviderOpenWeather})
	for _, p := range cfg.Providers {
		switch p {
		case ProviderOpenWeather, ProviderWeatherAPI, ProviderOpenMeteo:
		default:
			return nil, fmt.Errorf("invalid WEATHER_PROVIDERS: unknown provider %q", p)
		}
	}
	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.OpenWeatherURL = os.Getenv("OPENWEATHER_BASE_URL")
	cfg.WeatherAPIKey = os.Getenv("WEATHERAPI_API_KEY")
	cfg.WeatherAPIURL = os.Getenv("WEATHERAPI_BASE_URL")
	cfg.OpenMeteoURL = os.Getenv("OPENMETEO_BASE_URL")
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")

	cfg.StoreBackend = getenvDefault("STORE_BACKEND", BackendMemory)
	cfg.SQLitePath = getenvDefault("SQLITE_PATH", "data/weather.db")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.PocketBaseURL = getenvDefault("POCKETBASE_URL", "http://127.0.0.1:8090")
	cfg.PocketBaseEmail = os.Getenv("POCKETBASE_EMAIL")
	cfg.PocketBasePassword = os.Getenv("POCKETBASE_PASSWORD")

	switch cfg.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case BackendPocketBase:
		if cfg.PocketBaseEmail == "" || cfg.PocketBasePassword == "" {
			return nil, fmt.Errorf("POCKETBASE_EMAIL and POCKETBASE_PASSWORD are required for the pocketbase store")
		}
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND: %q", cfg.StoreBackend)
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getenvInt("REDIS_DB", 0)
	if cfg.ProviderCacheTTL, err = getenvDuration("PROVIDER_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.KafkaBrokers = getenvList("KAFKA_BROKERS", nil)
	cfg.KafkaTopic = getenvDefault("KAFKA_TOPIC", "weather-readings")
	cfg.MQTTBroker = os.Getenv("MQTT_BROKER")
	cfg.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", "weather-collector")
	cfg.MQTTTopicPrefix = getenvDefault("MQTT_TOPIC_PREFIX", "weather")
	cfg.InfluxURL = os.Getenv("INFLUX_URL")
	cfg.InfluxToken = os.Getenv("INFLUX_TOKEN")
	cfg.InfluxOrg = os.Getenv("INFLUX_ORG")
	cfg.InfluxBucket = getenvDefault("INFLUX_BUCKET", "weather")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getenvList splits a comma-separated value, dropping blanks.
func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
