package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-collector/internal/collector"
	"github.com/i474232898/weather-collector/internal/resilience"
	"github.com/i474232898/weather-collector/internal/weather"
)

const (
	configsCollection  = "collector_configs"
	readingsCollection = "weather_data"

	pbPageSize = 200
)

// PocketBase serializes dates as "2006-01-02 15:04:05.000Z".
const pbTimeLayout = "2006-01-02 15:04:05.000Z07:00"

// PocketBaseStore is a Backend on the PocketBase records REST API.
type PocketBaseStore struct {
	baseURL  string
	email    string
	password string

	http resilience.HTTPClientConfig
	cb   *gobreaker.CircuitBreaker

	mu    sync.RWMutex
	token string
}

func NewPocketBaseStore(client *http.Client, baseURL, email, password string) *PocketBaseStore {
	return &PocketBaseStore{
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    email,
		password: password,
		http: resilience.HTTPClientConfig{
			Client:  client,
			Backoff: resilience.DefaultBackoff,
		},
		cb: resilience.NewBreaker("pocketbase"),
	}
}

func (s *PocketBaseStore) Name() string { return "pocketbase" }

func (s *PocketBaseStore) Close() error { return nil }

// Authenticate exchanges the configured credentials for a session token.
func (s *PocketBaseStore) Authenticate(ctx context.Context) error {
	body := map[string]string{"identity": s.email, "password": s.password}

	var out struct {
		Token string `json:"token"`
	}
	if err := s.do(ctx, http.MethodPost, "/api/collections/users/auth-with-password", nil, body, &out, false); err != nil {
		return err
	}
	if out.Token == "" {
		return errors.New("pocketbase: empty auth token")
	}

	s.mu.Lock()
	s.token = out.Token
	s.mu.Unlock()
	return nil
}

func (s *PocketBaseStore) do(ctx context.Context, method, path string, query url.Values, in, out any, auth bool) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var token string
	if auth {
		s.mu.RLock()
		token = s.token
		s.mu.RUnlock()
	}

	resp, err := resilience.Do(ctx, s.http, s.cb, func() (*http.Request, error) {
		req, err := http.NewRequest(method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}
		return req, nil
	})
	if err != nil {
		var se *resilience.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return ErrNotFound
		}
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func recordsPath(collection string) string {
	return "/api/collections/" + collection + "/records"
}

func recordPath(collection, id string) string {
	return recordsPath(collection) + "/" + url.PathEscape(id)
}

type pbList[T any] struct {
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
	Items      []T `json:"items"`
}

type pbConfig struct {
	ID             string                 `json:"id,omitempty"`
	Name           string                 `json:"name"`
	Location       string                 `json:"location"`
	LocationType   string                 `json:"locationType"`
	Coordinates    *collector.Coordinates `json:"coordinates"`
	Attributes     []string               `json:"attributes"`
	Interval       int64                  `json:"interval"`
	CronExpression string                 `json:"cronExpression"`
	Timezone       string                 `json:"timezone"`
	Active         bool                   `json:"active"`
	Created        string                 `json:"created,omitempty"`
	Updated        string                 `json:"updated,omitempty"`
}

func newPBConfig(cfg collector.Config) pbConfig {
	return pbConfig{
		Name:           cfg.Name,
		Location:       cfg.Location,
		LocationType:   string(cfg.LocationType),
		Coordinates:    cfg.Coordinates,
		Attributes:     cfg.Attributes,
		Interval:       cfg.Interval,
		CronExpression: cfg.CronExpression,
		Timezone:       cfg.Timezone,
		Active:         cfg.Active,
	}
}

func (r pbConfig) config() collector.Config {
	cfg := collector.Config{
		ID:             r.ID,
		Name:           r.Name,
		Location:       r.Location,
		LocationType:   collector.LocationType(r.LocationType),
		Coordinates:    r.Coordinates,
		Attributes:     r.Attributes,
		Interval:       r.Interval,
		CronExpression: r.CronExpression,
		Timezone:       r.Timezone,
		Active:         r.Active,
		Created:        parsePBTime(r.Created),
		Updated:        parsePBTime(r.Updated),
	}
	if len(cfg.Attributes) == 0 {
		cfg.Attributes = nil
	}
	return cfg
}

type pbReading struct {
	ID            string               `json:"id,omitempty"`
	CollectorID   string               `json:"collector_id"`
	Location      string               `json:"location"`
	Timestamp     string               `json:"timestamp"`
	Coordinates   *weather.Coordinates `json:"coordinates"`
	Temperature   *float64             `json:"temperature"`
	Humidity      *float64             `json:"humidity"`
	Pressure      *float64             `json:"pressure"`
	WindSpeed     *float64             `json:"wind_speed"`
	WindDirection *float64             `json:"wind_direction"`
	Condition     string               `json:"weather_condition"`
	Description   string               `json:"weather_description"`
	Icon          string               `json:"icon"`
}

func newPBReading(r weather.Reading) pbReading {
	return pbReading{
		CollectorID:   r.CollectorID,
		Location:      r.Location,
		Timestamp:     formatPBTime(r.Timestamp),
		Coordinates:   r.Coordinates,
		Temperature:   r.Temperature,
		Humidity:      r.Humidity,
		Pressure:      r.Pressure,
		WindSpeed:     r.WindSpeed,
		WindDirection: r.WindDirection,
		Condition:     r.Condition,
		Description:   r.Description,
		Icon:          r.Icon,
	}
}

func (p pbReading) reading() weather.Reading {
	return weather.Reading{
		ID:            p.ID,
		CollectorID:   p.CollectorID,
		Location:      p.Location,
		Timestamp:     parsePBTime(p.Timestamp),
		Coordinates:   p.Coordinates,
		Temperature:   p.Temperature,
		Humidity:      p.Humidity,
		Pressure:      p.Pressure,
		WindSpeed:     p.WindSpeed,
		WindDirection: p.WindDirection,
		Condition:     p.Condition,
		Description:   p.Description,
		Icon:          p.Icon,
	}
}

func formatPBTime(t time.Time) string {
	return t.UTC().Format(pbTimeLayout)
}

func parsePBTime(s string) time.Time {
	for _, layout := range []string{pbTimeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// quote renders v as a PocketBase filter string literal.
func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

func (s *PocketBaseStore) ListConfigs(ctx context.Context) ([]collector.Config, error) {
	var out []collector.Config
	for page := 1; ; page++ {
		q := url.Values{
			"page":    {strconv.Itoa(page)},
			"perPage": {strconv.Itoa(pbPageSize)},
			"sort":    {"created"},
		}
		var list pbList[pbConfig]
		if err := s.do(ctx, http.MethodGet, recordsPath(configsCollection), q, nil, &list, true); err != nil {
			return nil, err
		}
		for _, r := range list.Items {
			out = append(out, r.config())
		}
		if page >= list.TotalPages || len(list.Items) == 0 {
			return out, nil
		}
	}
}

func (s *PocketBaseStore) GetConfig(ctx context.Context, id string) (collector.Config, error) {
	var rec pbConfig
	if err := s.do(ctx, http.MethodGet, recordPath(configsCollection, id), nil, nil, &rec, true); err != nil {
		return collector.Config{}, err
	}
	return rec.config(), nil
}

func (s *PocketBaseStore) CreateConfig(ctx context.Context, cfg collector.Config) (collector.Config, error) {
	var rec pbConfig
	if err := s.do(ctx, http.MethodPost, recordsPath(configsCollection), nil, newPBConfig(cfg), &rec, true); err != nil {
		return collector.Config{}, err
	}
	return rec.config(), nil
}

func (s *PocketBaseStore) UpdateConfig(ctx context.Context, id string, patch collector.Patch) (collector.Config, error) {
	var rec pbConfig
	if err := s.do(ctx, http.MethodPatch, recordPath(configsCollection, id), nil, patch, &rec, true); err != nil {
		return collector.Config{}, err
	}
	return rec.config(), nil
}

func (s *PocketBaseStore) DeleteConfig(ctx context.Context, id string) (bool, error) {
	err := s.do(ctx, http.MethodDelete, recordPath(configsCollection, id), nil, nil, nil, true)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PocketBaseStore) ReadingByCollector(ctx context.Context, collectorID string) (weather.Reading, error) {
	readings, err := s.QueryReadings(ctx, weather.ReadingFilter{CollectorID: collectorID, Limit: 1})
	if err != nil {
		return weather.Reading{}, err
	}
	if len(readings) == 0 {
		return weather.Reading{}, ErrNotFound
	}
	return readings[0], nil
}

func (s *PocketBaseStore) CreateReading(ctx context.Context, r weather.Reading) (weather.Reading, error) {
	var rec pbReading
	if err := s.do(ctx, http.MethodPost, recordsPath(readingsCollection), nil, newPBReading(r), &rec, true); err != nil {
		return weather.Reading{}, err
	}
	return rec.reading(), nil
}

func (s *PocketBaseStore) UpdateReading(ctx context.Context, id string, r weather.Reading) (weather.Reading, error) {
	var rec pbReading
	if err := s.do(ctx, http.MethodPatch, recordPath(readingsCollection, id), nil, newPBReading(r), &rec, true); err != nil {
		return weather.Reading{}, err
	}
	return rec.reading(), nil
}

func (s *PocketBaseStore) QueryReadings(ctx context.Context, filter weather.ReadingFilter) ([]weather.Reading, error) {
	var clauses []string
	if filter.Location != "" {
		clauses = append(clauses, "location = "+quote(filter.Location))
	}
	if filter.CollectorID != "" {
		clauses = append(clauses, "collector_id = "+quote(filter.CollectorID))
	}
	if filter.From != nil {
		clauses = append(clauses, "timestamp >= "+quote(formatPBTime(*filter.From)))
	}
	if filter.To != nil {
		clauses = append(clauses, "timestamp <= "+quote(formatPBTime(*filter.To)))
	}

	q := url.Values{
		"page":    {"1"},
		"perPage": {strconv.Itoa(filter.EffectiveLimit())},
		"sort":    {"-timestamp"},
	}
	if len(clauses) > 0 {
		q.Set("filter", strings.Join(clauses, " && "))
	}

	var list pbList[pbReading]
	if err := s.do(ctx, http.MethodGet, recordsPath(readingsCollection), q, nil, &list, true); err != nil {
		return nil, err
	}

	out := make([]weather.Reading, 0, len(list.Items))
	for _, r := range list.Items {
		out = append(out, r.reading())
	}
	return out, nil
}
