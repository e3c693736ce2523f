package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/i474232898/weather-collector/internal/collector"
	"github.com/i474232898/weather-collector/internal/weather"
)

// SQL dialects.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS collector_configs (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL,
	location_type   TEXT NOT NULL,
	lat             DOUBLE PRECISION,
	lon             DOUBLE PRECISION,
	attributes      TEXT NOT NULL DEFAULT '[]',
	interval_ms     BIGINT NOT NULL DEFAULT 0,
	cron_expression TEXT NOT NULL DEFAULT '',
	timezone        TEXT NOT NULL DEFAULT '',
	active          BOOLEAN NOT NULL,
	created         TIMESTAMP NOT NULL,
	updated         TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS weather_data (
	id                  TEXT PRIMARY KEY,
	collector_id        TEXT NOT NULL DEFAULT '',
	location            TEXT NOT NULL,
	observed_at         TIMESTAMP NOT NULL,
	lat                 DOUBLE PRECISION,
	lon                 DOUBLE PRECISION,
	temperature         DOUBLE PRECISION,
	humidity            DOUBLE PRECISION,
	pressure            DOUBLE PRECISION,
	wind_speed          DOUBLE PRECISION,
	wind_direction      DOUBLE PRECISION,
	weather_condition   TEXT NOT NULL DEFAULT '',
	weather_description TEXT NOT NULL DEFAULT '',
	icon                TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_weather_data_collector ON weather_data (collector_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_weather_data_location ON weather_data (location, observed_at);
`

const (
	configColumns  = `id, name, location, location_type, lat, lon, attributes, interval_ms, cron_expression, timezone, active, created, updated`
	readingColumns = `id, collector_id, location, observed_at, lat, lon, temperature, humidity, pressure, wind_speed, wind_direction, weather_condition, weather_description, icon`
)

// SQLStore is a Backend on SQLite or PostgreSQL. Queries are written with
// "?" placeholders and rebound for PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open(DialectSQLite, connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &SQLStore{db: db, dialect: DialectSQLite, now: time.Now}, nil
}

// OpenPostgres opens a PostgreSQL connection pool for dsn.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open(DialectPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &SQLStore{db: db, dialect: DialectPostgres, now: time.Now}, nil
}

func (s *SQLStore) Name() string { return s.dialect }

// Authenticate verifies connectivity and applies the schema.
func (s *SQLStore) Authenticate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts "?" placeholders to "$n" for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) ListConfigs(ctx context.Context) ([]collector.Config, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+configColumns+` FROM collector_configs ORDER BY created`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []collector.Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetConfig(ctx context.Context, id string) (collector.Config, error) {
	return s.getConfig(ctx, s.db, id)
}

func (s *SQLStore) getConfig(ctx context.Context, q querier, id string) (collector.Config, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+configColumns+` FROM collector_configs WHERE id = ?`), id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return collector.Config{}, ErrNotFound
	}
	return cfg, err
}

func (s *SQLStore) CreateConfig(ctx context.Context, cfg collector.Config) (collector.Config, error) {
	cfg.ID = uuid.NewString()
	if cfg.Created.IsZero() {
		cfg.Created = s.now().UTC()
	}
	cfg.Updated = cfg.Created

	args, err := configArgs(cfg)
	if err != nil {
		return collector.Config{}, err
	}
	query := `INSERT INTO collector_configs (` + configColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return collector.Config{}, err
	}
	return cfg, nil
}

func (s *SQLStore) UpdateConfig(ctx context.Context, id string, patch collector.Patch) (collector.Config, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return collector.Config{}, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	cfg, err := s.getConfig(ctx, tx, id)
	if err != nil {
		return collector.Config{}, err
	}
	cfg = patch.Apply(cfg)
	cfg.Updated = s.now().UTC()

	args, err := configArgs(cfg)
	if err != nil {
		return collector.Config{}, err
	}
	query := `UPDATE collector_configs SET name = ?, location = ?, location_type = ?, lat = ?, lon = ?,
		attributes = ?, interval_ms = ?, cron_expression = ?, timezone = ?, active = ?, created = ?, updated = ?
		WHERE id = ?`
	if _, err := tx.ExecContext(ctx, s.rebind(query), append(args[1:], id)...); err != nil {
		return collector.Config{}, err
	}
	return cfg, tx.Commit()
}

func (s *SQLStore) DeleteConfig(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM collector_configs WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) ReadingByCollector(ctx context.Context, collectorID string) (weather.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM weather_data WHERE collector_id = ? ORDER BY observed_at DESC LIMIT 1`
	r, err := scanReading(s.db.QueryRowContext(ctx, s.rebind(query), collectorID))
	if errors.Is(err, sql.ErrNoRows) {
		return weather.Reading{}, ErrNotFound
	}
	return r, err
}

func (s *SQLStore) CreateReading(ctx context.Context, r weather.Reading) (weather.Reading, error) {
	r.ID = uuid.NewString()
	query := `INSERT INTO weather_data (` + readingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), readingArgs(r)...); err != nil {
		return weather.Reading{}, err
	}
	return r, nil
}

func (s *SQLStore) UpdateReading(ctx context.Context, id string, r weather.Reading) (weather.Reading, error) {
	r.ID = id
	query := `UPDATE weather_data SET collector_id = ?, location = ?, observed_at = ?, lat = ?, lon = ?,
		temperature = ?, humidity = ?, pressure = ?, wind_speed = ?, wind_direction = ?,
		weather_condition = ?, weather_description = ?, icon = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, s.rebind(query), append(readingArgs(r)[1:], id)...)
	if err != nil {
		return weather.Reading{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return weather.Reading{}, ErrNotFound
	}
	return r, nil
}

func (s *SQLStore) QueryReadings(ctx context.Context, filter weather.ReadingFilter) ([]weather.Reading, error) {
	var (
		where []string
		args  []any
	)
	if filter.Location != "" {
		where = append(where, "location = ?")
		args = append(args, filter.Location)
	}
	if filter.CollectorID != "" {
		where = append(where, "collector_id = ?")
		args = append(args, filter.CollectorID)
	}
	if filter.From != nil {
		where = append(where, "observed_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		where = append(where, "observed_at <= ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT ` + readingColumns + ` FROM weather_data`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY observed_at DESC LIMIT ?`
	args = append(args, filter.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []weather.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func configArgs(cfg collector.Config) ([]any, error) {
	attrs := cfg.Attributes
	if attrs == nil {
		attrs = []string{}
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	var lat, lon sql.NullFloat64
	if cfg.Coordinates != nil {
		lat = nullFloat(cfg.Coordinates.Lat)
		lon = nullFloat(cfg.Coordinates.Lon)
	}

	return []any{
		cfg.ID, cfg.Name, cfg.Location, string(cfg.LocationType), lat, lon, string(attrJSON),
		cfg.Interval, cfg.CronExpression, cfg.Timezone, cfg.Active, cfg.Created.UTC(), cfg.Updated.UTC(),
	}, nil
}

func scanConfig(row rowScanner) (collector.Config, error) {
	var (
		cfg          collector.Config
		locationType string
		lat, lon     sql.NullFloat64
		attrJSON     string
	)
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Location, &locationType, &lat, &lon, &attrJSON,
		&cfg.Interval, &cfg.CronExpression, &cfg.Timezone, &cfg.Active, &cfg.Created, &cfg.Updated)
	if err != nil {
		return collector.Config{}, err
	}

	cfg.LocationType = collector.LocationType(locationType)
	if lat.Valid || lon.Valid {
		cfg.Coordinates = &collector.Coordinates{Lat: floatPtr(lat), Lon: floatPtr(lon)}
	}
	if err := json.Unmarshal([]byte(attrJSON), &cfg.Attributes); err != nil {
		return collector.Config{}, fmt.Errorf("decode attributes: %w", err)
	}
	if len(cfg.Attributes) == 0 {
		cfg.Attributes = nil
	}
	cfg.Created = cfg.Created.UTC()
	cfg.Updated = cfg.Updated.UTC()
	return cfg, nil
}

func readingArgs(r weather.Reading) []any {
	var lat, lon sql.NullFloat64
	if r.Coordinates != nil {
		lat = sql.NullFloat64{Float64: r.Coordinates.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: r.Coordinates.Lon, Valid: true}
	}
	return []any{
		r.ID, r.CollectorID, r.Location, r.Timestamp.UTC(), lat, lon,
		nullFloat(r.Temperature), nullFloat(r.Humidity), nullFloat(r.Pressure),
		nullFloat(r.WindSpeed), nullFloat(r.WindDirection),
		r.Condition, r.Description, r.Icon,
	}
}

func scanReading(row rowScanner) (weather.Reading, error) {
	var (
		r                                    weather.Reading
		lat, lon                             sql.NullFloat64
		temp, humidity, pressure, speed, dir sql.NullFloat64
	)
	err := row.Scan(&r.ID, &r.CollectorID, &r.Location, &r.Timestamp, &lat, &lon,
		&temp, &humidity, &pressure, &speed, &dir,
		&r.Condition, &r.Description, &r.Icon)
	if err != nil {
		return weather.Reading{}, err
	}

	r.Timestamp = r.Timestamp.UTC()
	if lat.Valid && lon.Valid {
		r.Coordinates = &weather.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}
	r.Temperature = floatPtr(temp)
	r.Humidity = floatPtr(humidity)
	r.Pressure = floatPtr(pressure)
	r.WindSpeed = floatPtr(speed)
	r.WindDirection = floatPtr(dir)
	return r, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
