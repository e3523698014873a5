package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/levenlabs/go-lflag"

	"github.com/renovus-tech/solarec/pkg/types"
)

// postgresSchema mirrors the relational layout the monitoring platform writes
// readings into. Readings are keyed by the numeric data type id of a metric.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS cli_settings (
	cli_id TEXT PRIMARY KEY,
	settings JSONB NOT NULL,
	version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS locations (
	cli_id TEXT NOT NULL,
	loc_id TEXT NOT NULL,
	loc_name TEXT NOT NULL DEFAULT '',
	loc_output_capacity DOUBLE PRECISION,
	PRIMARY KEY (cli_id, loc_id)
);
CREATE TABLE IF NOT EXISTS generators (
	cli_id TEXT NOT NULL,
	gen_id TEXT NOT NULL,
	loc_id TEXT NOT NULL,
	gen_code TEXT NOT NULL DEFAULT '',
	gen_name TEXT NOT NULL DEFAULT '',
	gen_rate_power DOUBLE PRECISION,
	PRIMARY KEY (cli_id, gen_id)
);
CREATE TABLE IF NOT EXISTS stations (
	cli_id TEXT NOT NULL,
	sta_id TEXT NOT NULL,
	loc_id TEXT NOT NULL,
	sta_name TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (cli_id, sta_id)
);
CREATE TABLE IF NOT EXISTS gen_data (
	cli_id TEXT NOT NULL,
	gen_id TEXT NOT NULL,
	data_date TIMESTAMPTZ NOT NULL,
	data_type_id INTEGER NOT NULL,
	data_value DOUBLE PRECISION,
	version INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (cli_id, gen_id, data_date, data_type_id)
);
CREATE TABLE IF NOT EXISTS sta_data (
	cli_id TEXT NOT NULL,
	sta_id TEXT NOT NULL,
	data_date TIMESTAMPTZ NOT NULL,
	data_type_id INTEGER NOT NULL,
	data_value DOUBLE PRECISION,
	version INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (cli_id, sta_id, data_date, data_type_id)
);
`

// PostgresProvider implements the Database interface on top of a PostgreSQL
// connection pool.
type PostgresProvider struct {
	pool    *pgxpool.Pool
	url     string
	migrate bool
}

// configuredPostgres sets up the Postgres provider.
// It registers flags for configuration.
func configuredPostgres() *PostgresProvider {
	url := lflag.String("postgres-url", "", "PostgreSQL connection URL")
	migrate := lflag.Bool("postgres-migrate", false, "Create the tables if they don't exist")

	p := &PostgresProvider{}
	lflag.Do(func() {
		p.url = *url
		p.migrate = *migrate
	})
	return p
}

// Validate checks if the provider is properly configured.
func (p *PostgresProvider) Validate() error {
	if p.url == "" {
		return errors.New("postgres-url is required")
	}
	return nil
}

// Init connects the pool and optionally creates the schema.
func (p *PostgresProvider) Init(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, p.url)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	p.pool = pool
	if p.migrate {
		if err := p.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSchema creates the tables used by the provider.
func (p *PostgresProvider) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create postgres schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *PostgresProvider) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// GetSettings retrieves the client settings, returning defaults if none were saved.
func (p *PostgresProvider) GetSettings(ctx context.Context, clientID string) (types.Settings, int, error) {
	if err := checkClient(clientID); err != nil {
		return types.Settings{}, 0, err
	}
	var raw []byte
	var version int
	err := p.pool.QueryRow(ctx, `SELECT settings, version FROM cli_settings WHERE cli_id = $1`, clientID).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Settings{}, 0, nil
	}
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings: %w", err)
	}
	var s types.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the client settings.
func (p *PostgresProvider) SetSettings(ctx context.Context, clientID string, settings types.Settings, version int) error {
	if err := checkClient(clientID); err != nil {
		return err
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO cli_settings (cli_id, settings, version)
VALUES ($1, $2, $3)
ON CONFLICT (cli_id) DO UPDATE
SET settings = EXCLUDED.settings,
    version = EXCLUDED.version`, clientID, raw, version)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// GetLocation retrieves a single location.
func (p *PostgresProvider) GetLocation(ctx context.Context, clientID, locationID string) (types.Location, error) {
	if err := checkClient(clientID); err != nil {
		return types.Location{}, err
	}
	loc := types.Location{ClientID: clientID}
	var capacity *float64
	err := p.pool.QueryRow(ctx, `
SELECT loc_id, loc_name, loc_output_capacity
FROM locations
WHERE cli_id = $1 AND loc_id = $2`, clientID, locationID).Scan(&loc.ID, &loc.Name, &capacity)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Location{}, fmt.Errorf("%w: %s", ErrLocationNotFound, locationID)
	}
	if err != nil {
		return types.Location{}, fmt.Errorf("failed to get location %s: %w", locationID, err)
	}
	if capacity != nil {
		loc.CapacityKW = *capacity
	}
	return loc, nil
}

// ListLocations retrieves every location of a client.
func (p *PostgresProvider) ListLocations(ctx context.Context, clientID string) ([]types.Location, error) {
	if err := checkClient(clientID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
SELECT loc_id, loc_name, loc_output_capacity
FROM locations
WHERE cli_id = $1
ORDER BY loc_id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	var locations []types.Location
	for rows.Next() {
		loc := types.Location{ClientID: clientID}
		var capacity *float64
		if err := rows.Scan(&loc.ID, &loc.Name, &capacity); err != nil {
			return nil, err
		}
		if capacity != nil {
			loc.CapacityKW = *capacity
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

// UpsertLocation adds or updates a location.
func (p *PostgresProvider) UpsertLocation(ctx context.Context, clientID string, location types.Location) error {
	if err := checkClient(clientID); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO locations (loc_id, cli_id, loc_name, loc_output_capacity)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cli_id, loc_id) DO UPDATE
SET loc_name = EXCLUDED.loc_name,
    loc_output_capacity = EXCLUDED.loc_output_capacity`,
		location.ID, clientID, location.Name, location.CapacityKW)
	if err != nil {
		return fmt.Errorf("failed to upsert location %s: %w", location.ID, err)
	}
	return nil
}

// ListGenerators retrieves the generators of a location ordered by ID.
func (p *PostgresProvider) ListGenerators(ctx context.Context, clientID, locationID string) ([]types.Generator, error) {
	if err := checkClient(clientID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
SELECT gen_id, loc_id, gen_code, gen_name, gen_rate_power
FROM generators
WHERE cli_id = $1 AND loc_id = $2
ORDER BY gen_id`, clientID, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list generators: %w", err)
	}
	defer rows.Close()

	var generators []types.Generator
	for rows.Next() {
		var g types.Generator
		var rated *float64
		if err := rows.Scan(&g.ID, &g.LocationID, &g.Code, &g.Name, &rated); err != nil {
			return nil, err
		}
		if rated != nil {
			g.RatedPowerKW = *rated
		}
		generators = append(generators, g)
	}
	return generators, rows.Err()
}

// UpsertGenerator adds or updates a generator.
func (p *PostgresProvider) UpsertGenerator(ctx context.Context, clientID string, generator types.Generator) error {
	if err := checkClient(clientID); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO generators (gen_id, cli_id, loc_id, gen_code, gen_name, gen_rate_power)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (cli_id, gen_id) DO UPDATE
SET loc_id = EXCLUDED.loc_id,
    gen_code = EXCLUDED.gen_code,
    gen_name = EXCLUDED.gen_name,
    gen_rate_power = EXCLUDED.gen_rate_power`,
		generator.ID, clientID, generator.LocationID, generator.Code, generator.Name, generator.RatedPowerKW)
	if err != nil {
		return fmt.Errorf("failed to upsert generator %s: %w", generator.ID, err)
	}
	return nil
}

// GetStation retrieves the weather station of a location.
func (p *PostgresProvider) GetStation(ctx context.Context, clientID, locationID string) (types.Station, error) {
	if err := checkClient(clientID); err != nil {
		return types.Station{}, err
	}
	var st types.Station
	err := p.pool.QueryRow(ctx, `
SELECT sta_id, loc_id, sta_name
FROM stations
WHERE cli_id = $1 AND loc_id = $2
ORDER BY sta_id
LIMIT 1`, clientID, locationID).Scan(&st.ID, &st.LocationID, &st.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Station{}, fmt.Errorf("%w: location %s", ErrStationNotFound, locationID)
	}
	if err != nil {
		return types.Station{}, fmt.Errorf("failed to get station for location %s: %w", locationID, err)
	}
	return st, nil
}

// UpsertStation adds or updates a station.
func (p *PostgresProvider) UpsertStation(ctx context.Context, clientID string, station types.Station) error {
	if err := checkClient(clientID); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO stations (sta_id, cli_id, loc_id, sta_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cli_id, sta_id) DO UPDATE
SET loc_id = EXCLUDED.loc_id,
    sta_name = EXCLUDED.sta_name`,
		station.ID, clientID, station.LocationID, station.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert station %s: %w", station.ID, err)
	}
	return nil
}

// UpsertReadings inserts readings in a single batch. Readings with a metric
// that has no data type id are rejected.
func (p *PostgresProvider) UpsertReadings(ctx context.Context, clientID string, kind types.EntityKind, readings []types.Reading, version int) error {
	if err := checkClient(clientID); err != nil {
		return err
	}
	if len(readings) == 0 {
		return nil
	}

	var query string
	switch kind {
	case types.EntityGenerator:
		query = `INSERT INTO gen_data (cli_id, gen_id, data_date, data_type_id, data_value, version)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (cli_id, gen_id, data_date, data_type_id) DO UPDATE
SET data_value = EXCLUDED.data_value,
    version = EXCLUDED.version`
	case types.EntityStation:
		query = `INSERT INTO sta_data (cli_id, sta_id, data_date, data_type_id, data_value, version)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (cli_id, sta_id, data_date, data_type_id) DO UPDATE
SET data_value = EXCLUDED.data_value,
    version = EXCLUDED.version`
	default:
		return fmt.Errorf("unknown entity kind: %s", kind)
	}

	batch := &pgx.Batch{}
	for _, r := range readings {
		code := r.Metric.Code()
		if code == 0 {
			return fmt.Errorf("metric %s has no data type id", r.Metric)
		}
		batch.Queue(query, clientID, r.EntityID, r.Timestamp.UTC(), code, r.Value, version)
	}

	res := p.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range readings {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("failed to upsert readings: %w", err)
		}
	}
	return nil
}

func metricCodes(metrics []types.Metric) []int32 {
	codes := make([]int32, 0, len(metrics))
	for _, m := range metrics {
		if c := m.Code(); c != 0 {
			codes = append(codes, int32(c))
		}
	}
	return codes
}

func (p *PostgresProvider) queryReadings(ctx context.Context, query string, args ...any) ([]types.Reading, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []types.Reading
	for rows.Next() {
		var entityID string
		var ts time.Time
		var code int32
		var value *float64
		if err := rows.Scan(&entityID, &ts, &code, &value); err != nil {
			return nil, err
		}
		// null readings are missing
		if value == nil {
			continue
		}
		m, ok := types.MetricFromCode(int(code))
		if !ok {
			continue
		}
		readings = append(readings, types.Reading{EntityID: entityID, Timestamp: ts.UTC(), Metric: m, Value: *value})
	}
	return readings, rows.Err()
}

// GetGeneratorReadings retrieves generator readings within [start, end).
func (p *PostgresProvider) GetGeneratorReadings(ctx context.Context, clientID string, generatorIDs []string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error) {
	if err := checkClient(clientID); err != nil {
		return nil, err
	}
	if len(generatorIDs) == 0 {
		return nil, nil
	}
	if len(metrics) == 0 {
		metrics = types.GeneratorMetrics
	}
	return p.queryReadings(ctx, `
SELECT gen_id, data_date, data_type_id, data_value
FROM gen_data
WHERE cli_id = $1 AND gen_id = ANY($2) AND data_type_id = ANY($3)
  AND data_date >= $4 AND data_date < $5
ORDER BY gen_id, data_date`, clientID, generatorIDs, metricCodes(metrics), start.UTC(), end.UTC())
}

// GetStationReadings retrieves station readings within [start, end).
func (p *PostgresProvider) GetStationReadings(ctx context.Context, clientID, stationID string, metrics []types.Metric, start, end time.Time) ([]types.Reading, error) {
	if err := checkClient(clientID); err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		metrics = types.StationMetrics
	}
	return p.queryReadings(ctx, `
SELECT sta_id, data_date, data_type_id, data_value
FROM sta_data
WHERE cli_id = $1 AND sta_id = $2 AND data_type_id = ANY($3)
  AND data_date >= $4 AND data_date < $5
ORDER BY data_date`, clientID, stationID, metricCodes(metrics), start.UTC(), end.UTC())
}
