/*
Package postgres provides a PostgreSQL-backed implementation of the storage
and provider interfaces.

PURPOSE:
  Server-grade persistence for multi-instance deployments. Functionally a
  twin of store/sqlite; differences are dialect and driver idiom:
  - sqlx struct scanning instead of hand-rolled row scans
  - NUMERIC columns read straight into decimals
  - feeds_to as a native TEXT[] via pq.StringArray
  - no store-level mutex: the database owns concurrency control

IDEMPOTENCY:
  transfer_events carries a UNIQUE constraint on (calc_date, source_code,
  destination_code). Under the default isolation level two racing appliers
  serialize on that constraint: the loser's insert fails with 23505 and its
  whole transaction (volume mutations included) rolls back.

USAGE:
  st, err := postgres.New(postgres.Config{DSN: os.Getenv("DATABASE_URL")})
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  provider, err := postgres.NewProvider(ctx, st)

SEE ALSO:
  - store/sqlite: the single-file twin, schema kept in lockstep
  - hydro/store.go: interface definitions
*/
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sitewater/balance-engine/hydro"
	"github.com/sitewater/balance-engine/logging"
	"github.com/sitewater/balance-engine/metrics"
)

// Config holds connection configuration.
type Config struct {
	// DSN is a lib/pq connection string or postgres:// URL.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Logger and Metrics may be nil; query durations land in the
	// collector's store histogram.
	Logger  *logging.Logger
	Metrics *metrics.Collector
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNopCollector()
	}
	return c
}

// Store implements the storage interfaces using PostgreSQL.
type Store struct {
	db *sqlx.DB

	logger  *logging.Logger
	metrics *metrics.Collector
}

// New opens a connection pool, verifies it, and migrates the schema.
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		db:      db,
		logger:  cfg.Logger.WithComponent("store.postgres"),
		metrics: cfg.Metrics,
	}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store.logger.Debug("database opened", logging.Fields{
		"max_open_conns": cfg.MaxOpenConns,
	})
	return store, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the pool can reach the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS facilities (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		area TEXT NOT NULL DEFAULT '',
		total_capacity NUMERIC(20,4) NOT NULL,
		current_volume NUMERIC(20,4) NOT NULL,
		surface_area NUMERIC(20,4) NOT NULL DEFAULT 0,
		evaporation_participant BOOLEAN NOT NULL DEFAULT FALSE,
		pump_start_level NUMERIC(8,4) NOT NULL DEFAULT 0,
		pump_stop_level NUMERIC(8,4) NOT NULL DEFAULT 0,
		feeds_to TEXT[] NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sources (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		average_flow_rate NUMERIC(20,4) NOT NULL DEFAULT 0,
		reliability_factor NUMERIC(8,4) NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS measurements (
		parameter TEXT NOT NULL,
		month TEXT NOT NULL,
		value NUMERIC(20,4) NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (parameter, month)
	);

	CREATE TABLE IF NOT EXISTS constants (
		name TEXT PRIMARY KEY,
		value NUMERIC(20,6) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transfer_events (
		id BIGSERIAL PRIMARY KEY,
		calc_date TEXT NOT NULL,
		source_code TEXT NOT NULL,
		destination_code TEXT NOT NULL,
		volume NUMERIC(20,4) NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL,
		UNIQUE (calc_date, source_code, destination_code)
	);

	CREATE INDEX IF NOT EXISTS idx_transfer_events_date
		ON transfer_events(calc_date);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// ROW TYPES
// =============================================================================

type facilityRow struct {
	Code                   string          `db:"code"`
	Name                   string          `db:"name"`
	Type                   string          `db:"type"`
	Area                   string          `db:"area"`
	TotalCapacity          decimal.Decimal `db:"total_capacity"`
	CurrentVolume          decimal.Decimal `db:"current_volume"`
	SurfaceArea            decimal.Decimal `db:"surface_area"`
	EvaporationParticipant bool            `db:"evaporation_participant"`
	PumpStartLevel         decimal.Decimal `db:"pump_start_level"`
	PumpStopLevel          decimal.Decimal `db:"pump_stop_level"`
	FeedsTo                pq.StringArray  `db:"feeds_to"`
	Active                 bool            `db:"active"`
}

func (r facilityRow) toDomain() hydro.Facility {
	return hydro.Facility{
		Code:                   r.Code,
		Name:                   r.Name,
		Type:                   hydro.FacilityType(r.Type),
		Area:                   r.Area,
		TotalCapacity:          hydro.NewVolumeFromDecimal(r.TotalCapacity),
		CurrentVolume:          hydro.NewVolumeFromDecimal(r.CurrentVolume),
		SurfaceArea:            r.SurfaceArea,
		EvaporationParticipant: r.EvaporationParticipant,
		PumpStartLevel:         r.PumpStartLevel,
		PumpStopLevel:          r.PumpStopLevel,
		FeedsTo:                []string(r.FeedsTo),
		Active:                 r.Active,
	}
}

type sourceRow struct {
	Code              string          `db:"code"`
	Name              string          `db:"name"`
	Category          string          `db:"category"`
	AverageFlowRate   decimal.Decimal `db:"average_flow_rate"`
	ReliabilityFactor decimal.Decimal `db:"reliability_factor"`
}

func (r sourceRow) toDomain() hydro.Source {
	return hydro.Source{
		Code:              r.Code,
		Name:              r.Name,
		Category:          hydro.SourceCategory(r.Category),
		AverageFlowRate:   hydro.NewVolumeFromDecimal(r.AverageFlowRate),
		ReliabilityFactor: r.ReliabilityFactor,
	}
}

type transferRow struct {
	CalcDate        string          `db:"calc_date"`
	SourceCode      string          `db:"source_code"`
	DestinationCode string          `db:"destination_code"`
	Volume          decimal.Decimal `db:"volume"`
	AppliedAt       time.Time       `db:"applied_at"`
}

func (r transferRow) toDomain() (hydro.TransferEvent, error) {
	month, err := hydro.ParseMonth(r.CalcDate)
	if err != nil {
		return hydro.TransferEvent{}, err
	}
	return hydro.TransferEvent{
		CalcDate:        month,
		SourceCode:      r.SourceCode,
		DestinationCode: r.DestinationCode,
		Volume:          hydro.NewVolumeFromDecimal(r.Volume),
		AppliedAt:       r.AppliedAt,
	}, nil
}

// =============================================================================
// FACILITIES
// =============================================================================

const facilityColumns = `code, name, type, area, total_capacity, current_volume, surface_area,
	evaporation_participant, pump_start_level, pump_stop_level, feeds_to, active`

// timeQuery starts a duration observation for one query type. Callers
// defer ObserveDuration.
func (s *Store) timeQuery(queryType string) *metrics.Timer {
	return metrics.NewTimer(s.metrics.StoreQueryDuration.WithLabelValues(queryType))
}

// SaveFacility inserts or updates a facility record.
func (s *Store) SaveFacility(ctx context.Context, f hydro.Facility) error {
	defer s.timeQuery("facility_save").ObserveDuration()

	query := `
		INSERT INTO facilities
		(code, name, type, area, total_capacity, current_volume, surface_area,
		 evaporation_participant, pump_start_level, pump_stop_level, feeds_to, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			area = EXCLUDED.area,
			total_capacity = EXCLUDED.total_capacity,
			current_volume = EXCLUDED.current_volume,
			surface_area = EXCLUDED.surface_area,
			evaporation_participant = EXCLUDED.evaporation_participant,
			pump_start_level = EXCLUDED.pump_start_level,
			pump_stop_level = EXCLUDED.pump_stop_level,
			feeds_to = EXCLUDED.feeds_to,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		f.Code, f.Name, string(f.Type), f.Area,
		f.TotalCapacity.Value, f.CurrentVolume.Value, f.SurfaceArea,
		f.EvaporationParticipant, f.PumpStartLevel, f.PumpStopLevel,
		pq.StringArray(f.FeedsTo), f.Active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save facility %s: %w", f.Code, err)
	}
	return nil
}

// Facility returns one facility by code.
func (s *Store) Facility(ctx context.Context, code string) (*hydro.Facility, error) {
	defer s.timeQuery("facility_get").ObserveDuration()

	return facilityQuery(ctx, s.db, code)
}

// Facilities returns every stored facility ordered by code.
func (s *Store) Facilities(ctx context.Context) ([]hydro.Facility, error) {
	defer s.timeQuery("facility_list").ObserveDuration()

	return facilitiesQuery(ctx, s.db)
}

// SetFacilityVolume updates a facility's current volume.
func (s *Store) SetFacilityVolume(ctx context.Context, code string, v hydro.Volume) error {
	defer s.timeQuery("volume_update").ObserveDuration()

	return setVolumeExec(ctx, s.db, code, v)
}

func facilityQuery(ctx context.Context, ext sqlx.ExtContext, code string) (*hydro.Facility, error) {
	var row facilityRow
	err := sqlx.GetContext(ctx, ext, &row,
		`SELECT `+facilityColumns+` FROM facilities WHERE code = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, hydro.ErrFacilityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load facility %s: %w", code, err)
	}

	f := row.toDomain()
	return &f, nil
}

func facilitiesQuery(ctx context.Context, ext sqlx.ExtContext) ([]hydro.Facility, error) {
	var rows []facilityRow
	err := sqlx.SelectContext(ctx, ext, &rows,
		`SELECT `+facilityColumns+` FROM facilities ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query facilities: %w", err)
	}

	facilities := make([]hydro.Facility, 0, len(rows))
	for _, row := range rows {
		facilities = append(facilities, row.toDomain())
	}
	return facilities, nil
}

func setVolumeExec(ctx context.Context, ext sqlx.ExtContext, code string, v hydro.Volume) error {
	res, err := ext.ExecContext(ctx,
		`UPDATE facilities SET current_volume = $1, updated_at = $2 WHERE code = $3`,
		v.Value, time.Now().UTC(), code)
	if err != nil {
		return fmt.Errorf("failed to update volume for %s: %w", code, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return hydro.ErrFacilityNotFound
	}
	return nil
}

// =============================================================================
// SOURCES
// =============================================================================

// SaveSource inserts or updates a source record.
func (s *Store) SaveSource(ctx context.Context, src hydro.Source) error {
	defer s.timeQuery("source_save").ObserveDuration()

	query := `
		INSERT INTO sources (code, name, category, average_flow_rate, reliability_factor)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			average_flow_rate = EXCLUDED.average_flow_rate,
			reliability_factor = EXCLUDED.reliability_factor
	`

	_, err := s.db.ExecContext(ctx, query,
		src.Code, src.Name, string(src.Category),
		src.AverageFlowRate.Value, src.ReliabilityFactor)
	if err != nil {
		return fmt.Errorf("failed to save source %s: %w", src.Code, err)
	}
	return nil
}

// Sources returns every stored source ordered by code.
func (s *Store) Sources(ctx context.Context) ([]hydro.Source, error) {
	defer s.timeQuery("source_list").ObserveDuration()

	var rows []sourceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT code, name, category, average_flow_rate, reliability_factor
		 FROM sources ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}

	sources := make([]hydro.Source, 0, len(rows))
	for _, row := range rows {
		sources = append(sources, row.toDomain())
	}
	return sources, nil
}

// =============================================================================
// MEASUREMENTS
// =============================================================================

// SaveMeasurement upserts one (parameter, month) value.
func (s *Store) SaveMeasurement(ctx context.Context, m hydro.Measurement) error {
	defer s.timeQuery("measurement_save").ObserveDuration()

	query := `
		INSERT INTO measurements (parameter, month, value, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (parameter, month) DO UPDATE SET
			value = EXCLUDED.value,
			recorded_at = EXCLUDED.recorded_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(m.Parameter), m.Date.String(), m.Value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save measurement %s@%s: %w", m.Parameter, m.Date, err)
	}
	return nil
}

// Measurement looks up a single recorded value; ok=false when no row exists.
func (s *Store) Measurement(ctx context.Context, param hydro.ParameterType, date hydro.Month) (decimal.Decimal, bool, error) {
	defer s.timeQuery("measurement_get").ObserveDuration()

	var value decimal.Decimal
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM measurements WHERE parameter = $1 AND month = $2`,
		string(param), date.String())
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to load measurement %s@%s: %w", param, date, err)
	}
	return value, true, nil
}

// =============================================================================
// CONSTANTS AND SETTINGS
// =============================================================================

// SetConstant upserts a named engineering constant.
func (s *Store) SetConstant(ctx context.Context, name string, value decimal.Decimal) error {
	defer s.timeQuery("constant_set").ObserveDuration()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO constants (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
	`, name, value)
	if err != nil {
		return fmt.Errorf("failed to set constant %s: %w", name, err)
	}
	return nil
}

// Constants returns every configured constant.
func (s *Store) Constants(ctx context.Context) (map[string]decimal.Decimal, error) {
	defer s.timeQuery("constant_list").ObserveDuration()

	var rows []struct {
		Name  string          `db:"name"`
		Value decimal.Decimal `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, value FROM constants`); err != nil {
		return nil, fmt.Errorf("failed to query constants: %w", err)
	}

	constants := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		constants[row.Name] = row.Value
	}
	return constants, nil
}

// SetSetting upserts a rollout setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	defer s.timeQuery("setting_set").ObserveDuration()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Settings returns every rollout setting.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	defer s.timeQuery("setting_list").ObserveDuration()

	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value FROM settings`); err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}

	settings := make(map[string]string, len(rows))
	for _, row := range rows {
		settings[row.Key] = row.Value
	}
	return settings, nil
}

// =============================================================================
// TRANSFER EVENTS
// =============================================================================

// TransferApplied reports whether an event with the given key exists.
func (s *Store) TransferApplied(ctx context.Context, date hydro.Month, sourceCode, destinationCode string) (bool, error) {
	defer s.timeQuery("transfer_check").ObserveDuration()

	return transferAppliedQuery(ctx, s.db, date, sourceCode, destinationCode)
}

// RecordTransfer appends an audit event.
func (s *Store) RecordTransfer(ctx context.Context, ev hydro.TransferEvent) error {
	defer s.timeQuery("transfer_record").ObserveDuration()

	return recordTransferExec(ctx, s.db, ev)
}

// TransfersForMonth lists the audit events for one calculation month.
func (s *Store) TransfersForMonth(ctx context.Context, date hydro.Month) ([]hydro.TransferEvent, error) {
	defer s.timeQuery("transfer_list").ObserveDuration()

	return transfersQuery(ctx, s.db, date)
}

func transferAppliedQuery(ctx context.Context, ext sqlx.ExtContext, date hydro.Month, src, dst string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, ext, &count, `
		SELECT COUNT(*) FROM transfer_events
		WHERE calc_date = $1 AND source_code = $2 AND destination_code = $3
	`, date.String(), src, dst)
	if err != nil {
		return false, fmt.Errorf("failed to check transfer %s %s->%s: %w", date, src, dst, err)
	}
	return count > 0, nil
}

func recordTransferExec(ctx context.Context, ext sqlx.ExtContext, ev hydro.TransferEvent) error {
	_, err := ext.ExecContext(ctx, `
		INSERT INTO transfer_events (calc_date, source_code, destination_code, volume, applied_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.CalcDate.String(), ev.SourceCode, ev.DestinationCode, ev.Volume.Value, ev.AppliedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return &hydro.DuplicateTransferError{
				CalcDate:        ev.CalcDate,
				SourceCode:      ev.SourceCode,
				DestinationCode: ev.DestinationCode,
			}
		}
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

func transfersQuery(ctx context.Context, ext sqlx.ExtContext, date hydro.Month) ([]hydro.TransferEvent, error) {
	var rows []transferRow
	err := sqlx.SelectContext(ctx, ext, &rows, `
		SELECT calc_date, source_code, destination_code, volume, applied_at
		FROM transfer_events
		WHERE calc_date = $1
		ORDER BY source_code, destination_code
	`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}

	events := make([]hydro.TransferEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// =============================================================================
// TRANSACTIONS (hydro.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(hydro.Store) error) error {
	defer s.timeQuery("tx").ObserveDuration()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// txStore routes Store calls through the open transaction.
type txStore struct {
	tx *sqlx.Tx
}

func (ts *txStore) Facility(ctx context.Context, code string) (*hydro.Facility, error) {
	return facilityQuery(ctx, ts.tx, code)
}

func (ts *txStore) Facilities(ctx context.Context) ([]hydro.Facility, error) {
	return facilitiesQuery(ctx, ts.tx)
}

func (ts *txStore) SetFacilityVolume(ctx context.Context, code string, v hydro.Volume) error {
	return setVolumeExec(ctx, ts.tx, code, v)
}

func (ts *txStore) TransferApplied(ctx context.Context, date hydro.Month, src, dst string) (bool, error) {
	return transferAppliedQuery(ctx, ts.tx, date, src, dst)
}

func (ts *txStore) RecordTransfer(ctx context.Context, ev hydro.TransferEvent) error {
	return recordTransferExec(ctx, ts.tx, ev)
}

func (ts *txStore) TransfersForMonth(ctx context.Context, date hydro.Month) ([]hydro.TransferEvent, error) {
	return transfersQuery(ctx, ts.tx, date)
}

// =============================================================================
// PROVIDER (hydro.ConfigProvider + hydro.MeasurementProvider)
// =============================================================================

// Setting keys understood by the Provider. Kept in lockstep with
// store/sqlite so an export/import between the two needs no key mapping.
const (
	SettingClosureThreshold = "closure_threshold_pct"
	SettingScopeMode        = "transfer_scope_mode"
	SettingPilotAreas       = "transfer_pilot_areas"
	SettingHistoryEnabled   = "history_enabled"
	SettingHistoryMonths    = "history_months"
)

// Provider adapts a Store to the engine's provider interfaces. Constants,
// threshold, scope, and the history window are snapshotted in memory; call
// Reload after editing them.
type Provider struct {
	store *Store

	mu        sync.RWMutex
	constants map[string]decimal.Decimal
	threshold decimal.Decimal
	scope     hydro.TransferScope
	history   hydro.HistoryConfig
}

// NewProvider builds a provider and loads the first snapshot.
func NewProvider(ctx context.Context, store *Store) (*Provider, error) {
	p := &Provider{store: store}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads constants and settings from the store.
func (p *Provider) Reload(ctx context.Context) error {
	constants, err := p.store.Constants(ctx)
	if err != nil {
		return err
	}
	settings, err := p.store.Settings(ctx)
	if err != nil {
		return err
	}

	threshold := hydro.DefaultClosureThresholdPct
	if raw, ok := settings[SettingClosureThreshold]; ok {
		if d, err := decimal.NewFromString(raw); err == nil && d.IsPositive() {
			threshold = d
		}
	}

	scope := hydro.TransferScope{Mode: hydro.ScopeGlobal}
	if settings[SettingScopeMode] == string(hydro.ScopePilot) {
		scope.Mode = hydro.ScopePilot
		if raw, ok := settings[SettingPilotAreas]; ok && raw != "" {
			scope.PilotAreas = splitAreas(raw)
		}
	}

	history := hydro.HistoryConfig{Enabled: true, Months: hydro.DefaultHistoryMonths}
	if raw, ok := settings[SettingHistoryEnabled]; ok {
		history.Enabled = raw == "true" || raw == "1"
	}
	if raw, ok := settings[SettingHistoryMonths]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			history.Months = n
		}
	}

	p.mu.Lock()
	p.constants = constants
	p.threshold = threshold
	p.scope = scope
	p.history = history
	p.mu.Unlock()
	return nil
}

// Constant returns a named configuration constant.
func (p *Provider) Constant(name string) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v, ok := p.constants[name]
	return v, ok
}

// Facilities passes through to the store.
func (p *Provider) Facilities(ctx context.Context) ([]hydro.Facility, error) {
	return p.store.Facilities(ctx)
}

// Sources passes through to the store.
func (p *Provider) Sources(ctx context.Context) ([]hydro.Source, error) {
	return p.store.Sources(ctx)
}

// ClosureThreshold returns the configured closure threshold.
func (p *Provider) ClosureThreshold() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.threshold
}

// TransferScope returns the deployment gate for transfer application.
func (p *Provider) TransferScope() hydro.TransferScope {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.scope
}

// History returns the historical-average window configuration.
func (p *Provider) History() hydro.HistoryConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.history
}

// Measurement passes through to the store.
func (p *Provider) Measurement(ctx context.Context, param hydro.ParameterType, date hydro.Month) (decimal.Decimal, bool, error) {
	return p.store.Measurement(ctx, param, date)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	defer s.timeQuery("reset").ObserveDuration()

	tables := []string{"transfer_events", "measurements", "constants", "settings", "sources", "facilities"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	s.logger.Info("store reset", nil)
	return nil
}

func splitAreas(raw string) []string {
	// JSON array preferred; a bare comma list is accepted for hand-edited
	// rows.
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var areas []string
		if err := json.Unmarshal([]byte(raw), &areas); err == nil {
			return areas
		}
	}
	return strings.Split(raw, ",")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
