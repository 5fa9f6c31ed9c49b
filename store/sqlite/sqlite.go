/*
Package sqlite provides a SQLite-backed implementation of the storage and
provider interfaces.

PURPOSE:
  Single-file persistence for site deployments: the facility network,
  water sources, measurement series, engineering constants, rollout
  settings, and the transfer audit table all live in one database.

INTERFACES IMPLEMENTED:
  hydro.Store / hydro.TxStore:  facility volumes + transfer events
  hydro.MeasurementProvider:    via Provider
  hydro.ConfigProvider:         via Provider (snapshotted constants)

IDEMPOTENCY:
  transfer_events carries a UNIQUE index on (calc_date, source_code,
  destination_code). A violation maps to hydro.DuplicateTransferError, so
  two appliers racing on the same month cannot double-move water even when
  both pass the pre-check.

KEY TABLES:
  facilities:       network nodes, capacities, live volumes
  sources:          external water sources
  measurements:     (parameter, month) -> value, upserted on reload
  constants:        named engineering constants
  settings:         closure threshold, transfer scope, history window
  transfer_events:  append-only application audit

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  st, err := sqlite.New("./data/site.db", logger, collector)
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  provider, err := sqlite.NewProvider(ctx, st)
  calc := hydro.NewCalculator(hydro.CalculatorConfig{
      Measurements: provider,
      Config:       provider,
      Store:        st,
      History:      provider.History(),
  })

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - hydro/store.go: interface definitions
  - hydro/providers.go: provider contracts
  - store/postgres: the server-grade twin
  - hydro/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/sitewater/balance-engine/hydro"
	"github.com/sitewater/balance-engine/logging"
	"github.com/sitewater/balance-engine/metrics"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	logger  *logging.Logger
	metrics *metrics.Collector
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database. logger and collector may be
// nil; query durations land in the collector's store histogram.
func New(dbPath string, logger *logging.Logger, collector *metrics.Collector) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if collector == nil {
		collector = metrics.NewNopCollector()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and pooling would
	// give ":memory:" databases a fresh empty schema per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, logger: logger.WithComponent("store.sqlite"), metrics: collector}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store.logger.Debug("database opened", logging.Fields{"path": dbPath})
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Facility network (capacities and live volumes)
	CREATE TABLE IF NOT EXISTS facilities (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		area TEXT NOT NULL DEFAULT '',
		total_capacity TEXT NOT NULL,
		current_volume TEXT NOT NULL,
		surface_area TEXT NOT NULL DEFAULT '0',
		evaporation_participant BOOLEAN DEFAULT FALSE,
		pump_start_level TEXT NOT NULL DEFAULT '0',
		pump_stop_level TEXT NOT NULL DEFAULT '0',
		feeds_to TEXT NOT NULL DEFAULT '[]',
		active BOOLEAN DEFAULT TRUE,
		updated_at TEXT NOT NULL
	);

	-- External water sources
	CREATE TABLE IF NOT EXISTS sources (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		average_flow_rate TEXT NOT NULL DEFAULT '0',
		reliability_factor TEXT NOT NULL DEFAULT '1'
	);

	-- Measurement series: one value per (parameter, month), reloads overwrite
	CREATE TABLE IF NOT EXISTS measurements (
		parameter TEXT NOT NULL,
		month TEXT NOT NULL,
		value TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		UNIQUE(parameter, month)
	);

	CREATE INDEX IF NOT EXISTS idx_measurements_parameter
		ON measurements(parameter, month);

	-- Named engineering constants
	CREATE TABLE IF NOT EXISTS constants (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Rollout settings (threshold, scope, history window)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Transfer application audit (append-only)
	CREATE TABLE IF NOT EXISTS transfer_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		calc_date TEXT NOT NULL,
		source_code TEXT NOT NULL,
		destination_code TEXT NOT NULL,
		volume TEXT NOT NULL,
		applied_at TEXT NOT NULL
	);

	-- CRITICAL: the idempotency key for the whole system. An applier retry
	-- or a second instance racing on the same month hits this index, not
	-- a double volume mutation.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transfer_events_unique
		ON transfer_events(calc_date, source_code, destination_code);

	CREATE INDEX IF NOT EXISTS idx_transfer_events_date
		ON transfer_events(calc_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so the query helpers
// serve the plain methods and the WithTx view alike.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// timeQuery starts a duration observation for one query type. Callers
// defer ObserveDuration.
func (s *Store) timeQuery(queryType string) *metrics.Timer {
	return metrics.NewTimer(s.metrics.StoreQueryDuration.WithLabelValues(queryType))
}

// =============================================================================
// FACILITIES (hydro.Store interface + seeding surface)
// =============================================================================

const facilityColumns = `code, name, type, area, total_capacity, current_volume, surface_area,
	evaporation_participant, pump_start_level, pump_stop_level, feeds_to, active`

// SaveFacility inserts or updates a facility record.
func (s *Store) SaveFacility(ctx context.Context, f hydro.Facility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.timeQuery("facility_save").ObserveDuration()

	feeds, err := json.Marshal(f.FeedsTo)
	if err != nil {
		return fmt.Errorf("failed to encode feeds_to for %s: %w", f.Code, err)
	}

	query := `
		INSERT INTO facilities
		(code, name, type, area, total_capacity, current_volume, surface_area,
		 evaporation_participant, pump_start_level, pump_stop_level, feeds_to, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			area = excluded.area,
			total_capacity = excluded.total_capacity,
			current_volume = excluded.current_volume,
			surface_area = excluded.surface_area,
			evaporation_participant = excluded.evaporation_participant,
			pump_start_level = excluded.pump_start_level,
			pump_stop_level = excluded.pump_stop_level,
			feeds_to = excluded.feeds_to,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		f.Code, f.Name, string(f.Type), f.Area,
		f.TotalCapacity.Value.String(),
		f.CurrentVolume.Value.String(),
		f.SurfaceArea.String(),
		f.EvaporationParticipant,
		f.PumpStartLevel.String(),
		f.PumpStopLevel.String(),
		string(feeds),
		f.Active,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save facility %s: %w", f.Code, err)
	}
	return nil
}

// Facility returns one facility by code.
func (s *Store) Facility(ctx context.Context, code string) (*hydro.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.timeQuery("facility_get").ObserveDuration()

	return facilityQuery(ctx, s.db, code)
}

// Facilities returns every stored facility ordered by code.
func (s *Store) Facilities(ctx context.Context) ([]hydro.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.timeQuery("facility_list").ObserveDuration()

	return facilitiesQuery(ctx, s.db)
}

// SetFacilityVolume updates a facility's current volume.
func (s *Store) SetFacilityVolume(ctx context.Context, code string, v hydro.Volume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.timeQuery("volume_update").ObserveDuration()

	return setVolumeExec(ctx, s.db, code, v)
}

func facilityQuery(ctx context.Context, db dbtx, code string) (*hydro.Facility, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE code = ?`, code)

	f, err := scanFacility(row)
	if err == sql.ErrNoRows {
		return nil, hydro.ErrFacilityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load facility %s: %w", code, err)
	}
	return f, nil
}

func facilitiesQuery(ctx context.Context, db dbtx) ([]hydro.Facility, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+facilityColumns+` FROM facilities ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query facilities: %w", err)
	}
	defer rows.Close()

	var facilities []hydro.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan facility: %w", err)
		}
		facilities = append(facilities, *f)
	}
	return facilities, rows.Err()
}

func setVolumeExec(ctx context.Context, db dbtx, code string, v hydro.Volume) error {
	res, err := db.ExecContext(ctx,
		`UPDATE facilities SET current_volume = ?, updated_at = ? WHERE code = ?`,
		v.Value.String(), time.Now().UTC().Format(time.RFC3339), code)
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

func scanFacility(row rowScanner) (*hydro.Facility, error) {
	var (
		f        hydro.Facility
		ftype    string
		capacity string
		volume   string
		area     string
		start    string
		stop     string
		feeds    string
	)

	err := row.Scan(&f.Code, &f.Name, &ftype, &f.Area, &capacity, &volume, &area,
		&f.EvaporationParticipant, &start, &stop, &feeds, &f.Active)
	if err != nil {
		return nil, err
	}

	f.Type = hydro.FacilityType(ftype)
	if f.TotalCapacity, err = parseVolume(capacity); err != nil {
		return nil, err
	}
	if f.CurrentVolume, err = parseVolume(volume); err != nil {
		return nil, err
	}
	if f.SurfaceArea, err = decimal.NewFromString(area); err != nil {
		return nil, fmt.Errorf("corrupt surface_area %q: %w", area, err)
	}
	if f.PumpStartLevel, err = decimal.NewFromString(start); err != nil {
		return nil, fmt.Errorf("corrupt pump_start_level %q: %w", start, err)
	}
	if f.PumpStopLevel, err = decimal.NewFromString(stop); err != nil {
		return nil, fmt.Errorf("corrupt pump_stop_level %q: %w", stop, err)
	}
	if err := json.Unmarshal([]byte(feeds), &f.FeedsTo); err != nil {
		return nil, fmt.Errorf("failed to decode feeds_to: %w", err)
	}
	return &f, nil
}

// =============================================================================
// SOURCES
// =============================================================================

// SaveSource inserts or updates a source record.
func (s *Store) SaveSource(ctx context.Context, src hydro.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.timeQuery("source_save").ObserveDuration()

	query := `
		INSERT INTO sources (code, name, category, average_flow_rate, reliability_factor)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			average_flow_rate = excluded.average_flow_rate,
			reliability_factor = excluded.reliability_factor
	`

	_, err := s.db.ExecContext(ctx, query,
		src.Code, src.Name, string(src.Category),
		src.AverageFlowRate.Value.String(),
		src.ReliabilityFactor.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save source %s: %w", src.Code, err)
	}
	return nil
}

// Sources returns every stored source ordered by code.
func (s *Store) Sources(ctx context.Context) ([]hydro.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.timeQuery("source_list").ObserveDuration()

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, category, average_flow_rate, reliability_factor
		 FROM sources ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []hydro.Source
	for rows.Next() {
		var (
			src         hydro.Source
			category    string
			flow        string
			reliability string
		)
		if err := rows.Scan(&src.Code, &src.Name, &category, &flow, &reliability); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		src.Category = hydro.SourceCategory(category)
		if src.AverageFlowRate, err = parseVolume(flow); err != nil {
			return nil, err
		}
		if src.ReliabilityFactor, err = decimal.NewFromString(reliability); err != nil {
			return nil, fmt.Errorf("corrupt reliability_factor %q: %w", reliability, err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// =============================================================================
// MEASUREMENTS
// =============================================================================

// SaveMeasurement upserts one (parameter, month) value.
func (s *Store) SaveMeasurement(ctx context.Context, m hydro.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.timeQuery("measurement_save").ObserveDuration()

	query := `
		INSERT INTO measurements (parameter, month, value, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(parameter, month) DO UPDATE SET
			value = excluded.value,
			recorded_at = excluded.recorded_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(m.Parameter), m.Date.String(), m.Value.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save measurement %s@%s: %w", m.Parameter, m.Date, err)
	}
	return nil
}

// Measurement looks up a single recorded value; ok=false when no row exists.
func (s *Store) Measurement(ctx context.Context, param hydro.ParameterType, date hydro.Month) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.timeQuery("measurement_get").ObserveDuration()

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM measurements WHERE parameter = ? AND month = ?`,
		string(param), date.String(),
	).Scan(&value)

	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to load measurement %s@%s: %w", param, date, err)
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt measurement %s@%s: %w", param, date, err)
	}
	return d, true, nil
}

// =============================================================================
// CONSTANTS AND SETTINGS
// =============================================================================

// SetConstant upserts a named engineering constant.
func (s *Store) SetConstant(ctx context.Context, name string, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.timeQuery("constant_set").ObserveDuration()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO constants (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, name, value.String())
	if err != nil {
		return fmt.Errorf("failed to set constant %s: %w", name, err)
	}
	return nil
}

// Constants returns every configured constant.
func (s *Store) Constants(ctx context.Context) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.timeQuery("constant_list").ObserveDuration()

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM constants`)
	if err != nil {
		return nil, fmt.Errorf("failed to query constants: %w", err)
	}
	defer rows.Close()

	constants := make(map[string]decimal.Decimal)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("corrupt constant %s: %w", name, err)
		}
		constants[name] = d
	}
	return constants, rows.Err()
}

// SetSetting upserts a rollout setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.timeQuery("setting_set").ObserveDuration()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Settings returns every rollout setting.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.timeQuery("setting_list").ObserveDuration()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// =============================================================================
// TRANSFER EVENTS
// =============================================================================

// TransferApplied reports whether an event with the given key exists.
func (s *Store) TransferApplied(ctx context.Context, date hydro.Month, sourceCode, destinationCode string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.timeQuery("transfer_check").ObserveDuration()

	return transferAppliedQuery(ctx, s.db, date, sourceCode, destinationCode)
}

// RecordTransfer appends an audit event.
func (s *Store) RecordTransfer(ctx context.Context, ev hydro.TransferEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.timeQuery("transfer_record").ObserveDuration()

	return recordTransferExec(ctx, s.db, ev)
}

// TransfersForMonth lists the audit events for one calculation month.
func (s *Store) TransfersForMonth(ctx context.Context, date hydro.Month) ([]hydro.TransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.timeQuery("transfer_list").ObserveDuration()

	return transfersQuery(ctx, s.db, date)
}

func transferAppliedQuery(ctx context.Context, db dbtx, date hydro.Month, src, dst string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transfer_events
		WHERE calc_date = ? AND source_code = ? AND destination_code = ?
	`, date.String(), src, dst).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check transfer %s %s->%s: %w", date, src, dst, err)
	}
	return count > 0, nil
}

func recordTransferExec(ctx context.Context, db dbtx, ev hydro.TransferEvent) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transfer_events (calc_date, source_code, destination_code, volume, applied_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		ev.CalcDate.String(),
		ev.SourceCode,
		ev.DestinationCode,
		ev.Volume.Value.String(),
		ev.AppliedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
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

func transfersQuery(ctx context.Context, db dbtx, date hydro.Month) ([]hydro.TransferEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT calc_date, source_code, destination_code, volume, applied_at
		FROM transfer_events
		WHERE calc_date = ?
		ORDER BY source_code, destination_code
	`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var events []hydro.TransferEvent
	for rows.Next() {
		var (
			ev     hydro.TransferEvent
			month  string
			volume string
			at     string
		)
		if err := rows.Scan(&month, &ev.SourceCode, &ev.DestinationCode, &volume, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		if ev.CalcDate, err = hydro.ParseMonth(month); err != nil {
			return nil, err
		}
		if ev.Volume, err = parseVolume(volume); err != nil {
			return nil, err
		}
		if ev.AppliedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("corrupt applied_at %q: %w", at, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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

// =============================================================================
// TRANSACTIONS (hydro.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(hydro.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.timeQuery("tx").ObserveDuration()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes Store calls through the open transaction. It bypasses the
// parent mutex, which WithTx already holds.
type txStore struct {
	tx *sql.Tx
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

// Setting keys understood by the Provider.
const (
	SettingClosureThreshold = "closure_threshold_pct"
	SettingScopeMode        = "transfer_scope_mode"
	SettingPilotAreas       = "transfer_pilot_areas"
	SettingHistoryEnabled   = "history_enabled"
	SettingHistoryMonths    = "history_months"
)

// Provider adapts a Store to the engine's provider interfaces. Constants,
// threshold, scope, and the history window are snapshotted in memory so
// per-parameter lookups never touch the database; call Reload after editing
// them. Facilities, sources, and measurements pass through to the store.
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
			// JSON array preferred; a bare comma list is accepted for
			// hand-edited databases.
			var areas []string
			if err := json.Unmarshal([]byte(raw), &areas); err != nil {
				areas = strings.Split(raw, ",")
			}
			scope.PilotAreas = areas
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
// HELPERS
// =============================================================================

func parseVolume(s string) (hydro.Volume, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return hydro.Volume{}, fmt.Errorf("corrupt volume %q: %w", s, err)
	}
	return hydro.NewVolumeFromDecimal(d), nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
