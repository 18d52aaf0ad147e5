package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store wraps the analytics database and provides the raw click log and the
// daily aggregate table. It speaks either embedded SQLite (the default) or
// PostgreSQL, selected by the DSN.
type Store struct {
	db     *sql.DB
	driver string // "sqlite" or "pgx"

	// now is the clock used for server-assigned timestamps and rollup
	// cutoffs. Tests replace it to simulate the passage of time.
	now func() time.Time
}

// NewStore opens the database named by dsn and bootstraps the schema.
// A dsn beginning with postgres:// or postgresql:// selects PostgreSQL;
// anything else is treated as a SQLite file path.
func NewStore(dsn string) (*Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return newPostgresStore(dsn)
	}
	return newSQLiteStore(dsn)
}

func newSQLiteStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	// WAL for concurrent read/write, busy_timeout so writers wait instead of
	// failing with SQLITE_BUSY, synchronous=NORMAL is safe under WAL.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	s := &Store{db: db, driver: "sqlite", now: time.Now}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func newPostgresStore(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, driver: "pgx", now: time.Now}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Now returns the store's current UTC time.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS guide_clicks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    guide_id TEXT NOT NULL,
    guide_title TEXT,
    href TEXT,
    event_type TEXT NOT NULL DEFAULT 'guide',
    ua TEXT,
    ts_utc TIMESTAMP NOT NULL,
    aggregated INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_clicks_ts ON guide_clicks(ts_utc);
CREATE INDEX IF NOT EXISTS idx_clicks_gid ON guide_clicks(guide_id);
CREATE INDEX IF NOT EXISTS idx_clicks_agg ON guide_clicks(aggregated);

CREATE TABLE IF NOT EXISTS guide_clicks_daily (
    day TEXT NOT NULL,
    guide_id TEXT NOT NULL,
    clicks INTEGER NOT NULL,
    PRIMARY KEY (day, guide_id)
);

CREATE INDEX IF NOT EXISTS idx_daily_gid ON guide_clicks_daily(guide_id);
CREATE INDEX IF NOT EXISTS idx_daily_date ON guide_clicks_daily(day);
`

// Postgres variant: bigserial id, timestamptz, otherwise the same layout.
// day stays TEXT (YYYY-MM-DD) in both engines so queries share SQL.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS guide_clicks (
    id BIGSERIAL PRIMARY KEY,
    guide_id TEXT NOT NULL,
    guide_title TEXT,
    href TEXT,
    event_type TEXT NOT NULL DEFAULT 'guide',
    ua TEXT,
    ts_utc TIMESTAMPTZ NOT NULL,
    aggregated INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_clicks_ts ON guide_clicks(ts_utc);
CREATE INDEX IF NOT EXISTS idx_clicks_gid ON guide_clicks(guide_id);
CREATE INDEX IF NOT EXISTS idx_clicks_agg ON guide_clicks(aggregated);

CREATE TABLE IF NOT EXISTS guide_clicks_daily (
    day TEXT NOT NULL,
    guide_id TEXT NOT NULL,
    clicks INTEGER NOT NULL,
    PRIMARY KEY (day, guide_id)
);

CREATE INDEX IF NOT EXISTS idx_daily_gid ON guide_clicks_daily(guide_id);
CREATE INDEX IF NOT EXISTS idx_daily_date ON guide_clicks_daily(day);
`

func (s *Store) ensureSchema() error {
	schema := sqliteSchema
	if s.driver == "pgx" {
		schema = postgresSchema
	}
	_, err := s.db.Exec(schema)
	return err
}

// rebind converts ?-style placeholders to $n for the pgx driver.
// All store SQL is written with ? and contains no literal question marks.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// upsertDailySQL increments an existing (day, guide_id) row or creates it.
func (s *Store) upsertDailySQL() string {
	if s.driver == "pgx" {
		return `INSERT INTO guide_clicks_daily (day, guide_id, clicks) VALUES ($1, $2, $3)
			ON CONFLICT (day, guide_id) DO UPDATE SET clicks = guide_clicks_daily.clicks + EXCLUDED.clicks`
	}
	return `INSERT INTO guide_clicks_daily (day, guide_id, clicks) VALUES (?, ?, ?)
		ON CONFLICT(day, guide_id) DO UPDATE SET clicks = clicks + excluded.clicks`
}

// InsertClick appends one raw click row. All parameters are bound; nothing
// from the request is ever interpolated into SQL.
func (s *Store) InsertClick(ctx context.Context, ev *ClickEvent) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO guide_clicks (guide_id, guide_title, href, event_type, ua, ts_utc) VALUES (?, ?, ?, ?, ?, ?)`),
		ev.GuideID, ev.GuideTitle, ev.Href, string(ev.EventType), ev.UserAgent, ev.Timestamp.UTC())
	return err
}

// RawCount returns the number of raw click rows. Used by the admin surface
// and by the auth-gate tests to assert that rejected calls mutate nothing.
func (s *Store) RawCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM guide_clicks`).Scan(&n)
	return n, err
}

// DailyCount returns the number of daily aggregate rows.
func (s *Store) DailyCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM guide_clicks_daily`).Scan(&n)
	return n, err
}
