package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
)

// sqliteTimeLayout is fixed width so text ordering equals time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite keeps samples in a local database file. Aggregation happens in Go
// since SQLite has neither date_bin nor percentile_cont.
type SQLite struct {
	db    *sql.DB
	table string
	log   logger.Logger
	now   func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// table exists. Only the last element of a schema-qualified table is used.
func OpenSQLite(ctx context.Context, path, table string, log logger.Logger) (*SQLite, error) {
	ident, err := ParseTable(table)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Noop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink,
			fmt.Sprintf("Failed to open SQLite database %s", path), "")
	}
	// One connection: SQLite serializes writers anyway, and ":memory:"
	// databases are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{
		db:    db,
		table: ident[len(ident)-1],
		log:   log,
		now:   time.Now,
	}

	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		s.log.Debug("sqlite: busy_timeout not applied: %v", err)
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
	ts TEXT PRIMARY KEY,
	last_offset_sec REAL,
	stratum INTEGER,
	total_sources INTEGER NOT NULL,
	leap_status TEXT,
	gps_mode TEXT NOT NULL,
	selected_source TEXT,
	gps_summary TEXT NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return errors.WrapWithCode(err, errors.ErrSink,
			fmt.Sprintf("Failed to create table %s", s.table), "")
	}
	return nil
}

// Insert implements Sink.
func (s *SQLite) Insert(ctx context.Context, m MetricSample) error {
	ts := m.TS
	if ts.IsZero() {
		ts = s.now()
	}

	query := fmt.Sprintf(`INSERT INTO %q
	(ts, last_offset_sec, stratum, total_sources, leap_status, gps_mode, selected_source, gps_summary)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (ts) DO NOTHING`, s.table)

	_, err := s.db.ExecContext(ctx, query,
		formatSQLiteTime(ts), m.LastOffsetSec, m.Stratum, m.TotalSources,
		m.LeapStatus, m.GPSMode, m.SelectedSource, m.GPSSummary)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSink,
			fmt.Sprintf("DB write to %s failed", s.table), "")
	}
	return nil
}

// Latest implements Reader.
func (s *SQLite) Latest(ctx context.Context) (*MetricSample, error) {
	query := fmt.Sprintf(`SELECT ts, last_offset_sec, stratum, total_sources, leap_status, gps_mode, selected_source, gps_summary
FROM %q ORDER BY ts DESC LIMIT 1`, s.table)

	var (
		m        MetricSample
		ts       string
		offset   sql.NullFloat64
		stratum  sql.NullInt64
		leap     sql.NullString
		selected sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&ts, &offset, &stratum, &m.TotalSources, &leap, &m.GPSMode, &selected, &m.GPSSummary)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink,
			fmt.Sprintf("Failed to read latest sample from %s", s.table), "")
	}

	if m.TS, err = parseSQLiteTime(ts); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink, "Corrupt timestamp in "+s.table, "")
	}
	if offset.Valid {
		m.LastOffsetSec = &offset.Float64
	}
	if stratum.Valid {
		n := int(stratum.Int64)
		m.Stratum = &n
	}
	if leap.Valid {
		m.LeapStatus = &leap.String
	}
	if selected.Valid {
		m.SelectedSource = &selected.String
	}
	return &m, nil
}

// OffsetBuckets implements Reader.
func (s *SQLite) OffsetBuckets(ctx context.Context, window, interval string) ([]OffsetBucket, error) {
	w, i, err := resolveRange(window, interval)
	if err != nil {
		return nil, err
	}

	cutoff := formatSQLiteTime(s.now().Add(-w.duration))
	query := fmt.Sprintf(`SELECT ts, last_offset_sec FROM %q WHERE ts >= ? ORDER BY ts`, s.table)

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink,
			fmt.Sprintf("Offset query on %s failed", s.table), "")
	}
	defer rows.Close()

	var collected []offsetRow
	for rows.Next() {
		var (
			ts     string
			offset sql.NullFloat64
		)
		if err := rows.Scan(&ts, &offset); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSink, "Offset scan failed", "")
		}
		t, err := parseSQLiteTime(ts)
		if err != nil {
			s.log.Warn("sqlite: skipping row with bad timestamp %q", ts)
			continue
		}
		r := offsetRow{ts: t}
		if offset.Valid {
			v := offset.Float64
			r.offset = &v
		}
		collected = append(collected, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink, "Offset scan failed", "")
	}

	return aggregateOffsets(collected, i.duration), nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatSQLiteTime(t time.Time) string {
	return normalizeTS(t).Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}
