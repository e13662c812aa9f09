package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "samples.db")
	s, err := OpenSQLite(context.Background(), path, DefaultTable, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_Conformance(t *testing.T) {
	s := openTestSQLite(t)
	assert.Equal(t, "ntp_parent", s.table)
	conformance(t, s, func(now time.Time) { s.now = func() time.Time { return now } })
}

func TestSQLite_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.db")
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	s, err := OpenSQLite(ctx, path, "samples", nil)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, MetricSample{TS: ts, TotalSources: 4, GPSMode: GPSModeFix, Stratum: ptr(1)}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, "samples", nil)
	require.NoError(t, err)
	defer s.Close()

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, ts.Equal(latest.TS))
	assert.Equal(t, 4, latest.TotalSources)
	assert.Equal(t, 1, *latest.Stratum)
}

func TestSQLite_InsertIsIdempotent(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	m := MetricSample{TS: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), GPSMode: GPSModeFix, TotalSources: 1}

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert(ctx, m))
	}

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM "ntp_parent"`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLite_TimestampsOrderAsText(t *testing.T) {
	a := formatSQLiteTime(time.Date(2025, 1, 1, 0, 0, 0, 5, time.UTC))
	b := formatSQLiteTime(time.Date(2025, 1, 1, 0, 0, 0, 500000000, time.UTC))
	assert.Len(t, a, len(b))
	assert.Less(t, a, b)

	parsed, err := parseSQLiteTime(b)
	require.NoError(t, err)
	assert.Equal(t, 500, parsed.Nanosecond()/1000000)
}

func TestOpenSQLite_BadTable(t *testing.T) {
	_, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "x.db"), "bad-name", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}
