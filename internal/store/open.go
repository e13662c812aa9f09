package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rileyhilliard/ntpwatch/internal/errors"
	"github.com/rileyhilliard/ntpwatch/internal/logger"
)

// URL schemes accepted by Open.
const (
	SchemePostgres   = "postgres://"
	SchemePostgreSQL = "postgresql://"
	SchemeSQLite     = "sqlite://"
	SchemeMemory     = "memory://"
)

// OpenOptions configure Open.
type OpenOptions struct {
	URL   string
	Table string
	// Migrate creates the Postgres schema and table. SQLite and memory
	// stores always create theirs.
	Migrate bool
	Log     logger.Logger
}

// ValidateURL checks that url names a supported backend. Empty is valid and
// disables persistence.
func ValidateURL(url string) error {
	switch {
	case url == "",
		strings.HasPrefix(url, SchemePostgres),
		strings.HasPrefix(url, SchemePostgreSQL),
		strings.HasPrefix(url, SchemeMemory):
		return nil
	case strings.HasPrefix(url, SchemeSQLite):
		if strings.TrimPrefix(url, SchemeSQLite) == "" {
			return errors.New(errors.ErrConfig, "DATABASE_URL has no SQLite path",
				"Use sqlite:///var/lib/ntpwatch/samples.db")
		}
		return nil
	default:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unsupported DATABASE_URL scheme in %q", RedactURL(url)),
			"Use postgres://, sqlite:// or memory://, or leave it empty to disable persistence")
	}
}

// Open returns the store for opts.URL. An empty URL yields a store that
// discards writes and reads back nothing.
func Open(ctx context.Context, opts OpenOptions) (Store, error) {
	if err := ValidateURL(opts.URL); err != nil {
		return nil, err
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	log := opts.Log
	if log == nil {
		log = logger.Noop()
	}

	switch {
	case opts.URL == "":
		return Discard{}, nil
	case strings.HasPrefix(opts.URL, SchemeMemory):
		return NewMemory(0), nil
	case strings.HasPrefix(opts.URL, SchemeSQLite):
		return OpenSQLite(ctx, strings.TrimPrefix(opts.URL, SchemeSQLite), opts.Table, log)
	default:
		pg, err := NewPostgres(opts.URL, opts.Table, log)
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, err
			}
			log.Info("ensured table %s", opts.Table)
		}
		return pg, nil
	}
}

// RedactURL hides credentials in a connection URL.
func RedactURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return url
	}
	return scheme + "://***@" + rest[at+1:]
}

// Discard is the Store used when persistence is disabled.
type Discard struct{}

// Insert implements Sink.
func (Discard) Insert(context.Context, MetricSample) error { return nil }

// Latest implements Reader.
func (Discard) Latest(context.Context) (*MetricSample, error) { return nil, nil }

// OffsetBuckets implements Reader.
func (Discard) OffsetBuckets(_ context.Context, window, interval string) ([]OffsetBucket, error) {
	_, _, err := resolveRange(window, interval)
	return nil, err
}

// Close implements Store.
func (Discard) Close() error { return nil }
