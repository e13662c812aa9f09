package store

import (
	"context"
	stderrors "errors"
	"net"
	"os"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// retryDelays are the waits between attempts; len+1 attempts are made.
var retryDelays = []time.Duration{500 * time.Millisecond, 2 * time.Second}

// withRetry runs fn until it succeeds, fails with a permanent error, or the
// delays run out. Waiting stops early when ctx is done.
func withRetry(ctx context.Context, delays []time.Duration, fn func() error) error {
	err := fn()
	for _, delay := range delays {
		if err == nil || !isRetriable(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		err = fn()
	}
	return err
}

var retriableCodes = map[string]struct{}{
	pgerrcode.ConnectionException:                           {},
	pgerrcode.ConnectionDoesNotExist:                        {},
	pgerrcode.ConnectionFailure:                             {},
	pgerrcode.SQLClientUnableToEstablishSQLConnection:       {},
	pgerrcode.SQLServerRejectedEstablishmentOfSQLConnection: {},
	pgerrcode.TransactionResolutionUnknown:                  {},
	pgerrcode.SerializationFailure:                          {},
	pgerrcode.DeadlockDetected:                              {},
	pgerrcode.TooManyConnections:                            {},
	pgerrcode.CannotConnectNow:                              {},
	pgerrcode.AdminShutdown:                                 {},
}

// isRetriable reports whether err is transient: a connection-class Postgres
// error or a network failure.
func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		_, ok := retriableCodes[pgErr.Code]
		return ok
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if stderrors.As(err, &connectErr) {
		return true
	}

	return os.IsTimeout(err) || pgconn.Timeout(err)
}
