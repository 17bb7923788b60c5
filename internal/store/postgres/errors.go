package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/keylink-bridge/internal/store"
)

const constraintEnvelopePK = "message_envelope_pkey"

// pgErrorClasses groups server error codes under the prefix used when wrapping them.
var pgErrorClasses = map[string]string{
	pgerrcode.CheckViolation:       "check constraint violation",
	pgerrcode.SerializationFailure: "transaction conflict (retryable)",
	pgerrcode.DeadlockDetected:     "transaction conflict (retryable)",
	pgerrcode.QueryCanceled:        "query canceled",

	pgerrcode.ConnectionException:                     "database connection error",
	pgerrcode.ConnectionDoesNotExist:                  "database connection error",
	pgerrcode.ConnectionFailure:                       "database connection error",
	pgerrcode.CannotConnectNow:                        "database connection error",
	pgerrcode.SQLClientUnableToEstablishSQLConnection: "database connection error",

	pgerrcode.AdminShutdown: "database server unavailable",
	pgerrcode.CrashShutdown: "database server unavailable",

	pgerrcode.InsufficientResources: "database resource limit",
	pgerrcode.DiskFull:              "database resource limit",
	pgerrcode.OutOfMemory:           "database resource limit",
	pgerrcode.TooManyConnections:    "database resource limit",
}

// mapPostgresError turns a duplicate envelope insert into store.ErrEnvelopeAlreadyExists and
// labels other server errors. Non-postgres errors pass through.
func mapPostgresError(err error) error {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return err
	}

	if pgErr.Code == pgerrcode.UniqueViolation {
		if pgErr.ConstraintName == constraintEnvelopePK {
			return store.ErrEnvelopeAlreadyExists
		}
		return fmt.Errorf("unique constraint violation: %s: %w", pgErr.ConstraintName, err)
	}

	if class, ok := pgErrorClasses[pgErr.Code]; ok {
		return fmt.Errorf("%s: %w", class, err)
	}

	return fmt.Errorf("postgres error [%s]: %s (detail: %s): %w", pgErr.Code, pgErr.Message, pgErr.Detail, err)
}
