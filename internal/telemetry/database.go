package telemetry

import (
	"database/sql"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenDB opens an instrumented connection so every checkout transaction and
// status update shows up as spans under the request trace.
func OpenDB(driverName, dsn string) (*sql.DB, error) {
	return otelsql.Open(driverName, dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
}
