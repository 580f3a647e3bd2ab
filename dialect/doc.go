// Package dialect provides database dialect abstraction for the tablekit
// engine.
//
// This package defines the interfaces and types used for database-specific
// operations, allowing tablekit to serve collections stored in PostgreSQL,
// MySQL, SQLite or Oracle.
//
// # Dialect Constants
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//	dialect.Oracle   = "oracle"
//
// # Driver Interface
//
// The package defines the Driver interface for database operations:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// # Transaction Interface
//
// The Tx interface wraps Exec and Query with transaction control:
//
//	type Tx interface {
//	    ExecQuerier
//	    Commit() error
//	    Rollback() error
//	}
//
// # ExecQuerier Interface
//
// The ExecQuerier interface is implemented by both Driver and Tx. Services
// that must run inside their caller's transaction accept an ExecQuerier, so
// a parent operation can thread its open transaction handle through nested
// service calls.
//
// # Usage
//
// Opening a database connection:
//
//	import (
//	    "github.com/tablekit/tablekit/dialect"
//	    "github.com/tablekit/tablekit/dialect/sql"
//	)
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// # Sub-packages
//
//   - dialect/sql: SQL statement builders and driver implementation
//   - dialect/sql/sqljson: per-dialect JSON path compilers
package dialect
