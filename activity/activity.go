// Package activity records the audit trail of the engine: one record per
// affected key per accountable mutation, written through the same
// transaction as the mutation itself so the trail never drifts from the
// data.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/dialect"
	"github.com/tablekit/tablekit/dialect/sql"
)

// Record is one audit trail entry.
type Record struct {
	ID         uuid.UUID
	Action     tablekit.Action
	ActionBy   string
	Collection string
	Item       string
	IP         string
	UserAgent  string
	Timestamp  time.Time
}

// New builds a record for one affected key under the given accountability.
func New(action tablekit.Action, acc *tablekit.Accountability, collection string, key tablekit.PrimaryKey) Record {
	r := Record{
		ID:         uuid.New(),
		Action:     action,
		Collection: collection,
		Item:       fmt.Sprint(key),
		Timestamp:  time.Now().UTC(),
	}
	if acc != nil {
		r.ActionBy = acc.User
		r.IP = acc.IP
		r.UserAgent = acc.UserAgent
	}
	return r
}

// Recorder persists audit records. Implementations write through the given
// statement handle so records commit and roll back with the mutation.
type Recorder interface {
	Log(ctx context.Context, conn dialect.ExecQuerier, records []Record) error
}

// DefaultTable is the activity table the Logger writes to unless
// configured otherwise.
const DefaultTable = "tablekit_activity"

// Logger is the default Recorder, inserting one row per record.
type Logger struct {
	dialect string
	table   string
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithTable overrides the activity table name.
func WithTable(table string) LoggerOption {
	return func(l *Logger) {
		l.table = table
	}
}

// NewLogger builds a Logger for the given SQL dialect.
func NewLogger(name string, opts ...LoggerOption) *Logger {
	l := &Logger{dialect: name, table: DefaultTable}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log implements the Recorder interface.
func (l *Logger) Log(ctx context.Context, conn dialect.ExecQuerier, records []Record) error {
	for _, r := range records {
		q, args := sql.Dialect(l.dialect).
			Insert(l.table).
			Columns("id", "action", "action_by", "collection", "item", "ip", "user_agent", "timestamp").
			Values(r.ID.String(), string(r.Action), r.ActionBy, r.Collection, r.Item, r.IP, r.UserAgent, r.Timestamp).
			Query()
		if err := conn.Exec(ctx, q, args, nil); err != nil {
			return fmt.Errorf("activity: recording %s on %q: %w", r.Action, r.Collection, err)
		}
	}
	return nil
}
