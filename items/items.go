// Package items implements the item orchestrator: transactional CRUD
// against one collection, composing the schema inspector, the access gate,
// the payload transformer, and the activity recorder. Every mutating call
// runs in a single transaction; nested services (batch elements, relational
// child writes, activity records) share the caller's transaction handle and
// never open their own.
package items

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/access"
	"github.com/tablekit/tablekit/activity"
	"github.com/tablekit/tablekit/dialect"
	"github.com/tablekit/tablekit/dialect/sql"
	"github.com/tablekit/tablekit/payload"
	"github.com/tablekit/tablekit/schema"
)

// Service orchestrates CRUD operations against one collection.
type Service struct {
	collection string
	conn       dialect.ExecQuerier
	dialect    string
	inspector  schema.Inspector
	gate       access.Gate
	transform  payload.Transformer
	recorder   activity.Recorder
	acc        *tablekit.Accountability
	userVar    string
	cache      tablekit.Cache
	cacheTTL   time.Duration
	log        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAccountability attaches the acting accountability. Mutations under an
// accountability are gated and recorded in the activity trail; without one
// the service acts as the trusted system context.
func WithAccountability(acc *tablekit.Accountability) Option {
	return func(s *Service) {
		s.acc = acc
	}
}

// WithActingUserVar publishes the acting user as the named session variable
// before every statement of an operation, so row-level-security policies in
// the database can read it. Operations without an accountability set
// nothing.
func WithActingUserVar(name string) Option {
	return func(s *Service) {
		s.userVar = name
	}
}

// WithGate installs the authorization gate. Without a gate every operation
// is permitted.
func WithGate(g access.Gate) Option {
	return func(s *Service) {
		s.gate = g
	}
}

// WithTransformer replaces the default payload transformer.
func WithTransformer(t payload.Transformer) Option {
	return func(s *Service) {
		s.transform = t
	}
}

// WithRecorder replaces the default activity recorder.
func WithRecorder(r activity.Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithCache enables the read-through result cache. Cached reads expire
// after ttl (zero means no expiry) and every mutation invalidates the
// collection's entries.
func WithCache(c tablekit.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// NewService builds a service for the collection over the driver.
func NewService(collection string, drv dialect.Driver, inspector schema.Inspector, opts ...Option) *Service {
	s := &Service{
		collection: collection,
		conn:       drv,
		dialect:    drv.Dialect(),
		inspector:  inspector,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transform == nil {
		s.transform = payload.New(inspector, s.dialect)
	}
	if s.recorder == nil {
		s.recorder = activity.NewLogger(s.dialect)
	}
	return s
}

// Collection returns the collection the service operates on.
func (s *Service) Collection() string {
	return s.collection
}

// withConn returns a copy of the service bound to the given statement
// handle. Child services of one logical operation are built this way so
// every statement runs on the same transaction.
func (s *Service) withConn(conn dialect.ExecQuerier) *Service {
	c := *s
	c.conn = conn
	return &c
}

// begin returns the transaction of the current operation. A handle that
// already is a transaction is reused and left to its owner; otherwise a
// fresh transaction is opened and owned by the caller.
func (s *Service) begin(ctx context.Context) (dialect.Tx, bool, error) {
	switch c := s.conn.(type) {
	case dialect.Tx:
		return c, false, nil
	case dialect.Driver:
		tx, err := c.Tx(ctx)
		return tx, err == nil, err
	default:
		return dialect.NopTx(s.conn), false, nil
	}
}

// inTx runs fn on a service bound to the operation's transaction,
// committing or rolling back only when this call opened it.
func (s *Service) inTx(ctx context.Context, fn func(tx *Service) error) error {
	tx, owned, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(s.withConn(tx)); err != nil {
		if owned {
			if rerr := tx.Rollback(); rerr != nil {
				err = fmt.Errorf("%w: rolling back: %v", err, rerr)
			}
		}
		return err
	}
	if owned {
		return tx.Commit()
	}
	return nil
}

// opCtx attaches the acting user session variable to the operation's
// context when one is configured.
func (s *Service) opCtx(ctx context.Context) context.Context {
	if s.userVar == "" || s.acc == nil {
		return ctx
	}
	return sql.WithVar(ctx, s.userVar, s.acc.User)
}

// gateValues passes a mutation payload through the access gate.
func (s *Service) gateValues(ctx context.Context, action tablekit.Action, item tablekit.Item) (tablekit.Item, error) {
	if s.gate == nil {
		return item, nil
	}
	return s.gate.ProcessValues(ctx, s.acc, action, s.collection, item)
}

// checkAccess verifies the keys are reachable for the action.
func (s *Service) checkAccess(ctx context.Context, action tablekit.Action, keys []tablekit.PrimaryKey) error {
	if s.gate == nil {
		return nil
	}
	return s.gate.CheckAccess(ctx, s.conn, s.acc, action, s.collection, keys)
}

// record writes one activity record per key. Mutations without an
// accountability leave no trail.
func (s *Service) record(ctx context.Context, action tablekit.Action, keys ...tablekit.PrimaryKey) error {
	if s.acc == nil || s.recorder == nil {
		return nil
	}
	records := make([]activity.Record, len(keys))
	for i, k := range keys {
		records[i] = activity.New(action, s.acc, s.collection, k)
	}
	return s.recorder.Log(ctx, s.conn, records)
}

// primary resolves the collection's primary key column.
func (s *Service) primary(ctx context.Context) (string, error) {
	return s.inspector.Primary(ctx, s.collection)
}

// columnsOnly drops payload fields that have no backing column, such as
// aliases and nested relational payloads.
func (s *Service) columnsOnly(ctx context.Context, item tablekit.Item) (tablekit.Item, error) {
	names, err := s.inspector.Columns(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	row := make(tablekit.Item, len(item))
	for _, n := range names {
		if v, ok := item[n]; ok {
			row[n] = v
		}
	}
	return row, nil
}

// invalidate drops the collection's cached reads after a mutation. A
// failing cache never fails the mutation.
func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	prefix := tablekit.CacheKey{Collection: s.collection}.Prefix()
	if err := s.cache.DeletePrefix(ctx, prefix); err != nil {
		s.log.WarnContext(ctx, "cache invalidation failed", "collection", s.collection, "error", err)
	}
}

// sortedColumns returns the row's column names in a stable order, so
// compiled statements are deterministic.
func sortedColumns(row tablekit.Item) []string {
	columns := make([]string, 0, len(row))
	for c := range row {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}

// insert writes one row and returns its key: the payload value when it
// carries the key column, otherwise the key generated by storage.
func (s *Service) insert(ctx context.Context, pk string, row tablekit.Item) (tablekit.PrimaryKey, error) {
	columns := sortedColumns(row)
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = row[c]
	}
	b := sql.Dialect(s.dialect).Insert(s.collection).Columns(columns...).Values(values...)
	if s.dialect == dialect.Postgres {
		q, args := b.Returning(pk).Query()
		rows := &sql.Rows{}
		if err := s.conn.Query(ctx, q, args, rows); err != nil {
			return nil, err
		}
		defer rows.Close()
		var key any
		if rows.Next() {
			if err := rows.Scan(&key); err != nil {
				return nil, err
			}
		}
		return key, rows.Err()
	}
	q, args := b.Query()
	var res sql.Result
	if err := s.conn.Exec(ctx, q, args, &res); err != nil {
		return nil, err
	}
	if key, ok := row[pk]; ok {
		return key, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return id, nil
}
