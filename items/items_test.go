package items

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/activity"
	"github.com/tablekit/tablekit/dialect"
	"github.com/tablekit/tablekit/dialect/sql"
	"github.com/tablekit/tablekit/query"
	"github.com/tablekit/tablekit/schema"
)

func testInspector(t *testing.T) schema.Inspector {
	t.Helper()
	s, err := schema.NewSnapshot(
		[]schema.CollectionDef{
			{Name: "articles", Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, PrimaryKey: true, HasAutoIncrement: true},
				{Name: "title", Type: schema.TypeText},
				{Name: "status", Type: schema.TypeText},
				{Name: "meta", Type: schema.TypeJSON, Nullable: true},
			}},
			{Name: "settings", Singleton: true, Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, PrimaryKey: true, HasAutoIncrement: true},
				{Name: "site_name", Type: schema.TypeText, Default: "My Site"},
			}},
		},
		nil,
	)
	require.NoError(t, err)
	return s
}

func mockService(t *testing.T, name, collection string, opts ...Option) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(collection, sql.OpenDB(name, db), testInspector(t), opts...), mock
}

// recorderStub captures activity records instead of persisting them.
type recorderStub struct {
	mu      sync.Mutex
	records []activity.Record
}

func (r *recorderStub) Log(_ context.Context, _ dialect.ExecQuerier, records []activity.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

// gateStub permits everything and captures the keys passed to row checks.
type gateStub struct {
	checked [][]tablekit.PrimaryKey
}

func (g *gateStub) ProcessValues(_ context.Context, _ *tablekit.Accountability, _ tablekit.Action, _ string, item tablekit.Item) (tablekit.Item, error) {
	return item.Clone(), nil
}

func (g *gateStub) ProcessQuery(_ context.Context, _ *tablekit.Accountability, _ string, q *query.Query) (*query.Query, error) {
	return q.Clone(), nil
}

func (g *gateStub) CheckAccess(_ context.Context, _ dialect.ExecQuerier, _ *tablekit.Accountability, _ tablekit.Action, _ string, keys []tablekit.PrimaryKey) error {
	g.checked = append(g.checked, keys)
	return nil
}

func TestCreateOne(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "articles" \("status", "title"\) VALUES \(\?, \?\)`).
		WithArgs("draft", "hello").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	key, err := s.CreateOne(context.Background(), tablekit.Item{
		"title":    "hello",
		"status":   "draft",
		"computed": "dropped before insert",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOnePostgres(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.Postgres, "articles")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "articles" \("title"\) VALUES \(\$1\) RETURNING "id"`).
		WithArgs("hello").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectCommit()

	key, err := s.CreateOne(context.Background(), tablekit.Item{"title": "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateManyRollsBack(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "articles"`).
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO "articles"`).
		WithArgs("b").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	keys, err := s.CreateMany(context.Background(), []tablekit.Item{
		{"title": "a"},
		{"title": "b"},
	})
	require.ErrorContains(t, err, "disk full")
	assert.Nil(t, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRecordsActivity(t *testing.T) {
	t.Parallel()
	rec := &recorderStub{}
	acc := &tablekit.Accountability{User: "u1", Role: "editor"}
	s, mock := mockService(t, dialect.SQLite, "articles",
		WithAccountability(acc), WithRecorder(rec))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "articles"`).WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectCommit()

	_, err := s.CreateOne(context.Background(), tablekit.Item{"title": "hello"})
	require.NoError(t, err)
	require.Len(t, rec.records, 1)
	assert.Equal(t, tablekit.ActionCreate, rec.records[0].Action)
	assert.Equal(t, "u1", rec.records[0].ActionBy)
	assert.Equal(t, "5", rec.records[0].Item)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMany(t *testing.T) {
	t.Parallel()
	rec := &recorderStub{}
	gate := &gateStub{}
	s, mock := mockService(t, dialect.SQLite, "articles",
		WithAccountability(&tablekit.Accountability{User: "u1"}),
		WithGate(gate), WithRecorder(rec))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "articles" SET "status" = \? WHERE "id" IN \(\?, \?\)`).
		WithArgs("published", 1, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	keys, err := s.UpdateMany(context.Background(), []tablekit.PrimaryKey{1, 2}, tablekit.Item{"status": "published"})
	require.NoError(t, err)
	assert.Equal(t, []tablekit.PrimaryKey{1, 2}, keys)
	assert.Equal(t, [][]tablekit.PrimaryKey{{1, 2}}, gate.checked)
	require.Len(t, rec.records, 2)
	assert.Equal(t, tablekit.ActionUpdate, rec.records[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOneStripsPrimaryKey(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")

	// The payload's own key column never reaches the SET clause.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "articles" SET "title" = \? WHERE "id" IN \(\?\)`).
		WithArgs("renamed", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := s.UpdateOne(context.Background(), 1, tablekit.Item{"id": 99, "title": "renamed"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBatch(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "articles" SET "title" = \? WHERE "id" IN \(\?\)`).
		WithArgs("first", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "articles" SET "status" = \? WHERE "id" IN \(\?\)`).
		WithArgs("archived", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	keys, err := s.UpdateBatch(context.Background(), []tablekit.Item{
		{"id": 1, "title": "first"},
		{"id": 2, "status": "archived"},
	})
	require.NoError(t, err)
	assert.Equal(t, []tablekit.PrimaryKey{1, 2}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBatchRequiresPrimaryKey(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")

	// The first element writes, the second aborts and rolls everything back.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "articles"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	keys, err := s.UpdateBatch(context.Background(), []tablekit.Item{
		{"id": 1, "title": "first"},
		{"title": "keyless"},
	})
	require.True(t, tablekit.IsInvalidPayload(err))
	assert.Contains(t, err.Error(), `missing the primary key field "id"`)
	assert.Nil(t, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMany(t *testing.T) {
	t.Parallel()
	rec := &recorderStub{}
	gate := &gateStub{}
	s, mock := mockService(t, dialect.SQLite, "articles",
		WithAccountability(&tablekit.Accountability{User: "u1"}),
		WithGate(gate), WithRecorder(rec))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "articles" WHERE "id" IN \(\?, \?\)`).
		WithArgs(1, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteMany(context.Background(), []tablekit.PrimaryKey{1, 2}))
	assert.Equal(t, [][]tablekit.PrimaryKey{{1, 2}}, gate.checked)
	require.Len(t, rec.records, 2)
	assert.Equal(t, tablekit.ActionDelete, rec.records[1].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteManyEmpty(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")
	require.NoError(t, s.DeleteMany(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutationsOnPlainHandle(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	drv := sql.OpenDB(dialect.SQLite, db)
	s := NewService("articles", drv, testInspector(t)).withConn(drv.Conn)

	// A bare statement handle is neither a driver nor a transaction, so the
	// mutation runs on it directly without opening one.
	mock.ExpectExec(`INSERT INTO "articles" \("title"\) VALUES \(\?\)`).
		WithArgs("hello").
		WillReturnResult(sqlmock.NewResult(9, 1))

	key, err := s.CreateOne(context.Background(), tablekit.Item{"title": "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActingUserSessionVar(t *testing.T) {
	t.Parallel()
	acc := &tablekit.Accountability{User: "u1", Role: "editor"}

	// Reads on a pooled handle set the variable on a dedicated connection
	// and reset it when the result rows are closed.
	s, mock := mockService(t, dialect.Postgres, "articles",
		WithAccountability(acc), WithActingUserVar("app.current_user"))
	mock.ExpectExec(`SET app\.current_user = 'u1'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "articles"\.\* FROM "articles"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`RESET app\.current_user`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	items, err := s.ReadByQuery(context.Background(), &query.Query{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	require.NoError(t, mock.ExpectationsWereMet())

	// Mutations set it on the operation's transaction before the statement.
	s, mock = mockService(t, dialect.SQLite, "articles",
		WithAccountability(acc), WithActingUserVar("app.current_user"),
		WithRecorder(&recorderStub{}))
	mock.ExpectBegin()
	mock.ExpectExec(`SET app\.current_user = 'u1'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "articles" \("title"\) VALUES \(\?\)`).
		WithArgs("hello").
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	_, err = s.CreateOne(context.Background(), tablekit.Item{"title": "hello"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	// Without an accountability the variable is never published.
	s, mock = mockService(t, dialect.SQLite, "articles", WithActingUserVar("app.current_user"))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "articles" \("title"\) VALUES \(\?\)`).
		WithArgs("quiet").
		WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectCommit()

	_, err = s.CreateOne(context.Background(), tablekit.Item{"title": "quiet"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadByQuery(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")

	mock.ExpectQuery(`SELECT "articles"\."id", "articles"\."title" FROM "articles" WHERE "articles"\."status" = \? ORDER BY "articles"\."id" DESC LIMIT 10 OFFSET 5`).
		WithArgs("published").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).
			AddRow(int64(2), "b").
			AddRow(int64(1), "a"))

	items, err := s.ReadByQuery(context.Background(), &query.Query{
		Fields: []string{"id", "title"},
		Filter: query.Filter{"status": "published"},
		Sort:   []query.Sort{{Field: "id", Desc: true}},
		Limit:  10,
		Offset: 5,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, tablekit.Item{"id": int64(2), "title": "b"}, items[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadDecodesStorageValues(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")

	mock.ExpectQuery(`SELECT "articles"\.\* FROM "articles"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "meta"}).
			AddRow(int64(1), `{"tags":["go"]}`))

	items, err := s.ReadByQuery(context.Background(), &query.Query{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{"tags": []any{"go"}}, items[0]["meta"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadOneNotFound(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")

	mock.ExpectQuery(`SELECT "articles"\.\* FROM "articles" WHERE "articles"\."id" = \?`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.ReadOne(context.Background(), 42, &query.Query{})
	require.True(t, tablekit.IsNotFound(err))
	var nerr *tablekit.NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, 42, nerr.Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadManyMergesKeyFilter(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")

	mock.ExpectQuery(`SELECT "articles"\.\* FROM "articles" WHERE \("articles"\."status" = \?\) AND \("articles"\."id" IN \(\?, \?\)\)`).
		WithArgs("published", 1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	items, err := s.ReadMany(context.Background(), []tablekit.PrimaryKey{1, 2}, &query.Query{
		Filter: query.Filter{"status": "published"},
	})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	// Missing keys do not fail the read, and an empty key set is a no-op.
	items, err = s.ReadMany(context.Background(), nil, &query.Query{})
	require.NoError(t, err)
	assert.Nil(t, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadSingletonDefaults(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "settings")

	// An empty singleton synthesizes its row from the declared defaults.
	mock.ExpectQuery(`SELECT "settings"\.\* FROM "settings" LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	item, err := s.ReadSingleton(context.Background(), &query.Query{})
	require.NoError(t, err)
	assert.Equal(t, "My Site", item["site_name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSingleton(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// An existing row is updated in place.
	s, mock := mockService(t, dialect.SQLite, "settings")
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id" FROM "settings" LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`UPDATE "settings" SET "site_name" = \? WHERE "id" IN \(\?\)`).
		WithArgs("Renamed", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	key, err := s.UpsertSingleton(ctx, tablekit.Item{"site_name": "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), key)
	require.NoError(t, mock.ExpectationsWereMet())

	// An empty collection creates the row instead.
	s, mock = mockService(t, dialect.SQLite, "settings")
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id" FROM "settings" LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO "settings" \("site_name"\) VALUES \(\?\)`).
		WithArgs("Fresh").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	key, err = s.UpsertSingleton(ctx, tablekit.Item{"site_name": "Fresh"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), key)
	require.NoError(t, mock.ExpectationsWereMet())
}

// memCache is an in-memory Cache for exercising the read-through path.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache { return &memCache{entries: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *memCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]byte{}
	return nil
}

func TestReadThroughCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := newMemCache()
	s, mock := mockService(t, dialect.SQLite, "articles", WithCache(cache, time.Minute))
	q := &query.Query{Filter: query.Filter{"status": "published"}}

	// The first read hits storage and populates the cache; the second is
	// served without a statement.
	mock.ExpectQuery(`SELECT "articles"\.\* FROM "articles"`).
		WithArgs("published").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(int64(1), "a"))

	for i := 0; i < 2; i++ {
		items, err := s.ReadByQuery(ctx, q)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "a", items[0]["title"])
	}
	require.NoError(t, mock.ExpectationsWereMet())

	// A mutation invalidates the collection's entries, so the next read hits
	// storage again.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "articles"`).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()
	_, err := s.CreateOne(ctx, tablekit.Item{"title": "b"})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT "articles"\.\* FROM "articles"`).
		WithArgs("published").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(int64(1), "a"))
	_, err = s.ReadByQuery(ctx, q)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJSONPathFilter(t *testing.T) {
	t.Parallel()
	s, mock := mockService(t, dialect.SQLite, "articles")

	// A filter field of the form "column$.path" compiles through the
	// dialect's JSON extraction.
	mock.ExpectQuery(`SELECT "articles"\.\* FROM "articles" WHERE json_extract\("articles"\."meta", '\$\.rating'\) > \?`).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	items, err := s.ReadByQuery(context.Background(), &query.Query{
		Filter: query.Filter{"meta$.rating": map[string]any{"_gt": 4}},
	})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
