package items

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/access"
	"github.com/tablekit/tablekit/dialect"
	"github.com/tablekit/tablekit/dialect/sql"
	"github.com/tablekit/tablekit/query"
	"github.com/tablekit/tablekit/schema"
)

const integrationSchema = `
CREATE TABLE authors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);
CREATE TABLE articles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	meta TEXT,
	author_id INTEGER REFERENCES authors (id)
);
CREATE TABLE comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	article_id INTEGER NOT NULL REFERENCES articles (id),
	body TEXT NOT NULL
);
CREATE TABLE settings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	site_name TEXT NOT NULL
);
CREATE TABLE tablekit_activity (
	id TEXT PRIMARY KEY,
	action TEXT NOT NULL,
	action_by TEXT NOT NULL,
	collection TEXT NOT NULL,
	item TEXT NOT NULL,
	ip TEXT NOT NULL,
	user_agent TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);
`

func integrationInspector(t *testing.T) schema.Inspector {
	t.Helper()
	s, err := schema.NewSnapshot(
		[]schema.CollectionDef{
			{Name: "authors", Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, PrimaryKey: true, HasAutoIncrement: true},
				{Name: "name", Type: schema.TypeText},
			}},
			{Name: "articles", Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, PrimaryKey: true, HasAutoIncrement: true},
				{Name: "title", Type: schema.TypeText},
				{Name: "status", Type: schema.TypeText, Default: "draft"},
				{Name: "meta", Type: schema.TypeJSON, Nullable: true},
				{Name: "author_id", Type: schema.TypeInteger, Nullable: true},
			}},
			{Name: "comments", Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, PrimaryKey: true, HasAutoIncrement: true},
				{Name: "article_id", Type: schema.TypeInteger},
				{Name: "body", Type: schema.TypeText},
			}},
			{Name: "settings", Singleton: true, Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, PrimaryKey: true, HasAutoIncrement: true},
				{Name: "site_name", Type: schema.TypeText, Default: "My Site"},
			}},
			{Name: "tablekit_activity", Columns: []schema.Column{
				{Name: "id", Type: schema.TypeText, PrimaryKey: true},
				{Name: "action", Type: schema.TypeText},
				{Name: "action_by", Type: schema.TypeText},
				{Name: "collection", Type: schema.TypeText},
				{Name: "item", Type: schema.TypeText},
				{Name: "ip", Type: schema.TypeText},
				{Name: "user_agent", Type: schema.TypeText},
				{Name: "timestamp", Type: schema.TypeDatetime},
			}},
		},
		[]schema.Relation{
			{Collection: "articles", Field: "author_id", Related: "authors", RelatedField: "id", Kind: schema.M2O},
			{Collection: "comments", Field: "article_id", Related: "articles", RelatedField: "id", Kind: schema.M2O},
		},
	)
	require.NoError(t, err)
	return s
}

func integrationDriver(t *testing.T, name string) *sql.Driver {
	t.Helper()
	drv, err := sql.Open(dialect.SQLite, "file:"+name+"?mode=memory&cache=shared&_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	ctx := context.Background()
	for _, stmt := range strings.Split(integrationSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		require.NoError(t, drv.Exec(ctx, stmt, []any{}, nil))
	}
	return drv
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := integrationDriver(t, "items_lifecycle")
	inspector := integrationInspector(t)
	acc := &tablekit.Accountability{User: "u1", Admin: true, IP: "10.0.0.1"}
	articles := NewService("articles", drv, inspector, WithAccountability(acc))

	// Create with a nested author and nested comments in one transaction.
	key, err := articles.CreateOne(ctx, tablekit.Item{
		"title":     "Hello",
		"status":    "published",
		"meta":      map[string]any{"tags": []any{"go", "sql"}, "rating": 5},
		"author_id": map[string]any{"name": "Ann"},
		"comments": []any{
			map[string]any{"body": "first!"},
			map[string]any{"body": "second"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, key)

	item, err := articles.ReadOne(ctx, key, &query.Query{})
	require.NoError(t, err)
	assert.Equal(t, "Hello", item["title"])
	assert.Equal(t, map[string]any{"tags": []any{"go", "sql"}, "rating": float64(5)}, item["meta"])
	assert.Equal(t, int64(1), item["author_id"])

	comments := NewService("comments", drv, inspector)
	children, err := comments.ReadByQuery(ctx, &query.Query{
		Filter: query.Filter{"article_id": key},
		Sort:   []query.Sort{{Field: "id"}},
	})
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "first!", children[0]["body"])

	// Update, then verify both the row and the audit trail.
	_, err = articles.UpdateOne(ctx, key, tablekit.Item{"status": "archived"})
	require.NoError(t, err)
	item, err = articles.ReadOne(ctx, key, &query.Query{Fields: []string{"status"}})
	require.NoError(t, err)
	assert.Equal(t, "archived", item["status"])

	trail := NewService("tablekit_activity", drv, inspector)
	records, err := trail.ReadByQuery(ctx, &query.Query{
		Filter: query.Filter{"collection": "articles"},
		Sort:   []query.Sort{{Field: "action"}},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "create", records[0]["action"])
	assert.Equal(t, "update", records[1]["action"])
	assert.Equal(t, "u1", records[0]["action_by"])

	// Delete the comments, then the article.
	require.NoError(t, comments.DeleteMany(ctx, []tablekit.PrimaryKey{children[0]["id"], children[1]["id"]}))
	require.NoError(t, articles.DeleteOne(ctx, key))
	_, err = articles.ReadOne(ctx, key, &query.Query{})
	assert.True(t, tablekit.IsNotFound(err))
}

func TestServiceJSONFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := integrationDriver(t, "items_jsonfields")
	inspector := integrationInspector(t)
	articles := NewService("articles", drv, inspector)

	_, err := articles.CreateOne(ctx, tablekit.Item{
		"title": "JSON",
		"meta":  map[string]any{"tags": []any{"go", "sql"}, "rating": 4},
	})
	require.NoError(t, err)
	_, err = articles.CreateOne(ctx, tablekit.Item{
		"title": "Plain",
		"meta":  map[string]any{"tags": []any{}, "rating": 2},
	})
	require.NoError(t, err)

	// A JSON field node projects a path as an aliased result key.
	items, err := articles.ReadByQuery(ctx, &query.Query{
		Fields:     []string{"id", "title"},
		Sort:       []query.Sort{{Field: "id"}},
		JSONFields: []query.JSONFieldNode{{Name: "meta", FieldKey: "tags", JSONPath: "$.tags[*]"}},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []any{"go", "sql"}, items[0]["tags"])

	// A JSON path filter narrows the rows.
	items, err = articles.ReadByQuery(ctx, &query.Query{
		Filter: query.Filter{"meta$.rating": map[string]any{"_gt": 3}},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "JSON", items[0]["title"])
}

func TestServiceSingleton(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := integrationDriver(t, "items_singleton")
	inspector := integrationInspector(t)
	settings := NewService("settings", drv, inspector)

	// The empty singleton reads as its defaults.
	item, err := settings.ReadSingleton(ctx, &query.Query{})
	require.NoError(t, err)
	assert.Equal(t, "My Site", item["site_name"])

	// The first upsert creates the row, the second updates it in place.
	key, err := settings.UpsertSingleton(ctx, tablekit.Item{"site_name": "First"})
	require.NoError(t, err)
	key2, err := settings.UpsertSingleton(ctx, tablekit.Item{"site_name": "Second"})
	require.NoError(t, err)
	assert.Equal(t, key, key2)

	item, err = settings.ReadSingleton(ctx, &query.Query{})
	require.NoError(t, err)
	assert.Equal(t, "Second", item["site_name"])
}

func TestServiceQueryStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := integrationDriver(t, "items_stats")
	inspector := integrationInspector(t)

	// A negative threshold marks every statement slow, so the hook count
	// mirrors the statement count.
	var slow int
	sdrv := sql.NewStatsDriver(drv,
		sql.WithSlowThreshold(-time.Second),
		sql.WithSlowQueryHook(func(context.Context, string, []any, time.Duration) { slow++ }),
	)
	articles := NewService("articles", sdrv, inspector)

	key, err := articles.CreateOne(ctx, tablekit.Item{"title": "Counted"})
	require.NoError(t, err)
	_, err = articles.ReadOne(ctx, key, &query.Query{})
	require.NoError(t, err)
	require.NoError(t, articles.DeleteOne(ctx, key))

	// One read outside a transaction, the insert and delete inside theirs.
	s := sdrv.QueryStats().Stats()
	assert.Equal(t, int64(1), s.TotalQueries)
	assert.Equal(t, int64(2), s.TotalExecs)
	assert.Equal(t, int64(3), s.SlowQueries)
	assert.Equal(t, 3, slow)
	assert.Zero(t, s.Errors)
	assert.Greater(t, s.AvgQueryDuration(), time.Duration(0))
}

func TestServiceGatedReads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := integrationDriver(t, "items_gated")
	inspector := integrationInspector(t)

	policy, err := access.ReadPolicy(strings.NewReader(`
roles:
  "*":
    collections:
      articles:
        actions:
          read:
            fields: [id, title]
            filter:
              status: published
`))
	require.NoError(t, err)
	gate := access.NewEnforcer(policy, inspector, dialect.SQLite)

	system := NewService("articles", drv, inspector)
	_, err = system.CreateOne(ctx, tablekit.Item{"title": "Public", "status": "published"})
	require.NoError(t, err)
	_, err = system.CreateOne(ctx, tablekit.Item{"title": "Hidden", "status": "draft"})
	require.NoError(t, err)

	anon := NewService("articles", drv, inspector,
		WithGate(gate), WithAccountability(&tablekit.Accountability{}))
	items, err := anon.ReadByQuery(ctx, &query.Query{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Public", items[0]["title"])
	assert.NotContains(t, items[0], "status")

	// A filtered-out key reads as not found, not as forbidden.
	hidden, err := system.ReadByQuery(ctx, &query.Query{Filter: query.Filter{"status": "draft"}})
	require.NoError(t, err)
	require.Len(t, hidden, 1)
	_, err = anon.ReadOne(ctx, hidden[0]["id"], &query.Query{})
	assert.True(t, tablekit.IsNotFound(err))
}
