package items

import (
	"context"
	"fmt"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/dialect/sql"
)

// CreateOne creates one item and returns its key.
func (s *Service) CreateOne(ctx context.Context, item tablekit.Item) (tablekit.PrimaryKey, error) {
	keys, err := s.CreateMany(ctx, []tablekit.Item{item})
	if err != nil {
		return nil, err
	}
	return keys[0], nil
}

// CreateMany creates the items in one transaction and returns their keys in
// input order. Any failure rolls back every element.
func (s *Service) CreateMany(ctx context.Context, items []tablekit.Item) ([]tablekit.PrimaryKey, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ctx = s.opCtx(ctx)
	keys := make([]tablekit.PrimaryKey, 0, len(items))
	err := s.inTx(ctx, func(tx *Service) error {
		for _, item := range items {
			key, err := tx.create(ctx, item)
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.log.DebugContext(ctx, "items created", "collection", s.collection, "count", len(keys))
	return keys, nil
}

// create writes one item on the operation's transaction: nested
// many-to-one payloads first, then the gated and cast parent row, the
// activity record, and finally the one-to-many children.
func (s *Service) create(ctx context.Context, item tablekit.Item) (tablekit.PrimaryKey, error) {
	pk, err := s.primary(ctx)
	if err != nil {
		return nil, err
	}
	body, err := s.transform.ProcessM2O(ctx, s.conn, s.collection, item)
	if err != nil {
		return nil, err
	}
	if body, err = s.gateValues(ctx, tablekit.ActionCreate, body); err != nil {
		return nil, err
	}
	if body, err = s.transform.ProcessValues(ctx, tablekit.ActionCreate, s.collection, body); err != nil {
		return nil, err
	}
	row, err := s.columnsOnly(ctx, body)
	if err != nil {
		return nil, err
	}
	key, err := s.insert(ctx, pk, row)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, tablekit.ActionCreate, key); err != nil {
		return nil, err
	}
	if err := s.transform.ProcessO2M(ctx, s.conn, s.collection, key, item); err != nil {
		return nil, err
	}
	return key, nil
}

// UpdateOne applies the payload to the item with the given key and returns
// the key.
func (s *Service) UpdateOne(ctx context.Context, key tablekit.PrimaryKey, item tablekit.Item) (tablekit.PrimaryKey, error) {
	keys, err := s.UpdateMany(ctx, []tablekit.PrimaryKey{key}, item)
	if err != nil {
		return nil, err
	}
	return keys[0], nil
}

// UpdateMany applies the same payload to every key in one transaction and
// returns the input keys.
func (s *Service) UpdateMany(ctx context.Context, keys []tablekit.PrimaryKey, item tablekit.Item) ([]tablekit.PrimaryKey, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx = s.opCtx(ctx)
	err := s.inTx(ctx, func(tx *Service) error {
		return tx.update(ctx, keys, item)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.log.DebugContext(ctx, "items updated", "collection", s.collection, "count", len(keys))
	return keys, nil
}

// UpdateBatch applies per-item payloads in one transaction. Every element
// must carry the primary key field; the keys are returned in input order
// and any failure rolls back the whole batch.
func (s *Service) UpdateBatch(ctx context.Context, items []tablekit.Item) ([]tablekit.PrimaryKey, error) {
	if len(items) == 0 {
		return nil, nil
	}
	pk, err := s.primary(ctx)
	if err != nil {
		return nil, err
	}
	ctx = s.opCtx(ctx)
	keys := make([]tablekit.PrimaryKey, 0, len(items))
	err = s.inTx(ctx, func(tx *Service) error {
		for _, item := range items {
			key, ok := item[pk]
			if !ok {
				return &tablekit.InvalidPayloadError{
					Collection: s.collection,
					Reason:     fmt.Sprintf("batch element is missing the primary key field %q", pk),
				}
			}
			body := item.Clone()
			delete(body, pk)
			if err := tx.update(ctx, []tablekit.PrimaryKey{key}, body); err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.log.DebugContext(ctx, "items batch-updated", "collection", s.collection, "count", len(keys))
	return keys, nil
}

// update applies one payload to a key set on the operation's transaction.
func (s *Service) update(ctx context.Context, keys []tablekit.PrimaryKey, item tablekit.Item) error {
	pk, err := s.primary(ctx)
	if err != nil {
		return err
	}
	if err := s.checkAccess(ctx, tablekit.ActionUpdate, keys); err != nil {
		return err
	}
	body, err := s.transform.ProcessM2O(ctx, s.conn, s.collection, item)
	if err != nil {
		return err
	}
	if body, err = s.gateValues(ctx, tablekit.ActionUpdate, body); err != nil {
		return err
	}
	if body, err = s.transform.ProcessValues(ctx, tablekit.ActionUpdate, s.collection, body); err != nil {
		return err
	}
	row, err := s.columnsOnly(ctx, body)
	if err != nil {
		return err
	}
	// The key column is the row's identity, not an updatable value.
	delete(row, pk)
	if len(row) > 0 {
		b := sql.Dialect(s.dialect).Update(s.collection)
		for _, c := range sortedColumns(row) {
			b.Set(c, row[c])
		}
		stmt, args := b.Where(sql.In(pk, keys...)).Query()
		if err := s.conn.Exec(ctx, stmt, args, nil); err != nil {
			return err
		}
	}
	if err := s.record(ctx, tablekit.ActionUpdate, keys...); err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.transform.ProcessO2M(ctx, s.conn, s.collection, key, item); err != nil {
			return err
		}
	}
	return nil
}

// DeleteOne deletes the item with the given key.
func (s *Service) DeleteOne(ctx context.Context, key tablekit.PrimaryKey) error {
	return s.DeleteMany(ctx, []tablekit.PrimaryKey{key})
}

// DeleteMany deletes the items with the given keys in one transaction. The
// access gate checks the keys whenever an accountability is present and not
// an admin.
func (s *Service) DeleteMany(ctx context.Context, keys []tablekit.PrimaryKey) error {
	if len(keys) == 0 {
		return nil
	}
	ctx = s.opCtx(ctx)
	err := s.inTx(ctx, func(tx *Service) error {
		pk, err := tx.primary(ctx)
		if err != nil {
			return err
		}
		if err := tx.checkAccess(ctx, tablekit.ActionDelete, keys); err != nil {
			return err
		}
		stmt, args := sql.Dialect(tx.dialect).
			Delete(tx.collection).
			Where(sql.In(pk, keys...)).
			Query()
		if err := tx.conn.Exec(ctx, stmt, args, nil); err != nil {
			return err
		}
		return tx.record(ctx, tablekit.ActionDelete, keys...)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	s.log.DebugContext(ctx, "items deleted", "collection", s.collection, "count", len(keys))
	return nil
}

// UpsertSingleton updates the single row of a singleton collection, or
// creates it when the collection is empty, and returns its key.
func (s *Service) UpsertSingleton(ctx context.Context, item tablekit.Item) (tablekit.PrimaryKey, error) {
	pk, err := s.primary(ctx)
	if err != nil {
		return nil, err
	}
	ctx = s.opCtx(ctx)
	var key tablekit.PrimaryKey
	err = s.inTx(ctx, func(tx *Service) error {
		stmt, args := sql.Dialect(tx.dialect).
			Select(pk).
			FromTable(tx.collection).
			Limit(1).
			Query()
		rows := &sql.Rows{}
		if err := tx.conn.Query(ctx, stmt, args, rows); err != nil {
			return err
		}
		var existing any
		if rows.Next() {
			if err := rows.Scan(&existing); err != nil {
				rows.Close()
				return err
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if existing != nil {
			key = existing
			return tx.update(ctx, []tablekit.PrimaryKey{existing}, item)
		}
		k, err := tx.create(ctx, item)
		key = k
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return key, nil
}
