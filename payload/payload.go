// Package payload transforms items between their wire shape and their
// storage shape: value casting driven by column types, and resolution of
// nested relational payloads (many-to-one before the parent write,
// one-to-many after it).
package payload

import (
	"context"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/dialect"
)

// Transformer converts payloads between wire and storage representation.
// The orchestrator calls ProcessM2O before writing the parent row,
// ProcessValues on every payload and result, and ProcessO2M after the
// parent write, all on the same transaction handle.
type Transformer interface {
	// ProcessValues casts the item's values by column type. The action
	// selects the direction: ActionRead casts storage values to wire
	// values, mutations cast wire values to storage values. The input
	// item is not mutated.
	ProcessValues(ctx context.Context, action tablekit.Action, collection string, item tablekit.Item) (tablekit.Item, error)

	// ProcessM2O resolves nested many-to-one payloads: a map under a
	// foreign key field is written to the related collection first and
	// replaced by the resulting key. The input item is not mutated.
	ProcessM2O(ctx context.Context, conn dialect.ExecQuerier, collection string, item tablekit.Item) (tablekit.Item, error)

	// ProcessO2M writes nested one-to-many children carried under the
	// child collection's name: each child is stamped with the parent key
	// and created or updated in the child collection.
	ProcessO2M(ctx context.Context, conn dialect.ExecQuerier, collection string, key tablekit.PrimaryKey, item tablekit.Item) error
}
