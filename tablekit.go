// Package tablekit provides a schema-driven CRUD engine for relational data.
//
// The engine sits above an arbitrary SQL backend and below an HTTP API layer.
// Callers perform create/read/update/delete operations against any
// user-defined collection (table) while the engine enforces row-level and
// field-level access policy, resolves nested relational payloads, transforms
// values between wire and storage representation, records an audit trail of
// mutations, and compiles JSON-path filtering into dialect-native SQL.
//
// The root package holds the shared vocabulary: items, primary keys,
// accountability, actions, errors and the cache contract. The moving parts
// live in sub-packages:
//
//   - dialect, dialect/sql: driver abstraction and SQL builders
//   - dialect/sql/sqljson: per-dialect JSON path compilers
//   - schema: collection/column introspection contract
//   - query: declarative query and filter-operator language
//   - access: row/field-level authorization gate
//   - payload: wire/storage value transformation and relational payloads
//   - activity: append-only audit trail
//   - items: the transactional CRUD orchestrator
package tablekit

import "maps"

// Item is a single record of a collection, keyed by column name.
// An item may carry aliased or computed fields that are not backed by a
// storage column; those are stripped before persistence.
type Item map[string]any

// Clone returns a shallow copy of the item. Mutating services clone their
// input so callers never observe payload rewrites.
func (i Item) Clone() Item {
	if i == nil {
		return nil
	}
	return maps.Clone(i)
}

// PrimaryKey is a storage-level identifier, unique within a collection.
// It is either a string or a number, assigned by storage on create or
// supplied by the caller for update/delete.
type PrimaryKey = any

// Action is a gated operation kind against a collection.
type Action string

// Actions enforced by the access gate and recorded in the activity trail.
const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionValidate Action = "validate"
)

// Accountability identifies who is performing an operation. A nil
// *Accountability means an unauthenticated/system context with full trust.
// Admin == true bypasses authorization gating entirely. The value is carried
// by reference through one logical operation and never mutated.
type Accountability struct {
	User      string
	Role      string
	Admin     bool
	IP        string
	UserAgent string
}

// Trusted reports whether the accountability context bypasses the
// authorization gate. Both the system context (nil) and an explicit admin
// are trusted.
func (a *Accountability) Trusted() bool {
	return a == nil || a.Admin
}
