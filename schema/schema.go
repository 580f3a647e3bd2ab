// Package schema describes the shape of the collections the engine operates
// on: columns, primary keys, and relations. The engine consumes it through
// the Inspector interface; Snapshot is the built-in declarative
// implementation, loadable from YAML.
package schema

import (
	"context"
	"fmt"
)

// Type is the logical column type. It drives value casting between the wire
// and storage representations and marks columns holding JSON documents.
type Type string

// Logical column types.
const (
	TypeText     Type = "text"
	TypeInteger  Type = "integer"
	TypeFloat    Type = "float"
	TypeBoolean  Type = "boolean"
	TypeDatetime Type = "datetime"
	TypeJSON     Type = "json"
)

// Column is the metadata of one collection column.
type Column struct {
	Name             string `yaml:"name"`
	Type             Type   `yaml:"type"`
	Nullable         bool   `yaml:"nullable"`
	Default          any    `yaml:"default"`
	PrimaryKey       bool   `yaml:"primary_key"`
	HasAutoIncrement bool   `yaml:"auto_increment"`
}

// RelationKind distinguishes the two sides of a foreign-key relation.
type RelationKind string

// Relation kinds. A many-to-one relation is declared on the owning side;
// one-to-many is its inverse as seen from the related collection.
const (
	M2O RelationKind = "m2o"
	O2M RelationKind = "o2m"
)

// Relation is one foreign-key relation between two collections, as seen
// from Collection.Field.
type Relation struct {
	// Collection and Field are the side holding the foreign key.
	Collection string `yaml:"collection"`
	Field      string `yaml:"field"`
	// Related and RelatedField are the referenced side, usually the
	// related collection's primary key.
	Related      string       `yaml:"related"`
	RelatedField string       `yaml:"related_field"`
	Kind         RelationKind `yaml:"kind"`
}

// Inspector answers schema questions about collections. Implementations may
// introspect a live database or serve a static snapshot; lookups take a
// context so live implementations can honor cancellation.
type Inspector interface {
	// Primary returns the primary key column name of the collection.
	Primary(ctx context.Context, collection string) (string, error)
	// Columns returns the column names of the collection, in declaration
	// order.
	Columns(ctx context.Context, collection string) ([]string, error)
	// ColumnInfo returns the full column metadata of the collection, in
	// declaration order.
	ColumnInfo(ctx context.Context, collection string) ([]Column, error)
	// Relations returns the foreign-key relations the collection
	// participates in, on either side.
	Relations(ctx context.Context, collection string) ([]Relation, error)
}

// An UnknownCollectionError reports a lookup against a collection the
// inspector has no metadata for.
type UnknownCollectionError struct {
	Collection string
}

// Error implements the error interface.
func (e *UnknownCollectionError) Error() string {
	return fmt.Sprintf("schema: unknown collection %q", e.Collection)
}
