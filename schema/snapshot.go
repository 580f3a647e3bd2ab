package schema

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Snapshot is a declarative, in-memory Inspector. It serves a fixed schema
// description and never touches the database, which makes it the natural
// fit for configuration-driven deployments and tests.
type Snapshot struct {
	collections map[string]CollectionDef
	relations   []Relation
}

// CollectionDef is the declarative definition of one collection.
type CollectionDef struct {
	Name    string   `yaml:"name"`
	Columns []Column `yaml:"columns"`
	// Singleton marks collections holding at most one row.
	Singleton bool `yaml:"singleton"`
}

// snapshotDoc is the YAML document shape of a snapshot.
type snapshotDoc struct {
	Collections []CollectionDef `yaml:"collections"`
	Relations   []Relation      `yaml:"relations"`
}

// NewSnapshot builds a snapshot from declarative definitions.
func NewSnapshot(collections []CollectionDef, relations []Relation) (*Snapshot, error) {
	s := &Snapshot{
		collections: make(map[string]CollectionDef, len(collections)),
		relations:   relations,
	}
	for _, c := range collections {
		if c.Name == "" {
			return nil, fmt.Errorf("schema: collection with empty name")
		}
		if _, ok := s.collections[c.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate collection %q", c.Name)
		}
		var pks int
		for _, col := range c.Columns {
			if col.PrimaryKey {
				pks++
			}
		}
		if pks != 1 {
			return nil, fmt.Errorf("schema: collection %q must declare exactly one primary key column, has %d", c.Name, pks)
		}
		s.collections[c.Name] = c
	}
	for _, r := range relations {
		if _, ok := s.collections[r.Collection]; !ok {
			return nil, fmt.Errorf("schema: relation references unknown collection %q", r.Collection)
		}
		if _, ok := s.collections[r.Related]; !ok {
			return nil, fmt.Errorf("schema: relation references unknown collection %q", r.Related)
		}
	}
	return s, nil
}

// ReadSnapshot decodes a YAML snapshot document from r.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var doc snapshotDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("schema: decoding snapshot: %w", err)
	}
	return NewSnapshot(doc.Collections, doc.Relations)
}

// LoadSnapshot reads a YAML snapshot document from the given file.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: opening snapshot: %w", err)
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// Primary implements the Inspector interface.
func (s *Snapshot) Primary(_ context.Context, collection string) (string, error) {
	c, ok := s.collections[collection]
	if !ok {
		return "", &UnknownCollectionError{Collection: collection}
	}
	for _, col := range c.Columns {
		if col.PrimaryKey {
			return col.Name, nil
		}
	}
	// Unreachable after NewSnapshot validation.
	return "", fmt.Errorf("schema: collection %q has no primary key", collection)
}

// Columns implements the Inspector interface.
func (s *Snapshot) Columns(_ context.Context, collection string) ([]string, error) {
	c, ok := s.collections[collection]
	if !ok {
		return nil, &UnknownCollectionError{Collection: collection}
	}
	names := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		names[i] = col.Name
	}
	return names, nil
}

// ColumnInfo implements the Inspector interface.
func (s *Snapshot) ColumnInfo(_ context.Context, collection string) ([]Column, error) {
	c, ok := s.collections[collection]
	if !ok {
		return nil, &UnknownCollectionError{Collection: collection}
	}
	return append([]Column(nil), c.Columns...), nil
}

// Relations implements the Inspector interface.
func (s *Snapshot) Relations(_ context.Context, collection string) ([]Relation, error) {
	if _, ok := s.collections[collection]; !ok {
		return nil, &UnknownCollectionError{Collection: collection}
	}
	var rels []Relation
	for _, r := range s.relations {
		if r.Collection == collection || r.Related == collection {
			rels = append(rels, r)
		}
	}
	return rels, nil
}

// Singleton reports whether the collection is declared as a singleton.
func (s *Snapshot) Singleton(collection string) bool {
	return s.collections[collection].Singleton
}
