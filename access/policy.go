package access

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tablekit/tablekit"
	"github.com/tablekit/tablekit/query"
)

// Policy is the declarative permission model: role → collection → action →
// permission. The special role "*" applies to requests without a role,
// including anonymous ones.
type Policy struct {
	Roles map[string]RolePolicy `yaml:"roles"`
}

// PublicRole matches requests whose accountability carries no role.
const PublicRole = "*"

// RolePolicy is the permission set of one role.
type RolePolicy struct {
	// Admin grants the role unrestricted access to every collection.
	Admin       bool                        `yaml:"admin"`
	Collections map[string]CollectionPolicy `yaml:"collections"`
}

// CollectionPolicy maps actions ("create", "read", "update", "delete") to
// their permission.
type CollectionPolicy struct {
	Actions map[string]Permission `yaml:"actions"`
}

// Permission is what one role may do with one action on one collection.
type Permission struct {
	// Fields is the allowed field set. The single entry "*" allows every
	// field; an empty set allows none.
	Fields []string `yaml:"fields"`
	// Filter restricts the reachable rows.
	Filter query.Filter `yaml:"filter"`
	// Presets are values folded into every mutation payload, overriding
	// caller-supplied values.
	Presets tablekit.Item `yaml:"presets"`
}

// AllowsField reports whether the permission allows the field.
func (p Permission) AllowsField(field string) bool {
	for _, f := range p.Fields {
		if f == "*" || f == field {
			return true
		}
	}
	return false
}

// ReadPolicy decodes a YAML policy document from r.
func ReadPolicy(r io.Reader) (*Policy, error) {
	var p Policy
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("access: decoding policy: %w", err)
	}
	return &p, nil
}

// LoadPolicy reads a YAML policy document from the given file.
func LoadPolicy(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("access: opening policy: %w", err)
	}
	defer f.Close()
	return ReadPolicy(f)
}

// permission resolves the permission of a role for an action on a
// collection. The second result is false when the policy grants nothing.
func (p *Policy) permission(role string, action tablekit.Action, collection string) (Permission, bool) {
	rp, ok := p.Roles[role]
	if !ok {
		return Permission{}, false
	}
	if rp.Admin {
		return Permission{Fields: []string{"*"}}, true
	}
	cp, ok := rp.Collections[collection]
	if !ok {
		return Permission{}, false
	}
	perm, ok := cp.Actions[string(action)]
	return perm, ok
}
