// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package roles models worker capability tags and the deployment
// shapes built from them. A worker application declares one or more
// roles; a coordinator expands them through its meta-role table and
// judges the resulting fleet against minimal and recommended
// deployment requirements.
package roles

import (
	"strings"

	"github.com/juju/collections/set"
)

// Role names a worker capability, "read" or "backend" say. Roles are
// opaque tags: the library never interprets them beyond set membership.
type Role string

// String is part of the fmt.Stringer interface.
func (r Role) String() string {
	return string(r)
}

// SetOf returns the set holding the names of the given roles.
func SetOf(roles ...Role) set.Strings {
	s := set.NewStrings()
	for _, r := range roles {
		s.Add(string(r))
	}
	return s
}

// Sorted returns the roles named by the set in lexical order.
func Sorted(s set.Strings) []Role {
	out := make([]Role, 0, s.Size())
	for _, name := range s.SortedValues() {
		out = append(out, Role(name))
	}
	return out
}

// Join renders the set in the comma-joined wire form, sorted so that
// equal sets always serialize identically.
func Join(s set.Strings) string {
	return strings.Join(s.SortedValues(), ",")
}

// Parse splits the comma-joined wire form into a role set. Empty
// segments and surrounding whitespace are dropped, duplicates collapse.
func Parse(raw string) set.Strings {
	s := set.NewStrings()
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			s.Add(part)
		}
	}
	return s
}

// Expand resolves raw roles through the meta-role table. A role that is
// a meta-role key is replaced by its expansion; any other role is kept
// verbatim. Expansion is a single level: the table's values are
// expected to name primitive roles only, never other meta-roles.
func Expand(raw set.Strings, meta map[Role][]Role) set.Strings {
	expanded := set.NewStrings()
	for _, name := range raw.Values() {
		if expansion, ok := meta[Role(name)]; ok {
			for _, primitive := range expansion {
				expanded.Add(string(primitive))
			}
			continue
		}
		expanded.Add(name)
	}
	return expanded
}

// Census counts the worker units serving each role.
type Census map[Role]int

// Roles returns the set of roles the census has any units for.
func (c Census) Roles() set.Strings {
	s := set.NewStrings()
	for role := range c {
		s.Add(string(role))
	}
	return s
}
