// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package roles_test

import (
	"github.com/juju/collections/set"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/cos-lib/roles"
)

type rolesSuite struct{}

var _ = gc.Suite(&rolesSuite{})

var metaTable = map[roles.Role][]roles.Role{
	"all":     {"read", "write", "backend"},
	"scaling": {"read", "write"},
}

func (s *rolesSuite) TestParse(c *gc.C) {
	c.Assert(roles.Parse("read,write").SortedValues(), jc.DeepEquals, []string{"read", "write"})
	c.Assert(roles.Parse(" read , write ,read,").SortedValues(), jc.DeepEquals, []string{"read", "write"})
	c.Assert(roles.Parse("").IsEmpty(), jc.IsTrue)
	c.Assert(roles.Parse(",,").IsEmpty(), jc.IsTrue)
}

func (s *rolesSuite) TestJoinIsSortedAndStable(c *gc.C) {
	a := roles.Join(set.NewStrings("write", "read"))
	b := roles.Join(set.NewStrings("read", "write"))
	c.Assert(a, gc.Equals, "read,write")
	c.Assert(a, gc.Equals, b)
}

func (s *rolesSuite) TestJoinParseRoundTrip(c *gc.C) {
	in := set.NewStrings("backend", "read", "write")
	c.Assert(roles.Parse(roles.Join(in)), jc.DeepEquals, in)
}

func (s *rolesSuite) TestExpandMetaRole(c *gc.C) {
	expanded := roles.Expand(set.NewStrings("all"), metaTable)
	c.Assert(expanded.SortedValues(), jc.DeepEquals, []string{"backend", "read", "write"})
}

func (s *rolesSuite) TestExpandKeepsPrimitiveVerbatim(c *gc.C) {
	expanded := roles.Expand(set.NewStrings("backend", "scaling"), metaTable)
	c.Assert(expanded.SortedValues(), jc.DeepEquals, []string{"backend", "read", "write"})
}

func (s *rolesSuite) TestExpandUnknownRoleKept(c *gc.C) {
	// Expansion does not consult a role universe; an unknown role is
	// treated as already primitive and carried through.
	expanded := roles.Expand(set.NewStrings("mystery"), metaTable)
	c.Assert(expanded.SortedValues(), jc.DeepEquals, []string{"mystery"})
}

func (s *rolesSuite) TestExpandEmpty(c *gc.C) {
	c.Assert(roles.Expand(set.NewStrings(), metaTable).IsEmpty(), jc.IsTrue)
	c.Assert(roles.Expand(set.NewStrings("read"), nil).SortedValues(), jc.DeepEquals, []string{"read"})
}

func (s *rolesSuite) TestExpandIdempotent(c *gc.C) {
	// A single expansion level means expanding an already expanded set
	// changes nothing.
	inputs := []set.Strings{
		set.NewStrings("all"),
		set.NewStrings("scaling", "backend"),
		set.NewStrings("read"),
		set.NewStrings("all", "scaling", "mystery"),
		set.NewStrings(),
	}
	for _, raw := range inputs {
		once := roles.Expand(raw, metaTable)
		twice := roles.Expand(once, metaTable)
		c.Assert(twice, jc.DeepEquals, once, gc.Commentf("input %v", raw.SortedValues()))
	}
}

func (s *rolesSuite) TestCensusRoles(c *gc.C) {
	census := roles.Census{"read": 2, "write": 1}
	c.Assert(census.Roles().SortedValues(), jc.DeepEquals, []string{"read", "write"})
	c.Assert(roles.Census{}.Roles().IsEmpty(), jc.IsTrue)
}

func (s *rolesSuite) TestSetOfAndSorted(c *gc.C) {
	set := roles.SetOf("write", "read", "write")
	c.Assert(set.SortedValues(), jc.DeepEquals, []string{"read", "write"})
	c.Assert(roles.Sorted(set), jc.DeepEquals, []roles.Role{"read", "write"})
}
