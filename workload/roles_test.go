// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/cos-lib/roles"
	"github.com/canonical/cos-lib/workload"
)

type rolesSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&rolesSuite{})

func (s *rolesSuite) TestRolesFromOptions(c *gc.C) {
	active, err := workload.RolesFromOptions(staticOptions{
		"role-read":  true,
		"role-write": false,
		"log-level":  "debug",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(active, jc.DeepEquals, []roles.Role{"read"})
}

func (s *rolesSuite) TestRolesSorted(c *gc.C) {
	active, err := workload.RolesFromOptions(staticOptions{
		"role-write":   true,
		"role-read":    true,
		"role-backend": true,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(active, jc.DeepEquals, []roles.Role{"backend", "read", "write"})
}

func (s *rolesSuite) TestRolesOnlyBooleanTrueCounts(c *gc.C) {
	active, err := workload.RolesFromOptions(staticOptions{
		"role-read":  "true",
		"role-write": true,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(active, jc.DeepEquals, []roles.Role{"write"})
}

func (s *rolesSuite) TestRolesNoneActive(c *gc.C) {
	active, err := workload.RolesFromOptions(staticOptions{
		"role-read": false,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(active, gc.HasLen, 0)
}

func (s *rolesSuite) TestRolesNoRoleOptionsAtAll(c *gc.C) {
	_, err := workload.RolesFromOptions(staticOptions{
		"log-level": "debug",
	})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	c.Assert(err, gc.ErrorMatches, "charm config without role options not valid")
}
