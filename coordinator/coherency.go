// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"github.com/canonical/cos-lib/roles"
)

// Verdict is the outcome of judging a cluster census against the
// deployment spec.
type Verdict struct {
	// Coherent reports that every minimal-deployment role is served by
	// at least one unit.
	Coherent bool

	// MissingRoles lists the minimal-deployment roles nobody serves,
	// sorted.
	MissingRoles []roles.Role

	// Recommended reports whether every role meets its recommended
	// unit count. Nil when the spec defines no recommended shape at
	// all, which is not the same as falling short of one.
	Recommended *bool
}

// Evaluate judges the census against the spec. Coherent means the
// minimal deployment is a subset of the roles the census has units
// for; Recommended additionally holds every per-role unit count to its
// recommended minimum.
func Evaluate(spec roles.Spec, census roles.Census) Verdict {
	present := census.Roles()
	missing := roles.SetOf(spec.MinimalDeployment...).Difference(present)
	verdict := Verdict{
		Coherent:     missing.IsEmpty(),
		MissingRoles: roles.Sorted(missing),
	}
	if spec.HasRecommended() {
		recommended := true
		for role, minCount := range spec.RecommendedDeployment {
			if census[role] < minCount {
				recommended = false
				break
			}
		}
		verdict.Recommended = &recommended
	}
	return verdict
}

// Coherency judges the snapshot, applying the configured overrides
// where set. Overrides see the same snapshot the built-in evaluation
// uses; they cannot re-read the transport mid-pass.
func (c *Coordinator) Coherency(snap *Snapshot) Verdict {
	verdict := Evaluate(c.config.Spec, snap.Census)
	if c.config.IsCoherent != nil {
		verdict.Coherent = c.config.IsCoherent(snap, c.config.Spec)
	}
	if c.config.IsRecommended != nil {
		recommended := c.config.IsRecommended(snap, c.config.Spec)
		verdict.Recommended = &recommended
	}
	return verdict
}
