// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package roles

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Spec defines the role shape of a coordinated deployment: the
// universe of valid roles, how meta-roles expand into primitive ones,
// and which roles a fleet must or should carry. A Spec is fixed at
// charm authoring time and never changes at run time.
//
// There is no sentinel role: an umbrella role such as "all" is just a
// meta-role entry whose expansion lists every primitive role the
// deployment defines.
type Spec struct {
	// Roles is the universe of roles valid for this deployment.
	Roles []Role

	// MetaRoles maps a role to the primitive roles it stands for.
	MetaRoles map[Role][]Role

	// MinimalDeployment lists the roles that must each be served by at
	// least one unit for the cluster to be coherent.
	MinimalDeployment []Role

	// RecommendedDeployment gives the minimum unit count per role for
	// the deployment to count as recommended. Leave empty when the
	// deployment defines no recommended shape.
	RecommendedDeployment map[Role]int
}

// Validate checks the spec's internal consistency: meta-role keys and
// expansions, the minimal deployment and the recommended deployment
// must all be drawn from the role universe. A coordinator must refuse
// to start on a spec that fails validation.
func (s Spec) Validate() error {
	universe := SetOf(s.Roles...)
	if universe.IsEmpty() {
		return errors.NotValidf("spec without roles")
	}
	for meta, expansion := range s.MetaRoles {
		if !universe.Contains(string(meta)) {
			return errors.NotValidf("meta-role %q outside the role universe", meta)
		}
		if unknown := SetOf(expansion...).Difference(universe); !unknown.IsEmpty() {
			return errors.NotValidf("meta-role %q expanding to %v outside the role universe", meta, unknown.SortedValues())
		}
	}
	if unknown := SetOf(s.MinimalDeployment...).Difference(universe); !unknown.IsEmpty() {
		return errors.NotValidf("minimal deployment roles %v outside the role universe", unknown.SortedValues())
	}
	recommended := make([]Role, 0, len(s.RecommendedDeployment))
	for role := range s.RecommendedDeployment {
		recommended = append(recommended, role)
	}
	if unknown := SetOf(recommended...).Difference(universe); !unknown.IsEmpty() {
		return errors.NotValidf("recommended deployment roles %v outside the role universe", unknown.SortedValues())
	}
	return nil
}

// Expand resolves raw roles through the spec's meta-role table.
func (s Spec) Expand(raw set.Strings) set.Strings {
	return Expand(raw, s.MetaRoles)
}

// HasRecommended reports whether the spec defines a recommended
// deployment shape at all.
func (s Spec) HasRecommended() bool {
	return len(s.RecommendedDeployment) > 0
}
