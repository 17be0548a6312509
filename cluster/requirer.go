// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cluster

import (
	"net/url"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/canonical/cos-lib/databag"
	"github.com/canonical/cos-lib/roles"
	"github.com/canonical/cos-lib/topology"
)

// RequirerConfig holds the dependencies of a Requirer.
type RequirerConfig struct {
	// Endpoint is the name of the cluster relation endpoint.
	Endpoint string

	// Transport supplies relation state and leadership.
	Transport Transport

	// Topology identifies this worker unit in its announcements.
	Topology topology.Topology
}

// Validate is part of the config contract.
func (c RequirerConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.NotValidf("empty Endpoint")
	}
	if c.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if err := c.Topology.Validate(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Requirer is the worker side of the cluster endpoint: it announces
// the unit's address and the application's roles, and receives the
// coordinator's configuration fan-out.
type Requirer struct {
	config RequirerConfig
}

// NewRequirer returns a Requirer over the given transport.
func NewRequirer(config RequirerConfig) (*Requirer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Requirer{config: config}, nil
}

// relation returns the cluster relation, or nil before it is ready.
// A worker has at most one cluster relation.
func (r *Requirer) relation() Relation {
	for _, rel := range r.config.Transport.Relations(r.config.Endpoint) {
		if rel.Ready() {
			return rel
		}
	}
	return nil
}

// HasRelation reports whether a cluster relation exists at all, ready
// or not. Workers use it to tell "not related to a coordinator" apart
// from "related, still settling".
func (r *Requirer) HasRelation() bool {
	return len(r.config.Transport.Relations(r.config.Endpoint)) > 0
}

// RelationReady reports whether the cluster relation is established
// and usable.
func (r *Requirer) RelationReady() bool {
	return r.relation() != nil
}

// IsLeader reports whether this unit currently holds application
// leadership.
func (r *Requirer) IsLeader() bool {
	return r.config.Transport.IsLeader()
}

// Topology returns the topology this requirer announces for the unit.
func (r *Requirer) Topology() topology.Topology {
	return r.config.Topology
}

// PublishUnitAddress announces the address this unit serves on,
// together with its topology. Publishing without a ready relation is
// a quiet no-op; the announcement happens on the next pass once the
// relation exists.
func (r *Requirer) PublishUnitAddress(address string) error {
	if _, err := url.Parse(address); err != nil {
		return errors.NewNotValid(err, "address")
	}
	rel := r.relation()
	if rel == nil {
		logger.Debugf("no cluster relation yet, not publishing address")
		return nil
	}
	bag := copyBag(rel.LocalUnitData())
	err := databag.Write(bag, RequirerUnitData{
		Topology: r.config.Topology,
		Address:  address,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(rel.ReplaceLocalUnitData(bag))
}

// PublishAppRoles declares the roles this worker application serves.
// The declaration is application-wide, so only the leader unit may
// make it; any other unit gets ErrNotLeader.
func (r *Requirer) PublishAppRoles(declared set.Strings) error {
	if !r.config.Transport.IsLeader() {
		return errors.Trace(ErrNotLeader)
	}
	rel := r.relation()
	if rel == nil {
		logger.Debugf("no cluster relation yet, not publishing roles")
		return nil
	}
	bag := copyBag(rel.LocalAppData())
	if err := databag.Write(bag, RequirerAppData{Role: roles.Join(declared)}); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(rel.ReplaceLocalAppData(bag))
}

// IsPublished reports whether this side has announced everything it
// should: the unit's address and the application's roles.
func (r *Requirer) IsPublished() bool {
	rel := r.relation()
	if rel == nil {
		return false
	}
	var unitData RequirerUnitData
	if err := databag.Load(rel.LocalUnitData(), &unitData); err != nil {
		logSkip("local unit", r.config.Topology.Unit, err)
		return false
	}
	var appData RequirerAppData
	if err := databag.Load(rel.LocalAppData(), &appData); err != nil {
		logSkip("local application", r.config.Topology.Application, err)
		return false
	}
	return true
}

// ReceiveConfig fetches the configuration the coordinator last
// published. It returns databag.ErrNoData while the coordinator has
// not published anything, including while the relation itself is
// missing; workers treat that as "keep waiting".
func (r *Requirer) ReceiveConfig() (*ProviderAppData, error) {
	rel := r.relation()
	if rel == nil {
		return nil, databag.ErrNoData
	}
	var data ProviderAppData
	if err := databag.Load(rel.RemoteAppData(), &data); err != nil {
		return nil, errors.Trace(err)
	}
	return &data, nil
}
