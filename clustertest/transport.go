// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package clustertest provides in-memory implementations of the
// cluster transport and secret store, for this library's own tests
// and for charm test suites built on top of it. The fakes mirror the
// behaviour the library relies on from a real charm framework:
// staged relation setup, leader-only application databag writes, and
// no-op writes when the content does not change.
//
// Everything here expects the library's synchronous single-pass
// execution model and is not safe for concurrent use.
package clustertest

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/canonical/cos-lib/cluster"
	"github.com/canonical/cos-lib/databag"
	"github.com/canonical/cos-lib/topology"
)

// ModelUUID is the model identity used by all fake topologies.
const ModelUUID = "deadbeef-0bad-400d-8000-4b1d0d06f00d"

// Transport is an in-memory cluster.Transport.
type Transport struct {
	leader    bool
	relations map[string][]*Relation
}

// NewTransport returns an empty transport. The unit starts out as a
// follower; call SetLeader to promote it.
func NewTransport() *Transport {
	return &Transport{
		relations: make(map[string][]*Relation),
	}
}

// SetLeader flips this unit's leadership.
func (t *Transport) SetLeader(leader bool) {
	t.leader = leader
}

// IsLeader is part of the cluster.Transport interface.
func (t *Transport) IsLeader() bool {
	return t.leader
}

// Relations is part of the cluster.Transport interface.
func (t *Transport) Relations(endpoint string) []cluster.Relation {
	rels := t.relations[endpoint]
	out := make([]cluster.Relation, len(rels))
	for i, rel := range rels {
		out[i] = rel
	}
	return out
}

// AddRelation establishes a ready relation with the given remote
// application and returns its handle for further setup.
func (t *Transport) AddRelation(endpoint, remoteApp string) *Relation {
	rel := &Relation{
		transport:      t,
		remoteApp:      remoteApp,
		ready:          true,
		remoteAppData:  make(map[string]string),
		remoteUnitData: make(map[string]map[string]string),
		localAppData:   make(map[string]string),
		localUnitData:  make(map[string]string),
	}
	t.relations[endpoint] = append(t.relations[endpoint], rel)
	return rel
}

// AddWorker relates a worker application declaring the given roles,
// with one announced unit per address. It writes the same wire format
// a real worker would.
func (t *Transport) AddWorker(endpoint, app, declaredRoles string, addresses ...string) *Relation {
	rel := t.AddRelation(endpoint, app)
	rel.SetRemoteAppRecord(cluster.RequirerAppData{Role: declaredRoles})
	for i, address := range addresses {
		unit := fmt.Sprintf("%s/%d", app, i)
		rel.AddRemoteUnitRecord(unit, cluster.RequirerUnitData{
			Topology: topology.Topology{
				Model:       "test",
				ModelUUID:   ModelUUID,
				Application: app,
				Unit:        unit,
				CharmName:   app,
			},
			Address: address,
		})
	}
	return rel
}

// Relation is an in-memory cluster.Relation.
type Relation struct {
	transport *Transport

	remoteApp      string
	ready          bool
	remoteAppData  map[string]string
	remoteUnits    []string
	remoteUnitData map[string]map[string]string

	localAppData  map[string]string
	localUnitData map[string]string

	appDataWrites  int
	unitDataWrites int
}

// SetReady marks the relation as (not) ready, as a relation is during
// staged setup or teardown.
func (r *Relation) SetReady(ready bool) {
	r.ready = ready
}

// SetRemoteAppData replaces the remote application databag with raw
// content, bypassing the codec. Use it to simulate malformed peers.
func (r *Relation) SetRemoteAppData(data map[string]string) {
	r.remoteAppData = copyBag(data)
}

// SetRemoteAppRecord publishes the given record to the remote
// application databag the way a well-behaved worker would.
func (r *Relation) SetRemoteAppRecord(record interface{}) {
	bag := make(map[string]string)
	if err := databag.Write(bag, record); err != nil {
		panic(err)
	}
	r.remoteAppData = bag
}

// AddRemoteUnit adds a remote unit carrying raw databag content.
func (r *Relation) AddRemoteUnit(unit string, data map[string]string) {
	r.remoteUnits = append(r.remoteUnits, unit)
	r.remoteUnitData[unit] = copyBag(data)
}

// AddRemoteUnitRecord adds a remote unit announcing the given record.
func (r *Relation) AddRemoteUnitRecord(unit string, record interface{}) {
	bag := make(map[string]string)
	if err := databag.Write(bag, record); err != nil {
		panic(err)
	}
	r.AddRemoteUnit(unit, bag)
}

// Ready is part of the cluster.Relation interface.
func (r *Relation) Ready() bool {
	return r.ready
}

// RemoteApplication is part of the cluster.Relation interface.
func (r *Relation) RemoteApplication() string {
	return r.remoteApp
}

// RemoteAppData is part of the cluster.Relation interface.
func (r *Relation) RemoteAppData() map[string]string {
	return copyBag(r.remoteAppData)
}

// RemoteUnits is part of the cluster.Relation interface.
func (r *Relation) RemoteUnits() []string {
	return append([]string(nil), r.remoteUnits...)
}

// RemoteUnitData is part of the cluster.Relation interface.
func (r *Relation) RemoteUnitData(unit string) map[string]string {
	return copyBag(r.remoteUnitData[unit])
}

// LocalAppData is part of the cluster.Relation interface.
func (r *Relation) LocalAppData() map[string]string {
	return copyBag(r.localAppData)
}

// ReplaceLocalAppData is part of the cluster.Relation interface. Like
// the real thing it refuses follower writes and swallows writes that
// change nothing.
func (r *Relation) ReplaceLocalAppData(data map[string]string) error {
	if !r.transport.leader {
		return errors.Trace(cluster.ErrNotLeader)
	}
	if sameBag(r.localAppData, data) {
		return nil
	}
	r.localAppData = copyBag(data)
	r.appDataWrites++
	return nil
}

// LocalUnitData is part of the cluster.Relation interface.
func (r *Relation) LocalUnitData() map[string]string {
	return copyBag(r.localUnitData)
}

// ReplaceLocalUnitData is part of the cluster.Relation interface.
func (r *Relation) ReplaceLocalUnitData(data map[string]string) error {
	if sameBag(r.localUnitData, data) {
		return nil
	}
	r.localUnitData = copyBag(data)
	r.unitDataWrites++
	return nil
}

// AppDataWrites returns how many times the local application databag
// actually changed. Republishing identical content does not count.
func (r *Relation) AppDataWrites() int {
	return r.appDataWrites
}

// UnitDataWrites returns how many times this unit's databag actually
// changed.
func (r *Relation) UnitDataWrites() int {
	return r.unitDataWrites
}

func copyBag(bag map[string]string) map[string]string {
	out := make(map[string]string, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	return out
}

func sameBag(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if other, ok := b[k]; !ok || other != v {
			return false
		}
	}
	return true
}
