// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cluster implements both halves of the cluster relation: the
// provider side a coordinator uses to take a census of its workers and
// fan configuration out to them, and the requirer side a worker uses
// to announce itself and receive that configuration.
//
// The provider holds no state of its own. Every query re-derives its
// answer from the transport's current relation snapshot, so there is
// nothing to cache and nothing to invalidate; a fresh census is one
// cheap scan of a small fleet.
package cluster

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/cos-lib/databag"
	"github.com/canonical/cos-lib/roles"
)

var logger = loggo.GetLogger("coslib.cluster")

// ProviderConfig holds the dependencies of a Provider.
type ProviderConfig struct {
	// Endpoint is the name of the cluster relation endpoint.
	Endpoint string

	// Transport supplies relation state and leadership.
	Transport Transport

	// MetaRoles expands umbrella roles into the primitive roles they
	// stand for. Declared roles outside the table pass through as
	// they are.
	MetaRoles map[roles.Role][]roles.Role

	// Secrets is required only when private keys are shared with
	// workers through GrantPrivateKey.
	Secrets SecretStore

	// SkippedPeers, when set, counts peer databags skipped for
	// malformed content. Peers that simply have not published yet are
	// not counted.
	SkippedPeers prometheus.Counter
}

// Validate is part of the config contract: a Provider refuses to build
// around missing dependencies.
func (c ProviderConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.NotValidf("empty Endpoint")
	}
	if c.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	return nil
}

// Provider is the coordinator's view of the cluster endpoint.
type Provider struct {
	config ProviderConfig
}

// NewProvider returns a Provider over the given transport.
func NewProvider(config ProviderConfig) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Provider{config: config}, nil
}

// relations returns the ready relations on the cluster endpoint.
func (p *Provider) relations() []Relation {
	var ready []Relation
	for _, rel := range p.config.Transport.Relations(p.config.Endpoint) {
		if rel.Ready() {
			ready = append(ready, rel)
		}
	}
	return ready
}

// HasWorkers reports whether any worker application is related at all.
// It checks relation presence rather than data content: the check must
// fail pessimistically before any validation, because an empty cluster
// is a more severe condition than an invalid one and must not be
// masked by it.
func (p *Provider) HasWorkers() bool {
	return len(p.relations()) > 0
}

// GatherRoles takes the role census: how many worker units serve each
// role, post meta-role expansion. A relation whose application databag
// does not load contributes nothing at all; a relation with N remote
// units contributes N to each of its declared roles.
func (p *Provider) GatherRoles() roles.Census {
	census := make(roles.Census)
	for _, rel := range p.relations() {
		var appData RequirerAppData
		if err := databag.Load(rel.RemoteAppData(), &appData); err != nil {
			p.skip("application", rel.RemoteApplication(), err)
			continue
		}
		n := len(rel.RemoteUnits())
		for _, role := range roles.Sorted(p.expand(appData.Roles())) {
			census[role] += n
		}
	}
	return census
}

// GatherAddressesByRole collects the addresses worker units have
// announced, grouped by expanded role. A unit databag that does not
// load costs only that unit's contribution; the rest of its relation
// still counts.
func (p *Provider) GatherAddressesByRole() map[roles.Role]set.Strings {
	data := make(map[roles.Role]set.Strings)
	for _, rel := range p.relations() {
		var appData RequirerAppData
		if err := databag.Load(rel.RemoteAppData(), &appData); err != nil {
			p.skip("application", rel.RemoteApplication(), err)
			continue
		}
		expanded := roles.Sorted(p.expand(appData.Roles()))
		for _, unit := range rel.RemoteUnits() {
			var unitData RequirerUnitData
			if err := databag.Load(rel.RemoteUnitData(unit), &unitData); err != nil {
				p.skip("unit", unit, err)
				continue
			}
			for _, role := range expanded {
				if _, ok := data[role]; !ok {
					data[role] = set.NewStrings()
				}
				data[role].Add(unitData.Address)
			}
		}
	}
	return data
}

// GatherAddresses collects every address any worker unit has
// announced, regardless of role.
func (p *Provider) GatherAddresses() set.Strings {
	all := set.NewStrings()
	for _, addresses := range p.GatherAddressesByRole() {
		all = all.Union(addresses)
	}
	return all
}

// AddressForRole returns one address serving the given role, or "" if
// none is known. Deterministic for a given snapshot.
func (p *Provider) AddressForRole(role roles.Role) string {
	addresses, ok := p.GatherAddressesByRole()[role]
	if !ok || addresses.IsEmpty() {
		return ""
	}
	return addresses.SortedValues()[0]
}

// GatherTopology lists the units in the cluster with their announced
// addresses and topology metadata, in relation then unit order.
func (p *Provider) GatherTopology() []UnitInfo {
	var units []UnitInfo
	for _, rel := range p.relations() {
		for _, unit := range rel.RemoteUnits() {
			var unitData RequirerUnitData
			if err := databag.Load(rel.RemoteUnitData(unit), &unitData); err != nil {
				p.skip("unit", unit, err)
				continue
			}
			units = append(units, UnitInfo{
				Address:  unitData.Address,
				Topology: unitData.Topology,
			})
		}
	}
	return units
}

// PublishData broadcasts the full configuration snapshot to every
// worker relation. There is no per-worker diffing: the transport's
// no-op-on-no-change write semantics make republishing an unchanged
// snapshot free, and relying on that keeps this side trivially
// idempotent. Only the leader may publish.
func (p *Provider) PublishData(data ProviderAppData) error {
	if !p.config.Transport.IsLeader() {
		return errors.Trace(ErrNotLeader)
	}
	for _, rel := range p.relations() {
		bag := copyBag(rel.LocalAppData())
		if err := databag.Write(bag, data); err != nil {
			return errors.Trace(err)
		}
		if err := rel.ReplaceLocalAppData(bag); err != nil {
			return errors.Annotatef(err, "publishing cluster data for %q", rel.RemoteApplication())
		}
	}
	return nil
}

// GrantPrivateKey grants the labelled secret to every worker relation
// and returns the secret id workers can resolve it by. The content of
// the secret never passes through the library.
func (p *Provider) GrantPrivateKey(label string) (string, error) {
	if p.config.Secrets == nil {
		return "", errors.NotSupportedf("granting secrets without a secret store")
	}
	secret, err := p.config.Secrets.Secret(label)
	if err != nil {
		return "", errors.Annotatef(err, "looking up secret %q", label)
	}
	for _, rel := range p.relations() {
		if err := secret.Grant(rel); err != nil {
			return "", errors.Annotatef(err, "granting secret %q to %q", label, rel.RemoteApplication())
		}
	}
	return secret.ID(), nil
}

func (p *Provider) expand(declared set.Strings) set.Strings {
	return roles.Expand(declared, p.config.MetaRoles)
}

// skip drops one peer contribution, logging it and counting it when
// the content was malformed rather than merely absent.
func (p *Provider) skip(scope, name string, err error) {
	if p.config.SkippedPeers != nil && !errors.Is(err, databag.ErrNoData) {
		p.config.SkippedPeers.Inc()
	}
	logSkip(scope, name, err)
}

// logSkip records one skipped peer contribution. Peers that have not
// published yet are routine and stay at debug; malformed content is
// worth an operator's eye but must not spam the error log on every
// reconciliation.
func logSkip(scope, name string, err error) {
	if errors.Is(err, databag.ErrNoData) {
		logger.Debugf("no %s databag from %q yet", scope, name)
		return
	}
	logger.Infof("skipping %s databag from %q: %v", scope, name, err)
}

func copyBag(bag map[string]string) map[string]string {
	out := make(map[string]string, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	return out
}
