// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cluster

// Transport gives the library its window onto the charm's relation
// state. Implementations adapt whatever charm framework hosts the
// charm; the library treats the whole thing as a synchronous key-value
// store scoped per relation, pre-fetched and immutable for the length
// of one reconciliation pass.
type Transport interface {
	// Relations returns the relations currently established on the
	// named endpoint, ready or not, in stable order.
	Relations(endpoint string) []Relation

	// IsLeader reports whether this unit holds application leadership
	// right now. Leadership can move between passes, never during one.
	IsLeader() bool
}

// Relation is one established relation on a cluster endpoint.
type Relation interface {
	// Ready reports whether the relation can carry data at all: the
	// remote application is known and the databags are accessible.
	// Relations are set up and torn down in stages; one that is not
	// ready is invisible to the registry, which is a distinct and more
	// severe condition than carrying invalid data.
	Ready() bool

	// RemoteApplication names the application on the far side of the
	// relation, or returns "" while it is not yet known.
	RemoteApplication() string

	// RemoteAppData returns the remote application databag.
	RemoteAppData() map[string]string

	// RemoteUnits returns the names of the remote units present on
	// the relation, in stable order.
	RemoteUnits() []string

	// RemoteUnitData returns the named remote unit's databag.
	RemoteUnitData(unit string) map[string]string

	// LocalAppData returns the local application databag.
	LocalAppData() map[string]string

	// ReplaceLocalAppData substitutes the local application databag
	// wholesale. The transport must not rewrite identical content, so
	// republishing an unchanged snapshot stays a no-op for relation
	// watchers on the far side.
	ReplaceLocalAppData(data map[string]string) error

	// LocalUnitData returns this unit's databag on the relation.
	LocalUnitData() map[string]string

	// ReplaceLocalUnitData substitutes this unit's databag wholesale,
	// with the same no-op-on-no-change expectation as app data.
	ReplaceLocalUnitData(data map[string]string) error
}

// SecretStore hands out references to secrets owned by this
// application. The library only ever grants access and reads back
// opaque ids; secret content never passes through it.
type SecretStore interface {
	// Secret returns the secret with the given label.
	Secret(label string) (Secret, error)
}

// Secret is a handle on one stored secret.
type Secret interface {
	// ID returns the secret's opaque identifier, stable across grants.
	ID() string

	// Grant allows the remote application on the relation to read the
	// secret.
	Grant(rel Relation) error
}
