// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package clustertest

import (
	"github.com/juju/errors"

	"github.com/canonical/cos-lib/cluster"
)

// SecretStore is an in-memory cluster.SecretStore.
type SecretStore struct {
	secrets map[string]*Secret
}

// NewSecretStore returns an empty secret store.
func NewSecretStore() *SecretStore {
	return &SecretStore{secrets: make(map[string]*Secret)}
}

// Add stores a secret under the given label and returns it.
func (s *SecretStore) Add(label, id string) *Secret {
	secret := &Secret{id: id}
	s.secrets[label] = secret
	return secret
}

// Secret is part of the cluster.SecretStore interface.
func (s *SecretStore) Secret(label string) (cluster.Secret, error) {
	secret, ok := s.secrets[label]
	if !ok {
		return nil, errors.NotFoundf("secret %q", label)
	}
	return secret, nil
}

// Secret is an in-memory cluster.Secret recording its grants.
type Secret struct {
	id     string
	grants []string
}

// ID is part of the cluster.Secret interface.
func (s *Secret) ID() string {
	return s.id
}

// Grant is part of the cluster.Secret interface.
func (s *Secret) Grant(rel cluster.Relation) error {
	s.grants = append(s.grants, rel.RemoteApplication())
	return nil
}

// Grants returns the remote applications granted so far, in grant
// order.
func (s *Secret) Grants() []string {
	return append([]string(nil), s.grants...)
}
