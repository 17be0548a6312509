// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/canonical/cos-lib/roles"
)

// CharmConfig exposes the charm's current configuration options.
type CharmConfig interface {
	Options() map[string]interface{}
}

// RolesFromOptions reads the worker's active roles from charm config:
// every "role-<name>" option set to true activates <name>. Activating
// no roles is an operator problem reported through status; a charm
// with no role options at all cannot host a worker, and that is an
// error.
func RolesFromOptions(config CharmConfig) ([]roles.Role, error) {
	found := false
	active := set.NewStrings()
	for option, value := range config.Options() {
		if !strings.HasPrefix(option, "role-") {
			continue
		}
		found = true
		if enabled, ok := value.(bool); ok && enabled {
			active.Add(strings.TrimPrefix(option, "role-"))
		}
	}
	if !found {
		return nil, errors.NotValidf("charm config without role options")
	}
	return roles.Sorted(active), nil
}
