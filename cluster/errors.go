// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cluster

import (
	"github.com/juju/errors"
)

const (
	// ErrNotLeader reports an attempt to write application-wide
	// relation data from a unit that does not hold leadership. It
	// marks a caller bug, distinct from peers publishing bad data,
	// which the registry absorbs silently.
	ErrNotLeader = errors.ConstError("unit is not the application leader")
)
