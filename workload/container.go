// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"context"

	"github.com/juju/errors"
)

// ErrChangeFailed marks a service operation the container accepted but
// whose change then failed, typically because the workload process
// exited while coming up. This class is transient, the restart
// supervisor retries it; any other container error aborts the pass.
const ErrChangeFailed = errors.ConstError("pebble change failed")

// Container is the slice of a workload container the worker drives:
// file transfer, layer management and service lifecycle. The
// production implementation is PebbleContainer; tests substitute an
// in-memory one.
type Container interface {
	// CanConnect reports whether the container API is reachable.
	CanConnect() bool

	// Plan returns the merged pebble plan as YAML.
	Plan() ([]byte, error)

	// AddLayer adds or amends the labelled layer.
	AddLayer(label string, layer []byte) error

	// Services reports, for each named service, whether it is
	// currently running. No names means all known services.
	Services(names ...string) (map[string]bool, error)

	// Restart restarts the named services, starting any that are not
	// running, and waits for the change to settle. A failed change
	// comes back as ErrChangeFailed.
	Restart(ctx context.Context, names ...string) error

	// Exists reports whether a file exists in the container.
	Exists(path string) bool

	// Push writes a file, creating parent directories as needed.
	Push(path string, content []byte) error

	// Pull reads a file.
	Pull(path string) ([]byte, error)

	// RemovePath removes a file.
	RemovePath(path string) error

	// Exec runs a command to completion and returns its combined
	// output.
	Exec(ctx context.Context, command []string) (string, error)
}
