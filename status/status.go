// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package status holds the unit status vocabulary the library reports
// through: the small set of workload states a charm can surface to the
// operator, and the message conventions that make failure classes
// greppable.
package status

import "fmt"

// Status describes the operator-visible state of a unit.
type Status string

const (
	// Blocked means the unit needs manual intervention to proceed, a
	// missing relation or a broken deployment shape say.
	Blocked Status = "blocked"

	// Waiting means the unit is healthy but cannot proceed until
	// something out of the operator's hands happens, typically another
	// unit or integration becoming ready.
	Waiting Status = "waiting"

	// Maintenance means the unit is busy on its own workload, for
	// example restarting the worker process.
	Maintenance Status = "maintenance"

	// Active means the unit is up and serving.
	Active Status = "active"
)

// KnownStatus reports whether the status is part of the vocabulary.
func (s Status) KnownStatus() bool {
	switch s {
	case Blocked, Waiting, Maintenance, Active:
		return true
	}
	return false
}

// StatusInfo pairs a status with the message shown next to it.
type StatusInfo struct {
	Status  Status
	Message string
}

// String is part of the fmt.Stringer interface.
func (s StatusInfo) String() string {
	if s.Message == "" {
		return string(s.Status)
	}
	return fmt.Sprintf("%s: %s", s.Status, s.Message)
}

// Message prefixes used so operators can tell failure classes apart
// from the status text alone.
const (
	// ConsistencyTag marks cluster shape problems: no workers, missing
	// roles, missing required integrations.
	ConsistencyTag = "[consistency]"

	// CoordinatorTag marks conditions local to the coordinator, such
	// as a degraded but functional deployment.
	CoordinatorTag = "[coordinator]"
)
