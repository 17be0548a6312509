// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"strconv"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/version/v2"
)

const (
	// ErrUnsupportedVersion reports that no configured version range
	// serves the requested workload version. The affected workers are
	// sent an empty configuration; the coordinator itself stays up.
	ErrUnsupportedVersion = errors.ConstError("unsupported worker config version")

	// ErrVersionConflict reports that the connected workers disagree
	// on the config version they need. No single payload can serve
	// them all, so publishing is skipped for the pass; the condition
	// heals once the stray worker is upgraded or removed.
	ErrVersionConflict = errors.ConstError("conflicting worker config versions")
)

// VersionRange bounds the span of workload versions one config builder
// serves. Either bound may be inclusive or exclusive.
type VersionRange struct {
	Lower          version.Number
	LowerInclusive bool
	Upper          version.Number
	UpperInclusive bool
}

// Contains reports whether the version falls inside the range.
func (r VersionRange) Contains(v version.Number) bool {
	switch c := v.Compare(r.Lower); {
	case c < 0:
		return false
	case c == 0 && !r.LowerInclusive:
		return false
	}
	switch c := v.Compare(r.Upper); {
	case c > 0:
		return false
	case c == 0 && !r.UpperInclusive:
		return false
	}
	return true
}

// ParseWorkerVersion parses a version as workers declare them: up to
// three dotted integers with missing components defaulting to zero, so
// "2.8" means 2.8.0 and the "oldest" sentinel "0" means 0.0.0.
func ParseWorkerVersion(raw string) (version.Number, error) {
	parts := strings.Split(raw, ".")
	if raw == "" || len(parts) > 3 {
		return version.Number{}, errors.NotValidf("worker version %q", raw)
	}
	var fields [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return version.Number{}, errors.NotValidf("worker version %q", raw)
		}
		fields[i] = n
	}
	return version.Number{Major: fields[0], Minor: fields[1], Patch: fields[2]}, nil
}

// Negotiate picks the config builder serving the versions the workers
// declared. Workers declaring no version accept whatever the declared
// ones agree on; with no declared versions at all the lowest supported
// version is served, so legacy fleets keep working. More than one
// distinct declared version is a conflict: no single payload can serve
// both, and silently picking one would feed half the fleet a config
// schema it cannot parse.
func Negotiate(builders map[VersionRange]ConfigBuilder, declared []string) (ConfigBuilder, error) {
	distinct := distinctVersions(declared)
	switch len(distinct) {
	case 0:
		fallback, ok := defaultVersion(builders)
		if !ok {
			return nil, errors.Annotatef(ErrUnsupportedVersion, "no builders configured")
		}
		return builderFor(builders, fallback)
	case 1:
		requested, err := ParseWorkerVersion(distinct[0])
		if err != nil {
			return nil, errors.Annotatef(ErrUnsupportedVersion, "undecodable worker version %q", distinct[0])
		}
		return builderFor(builders, requested)
	default:
		return nil, errors.Annotatef(ErrVersionConflict,
			"workers request versions %s", strings.Join(distinct, ", "))
	}
}

func builderFor(builders map[VersionRange]ConfigBuilder, v version.Number) (ConfigBuilder, error) {
	for r, builder := range builders {
		if r.Contains(v) {
			return builder, nil
		}
	}
	return nil, errors.Annotatef(ErrUnsupportedVersion, "version %s matches no supported range", v)
}

// defaultVersion is the version served to workers that declare none:
// the lowest version any range in the table actually covers. A
// non-inclusive lower bound serves from one patch level up.
func defaultVersion(builders map[VersionRange]ConfigBuilder) (version.Number, bool) {
	var lowest version.Number
	found := false
	for r := range builders {
		candidate := r.Lower
		if !r.LowerInclusive {
			candidate.Patch++
		}
		if !found || candidate.Compare(lowest) < 0 {
			lowest = candidate
			found = true
		}
	}
	return lowest, found
}

// distinctVersions returns the distinct non-empty versions the workers
// declared, sorted. Distinctness is judged on the declared strings
// themselves, as the workers wrote them.
func distinctVersions(declared []string) []string {
	versions := set.NewStrings()
	for _, v := range declared {
		if v != "" {
			versions.Add(v)
		}
	}
	return versions.SortedValues()
}
