// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package databag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
)

// ValidationError reports databag content that cannot be loaded into a
// record: values that are not valid JSON, values of the wrong shape, or
// required keys that are absent. The peer that wrote the bag is at
// fault, so callers normally skip its contribution instead of failing.
type ValidationError struct {
	// Problems maps each offending databag key to a description of
	// what is wrong with it.
	Problems map[string]string
}

// Keys returns the offending databag keys in sorted order.
func (e *ValidationError) Keys() []string {
	keys := make([]string, 0, len(e.Problems))
	for k := range e.Problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Error is part of the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, k := range e.Keys() {
		parts = append(parts, fmt.Sprintf("%q: %s", k, e.Problems[k]))
	}
	return "invalid databag content: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err is, or wraps, a
// *ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
