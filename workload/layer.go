// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"reflect"
	"sort"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// readinessCheckName is the pebble check watching the workload's
// readiness endpoint.
const readinessCheckName = "ready"

// withReadinessCheck returns the layer with an http check on the
// readiness endpoint spliced in.
func withReadinessCheck(layer, url string) (string, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(layer), &doc); err != nil {
		return "", errors.Annotate(err, "parsing pebble layer")
	}
	if doc == nil {
		doc = make(map[string]interface{})
	}
	checks, _ := doc["checks"].(map[string]interface{})
	if checks == nil {
		checks = make(map[string]interface{})
		doc["checks"] = checks
	}
	checks[readinessCheckName] = map[string]interface{}{
		"override": "replace",
		"http":     map[string]interface{}{"url": url},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(out), nil
}

// planSections is the slice of a layer or plan that decides whether
// the workload needs a restart.
type planSections struct {
	Services map[string]interface{} `yaml:"services"`
	Checks   map[string]interface{} `yaml:"checks"`
}

func (s *planSections) normalize() {
	if len(s.Services) == 0 {
		s.Services = nil
	}
	if len(s.Checks) == 0 {
		s.Checks = nil
	}
}

// samePlanSections reports whether the desired layer and the current
// plan agree on their service and check definitions. Other plan
// content, log targets say, never forces a service restart.
func samePlanSections(layer, plan string) (bool, error) {
	var desired, current planSections
	if err := yaml.Unmarshal([]byte(layer), &desired); err != nil {
		return false, errors.Annotate(err, "parsing pebble layer")
	}
	if err := yaml.Unmarshal([]byte(plan), &current); err != nil {
		return false, errors.Annotate(err, "parsing pebble plan")
	}
	desired.normalize()
	current.normalize()
	return reflect.DeepEqual(desired, current), nil
}

// serviceNames lists the services a layer defines, sorted.
func serviceNames(layer string) ([]string, error) {
	var parsed struct {
		Services map[string]interface{} `yaml:"services"`
	}
	if err := yaml.Unmarshal([]byte(layer), &parsed); err != nil {
		return nil, errors.Annotate(err, "parsing pebble layer")
	}
	names := make([]string, 0, len(parsed.Services))
	for name := range parsed.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
