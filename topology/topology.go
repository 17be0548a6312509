// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package topology carries the identifying metadata a unit publishes
// about itself: which model it lives in, which application and unit it
// is, and which charm drives it. The coordinator aggregates worker
// topologies so that observability collaborators can label telemetry
// per source.
package topology

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
)

// Topology identifies a charm unit within a juju deployment. The json
// tags are the wire names used inside cluster relation databags.
type Topology struct {
	Model       string `json:"model"`
	ModelUUID   string `json:"model_uuid"`
	Application string `json:"application"`
	Unit        string `json:"unit"`
	CharmName   string `json:"charm_name"`
}

// Validate checks that the topology identifies a real deployment
// location. Unit may be empty for application-scoped topologies; when
// set it must be a well-formed unit name.
func (t Topology) Validate() error {
	if t.Model == "" {
		return errors.NotValidf("empty model name")
	}
	if !names.IsValidModel(t.ModelUUID) {
		return errors.NotValidf("model uuid %q", t.ModelUUID)
	}
	if !names.IsValidApplication(t.Application) {
		return errors.NotValidf("application name %q", t.Application)
	}
	if t.Unit != "" && !names.IsValidUnit(t.Unit) {
		return errors.NotValidf("unit name %q", t.Unit)
	}
	return nil
}

// Identifier returns the stable identifier of the deployment the
// topology belongs to, unique per application per model.
func (t Topology) Identifier() string {
	return fmt.Sprintf("%s_%s_%s", t.Model, t.ModelUUID, t.Application)
}

// Labels renders the topology as telemetry labels in the form the COS
// stack expects. Empty fields are left out.
func (t Topology) Labels() map[string]string {
	labels := map[string]string{
		"juju_model":       t.Model,
		"juju_model_uuid":  t.ModelUUID,
		"juju_application": t.Application,
	}
	if t.Unit != "" {
		labels["juju_unit"] = t.Unit
	}
	if t.CharmName != "" {
		labels["juju_charm"] = t.CharmName
	}
	return labels
}
