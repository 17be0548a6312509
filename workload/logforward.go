// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/canonical/cos-lib/databag"
	"github.com/canonical/cos-lib/topology"
)

// logForwardingLabel is the pebble layer carrying the log targets.
const logForwardingLabel = "log-forwarding"

// UpdateLogForwarding brings the container's pebble log targets in
// line with the Loki endpoints the coordinator advertises: workload
// stdout and stderr stream to every active endpoint, labelled with
// the unit's topology.
func (w *Worker) UpdateLogForwarding() error {
	if !w.config.Container.CanConnect() {
		return nil
	}
	var active map[string]string
	received, err := w.config.Cluster.ReceiveConfig()
	if err == nil {
		active = received.LokiEndpoints
	} else if !errors.Is(err, databag.ErrNoData) {
		return errors.Trace(err)
	}
	return errors.Trace(w.reconcileLogTargets(active))
}

// DisableLogForwarding diverts every log target away. Charms call it
// when the cluster relation breaks, while the departing endpoint data
// may still be visible.
func (w *Worker) DisableLogForwarding() error {
	if !w.config.Container.CanConnect() {
		return nil
	}
	return errors.Trace(w.reconcileLogTargets(nil))
}

func (w *Worker) reconcileLogTargets(active map[string]string) error {
	plan, err := w.config.Container.Plan()
	if err != nil {
		return errors.Annotate(err, "reading the current plan")
	}
	layer, err := logTargetsLayer(string(plan), active, w.config.Cluster.Topology())
	if err != nil {
		return errors.Trace(err)
	}
	if layer == "" {
		return nil
	}
	return errors.Trace(w.config.Container.AddLayer(logForwardingLabel, []byte(layer)))
}

type logTarget struct {
	Override string            `yaml:"override"`
	Type     string            `yaml:"type,omitempty"`
	Location string            `yaml:"location,omitempty"`
	Services []string          `yaml:"services"`
	Labels   map[string]string `yaml:"labels,omitempty"`
}

// logTargetsLayer renders a layer declaring one loki target per
// active endpoint and diverting away any target in the plan that no
// longer has one. Empty when there is nothing to declare.
func logTargetsLayer(plan string, active map[string]string, topo topology.Topology) (string, error) {
	var current struct {
		LogTargets map[string]interface{} `yaml:"log-targets"`
	}
	if err := yaml.Unmarshal([]byte(plan), &current); err != nil {
		return "", errors.Annotate(err, "parsing pebble plan")
	}
	targets := make(map[string]logTarget)
	for name := range current.LogTargets {
		if _, ok := active[name]; ok {
			continue
		}
		targets[name] = logTarget{Override: "replace", Services: []string{"-all"}}
	}
	for name, url := range active {
		targets[name] = logTarget{
			Override: "replace",
			Type:     "loki",
			Location: url,
			Services: []string{"all"},
			Labels: map[string]string{
				"product":          "Juju",
				"charm":            topo.CharmName,
				"juju_model":       topo.Model,
				"juju_model_uuid":  topo.ModelUUID,
				"juju_application": topo.Application,
				"juju_unit":        topo.Unit,
			},
		}
	}
	if len(targets) == 0 {
		return "", nil
	}
	out, err := yaml.Marshal(map[string]interface{}{"log-targets": targets})
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(out), nil
}
