// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cluster

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/canonical/cos-lib/roles"
	"github.com/canonical/cos-lib/topology"
)

// RequirerAppData is the application databag a worker application
// publishes for its coordinator. Only the worker's leader unit writes
// it.
type RequirerAppData struct {
	// Role holds the declared roles in comma-joined form.
	Role string `json:"role"`
}

// Roles parses the declared role string into a set.
func (d RequirerAppData) Roles() set.Strings {
	return roles.Parse(d.Role)
}

// RequirerUnitData is the databag each worker unit publishes about
// itself.
type RequirerUnitData struct {
	Topology topology.Topology `json:"juju_topology"`
	Address  string            `json:"address"`
}

// ProviderAppData is the application databag the coordinator publishes
// to every worker: the full configuration fan-out payload.
type ProviderAppData struct {
	// WorkerConfig is the whole workload configuration, in whatever
	// serialized form the coordinated application uses.
	WorkerConfig string `json:"worker_config"`

	// LokiEndpoints names the push endpoints workers ship their logs
	// to.
	LokiEndpoints map[string]string `json:"loki_endpoints,omitempty"`

	// TracingReceivers names the endpoints workers push traces to,
	// keyed on receiver protocol.
	TracingReceivers map[string]string `json:"tracing_receivers,omitempty"`

	// CACert and ServerCert carry the cluster's TLS material verbatim.
	CACert     string `json:"ca_cert,omitempty"`
	ServerCert string `json:"server_cert,omitempty"`

	// PrivKeySecretID references the secret holding the server's
	// private key. The key itself never travels in relation data; the
	// coordinator grants each worker access to the secret instead.
	PrivKeySecretID string `json:"privkey_secret_id,omitempty"`
}

// ParsedWorkerConfig unmarshals the opaque worker configuration as
// YAML. Workers use it for sanity checks and content comparison; the
// configuration's actual schema belongs to the coordinated application
// and the library does not interpret it.
func (d ProviderAppData) ParsedWorkerConfig() (map[string]interface{}, error) {
	if d.WorkerConfig == "" {
		return nil, nil
	}
	var parsed map[string]interface{}
	if err := yaml.Unmarshal([]byte(d.WorkerConfig), &parsed); err != nil {
		return nil, errors.Annotate(err, "parsing worker config")
	}
	return parsed, nil
}

// UnitInfo pairs a worker unit's announced address with its topology,
// as gathered from its unit databag.
type UnitInfo struct {
	Address  string
	Topology topology.Topology
}
