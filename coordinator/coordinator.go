// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package coordinator ties the cluster census to the fan-out: it
// judges whether the connected worker fleet forms a viable deployment,
// reduces that judgement to a unit status, and publishes the workload
// configuration to every worker once per meaningful state change.
//
// A reconciliation pass is snapshot-then-compute: the cluster state is
// read exactly once, and the coherency verdict, the unit status and
// the published payload are all derived from that one snapshot. The
// transport may be mutated concurrently by other units; re-reading it
// mid-pass could tie a verdict to a payload describing different
// worlds.
package coordinator

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/cos-lib/cluster"
	"github.com/canonical/cos-lib/roles"
	"github.com/canonical/cos-lib/status"
)

var logger = loggo.GetLogger("coslib.coordinator")

// ConfigBuilder produces the serialized workload configuration from
// the coordinator's snapshot of the cluster. It must be a pure
// function of its input; the library publishes its output verbatim and
// never interprets it.
type ConfigBuilder func(*Snapshot) (string, error)

// TLSProvider exposes the certificate material the coordinator ferries
// to its workers. Implementations wrap whatever certificates
// integration the charm uses.
type TLSProvider interface {
	// Enabled reports whether the certificates integration is active.
	Enabled() bool

	// CACert and ServerCert return PEM material, or "" while not
	// issued. Certificates are not sensitive and travel in plain
	// relation data.
	CACert() string
	ServerCert() string

	// HasPrivateKey reports whether the server's private key exists.
	// The key itself never passes through the library; workers receive
	// a secret grant instead.
	HasPrivateKey() bool
}

// S3Requirer supplies the raw connection attributes published by the
// object-storage integrator, nil or empty while the integration is
// absent.
type S3Requirer interface {
	ConnectionInfo() map[string]interface{}
}

// EndpointProvider exposes named endpoints gathered from an
// observability integration: Loki push urls keyed by unit, or tracing
// receiver urls keyed by protocol.
type EndpointProvider interface {
	Endpoints() map[string]string
}

// ResourcePatch reports on the compute resource patching applied to
// the coordinator's container, for charms that request any.
type ResourcePatch interface {
	// Ready reports whether the patch has been applied. Publishing
	// waits for it, to avoid racing the workload restart a patch
	// causes.
	Ready() bool

	// Status is the patch's own contribution to the unit status.
	Status() status.StatusInfo
}

// Config holds the dependencies and policy of a Coordinator.
type Config struct {
	// Spec defines the deployment's role universe and shape.
	Spec roles.Spec

	// Endpoint is the name of the cluster relation endpoint.
	Endpoint string

	// Transport supplies relation state and leadership.
	Transport cluster.Transport

	// Secrets grants workers access to the private key secret.
	// Required when TLS is set.
	Secrets cluster.SecretStore

	// ConfigBuilder produces the workload configuration published to
	// the workers. Exactly one of ConfigBuilder and VersionedBuilders
	// must be set.
	ConfigBuilder ConfigBuilder

	// VersionedBuilders maps workload version ranges to builders, for
	// deployments whose config schema changes across workload
	// versions.
	VersionedBuilders map[VersionRange]ConfigBuilder

	// WorkerVersions reports the config schema versions the connected
	// worker applications declared, "" for workers declaring none.
	// Only consulted with VersionedBuilders.
	WorkerVersions func() []string

	// IsCoherent and IsRecommended replace the built-in deployment
	// shape evaluation, for deployments whose rules cannot be
	// expressed as role-count thresholds. They receive the same
	// snapshot the built-in evaluation would.
	IsCoherent    func(*Snapshot, roles.Spec) bool
	IsRecommended func(*Snapshot, roles.Spec) bool

	// TLS supplies certificate material for the fan-out. Optional.
	TLS TLSProvider

	// PrivateKeySecretLabel names the secret holding the server's
	// private key. Required when TLS is set.
	PrivateKeySecretLabel string

	// S3 supplies the object-storage connection attributes.
	S3 S3Requirer

	// LokiEndpoints and TracingReceivers feed the corresponding
	// fan-out payload fields. Optional.
	LokiEndpoints    EndpointProvider
	TracingReceivers EndpointProvider

	// ResourcePatch gates publishing on container resource patching.
	// Optional.
	ResourcePatch ResourcePatch

	// Registerer, when set, has the coordinator's metrics collector
	// registered with it.
	Registerer prometheus.Registerer
}

// Validate is part of the config contract. A spec violation here is a
// configuration error: the coordinator refuses to build and the caller
// must refuse to start.
func (c Config) Validate() error {
	if err := c.Spec.Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.Endpoint == "" {
		return errors.NotValidf("empty Endpoint")
	}
	if c.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if c.S3 == nil {
		return errors.NotValidf("nil S3")
	}
	if c.ConfigBuilder == nil && len(c.VersionedBuilders) == 0 {
		return errors.NotValidf("config without a ConfigBuilder")
	}
	if c.ConfigBuilder != nil && len(c.VersionedBuilders) > 0 {
		return errors.NotValidf("both ConfigBuilder and VersionedBuilders")
	}
	if c.TLS != nil {
		if c.PrivateKeySecretLabel == "" {
			return errors.NotValidf("TLS without a PrivateKeySecretLabel")
		}
		if c.Secrets == nil {
			return errors.NotValidf("TLS without a Secrets store")
		}
	}
	return nil
}

// Coordinator drives one coordinated deployment: it keeps the census
// of the worker fleet, judges the deployment shape, and fans the
// workload configuration out to every worker.
type Coordinator struct {
	config  Config
	cluster *cluster.Provider
	metrics *Collector
}

// NewCoordinator builds a Coordinator and the cluster provider it
// watches the fleet through.
func NewCoordinator(config Config) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	metrics := NewMetricsCollector()
	provider, err := cluster.NewProvider(cluster.ProviderConfig{
		Endpoint:     config.Endpoint,
		Transport:    config.Transport,
		MetaRoles:    config.Spec.MetaRoles,
		Secrets:      config.Secrets,
		SkippedPeers: metrics.skippedPeers,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if config.Registerer != nil {
		if err := config.Registerer.Register(metrics); err != nil {
			return nil, errors.Annotate(err, "registering metrics collector")
		}
	}
	return &Coordinator{
		config:  config,
		cluster: provider,
		metrics: metrics,
	}, nil
}

// Cluster exposes the provider side of the cluster endpoint, for
// callers needing the raw census or addresses directly, certificate
// SANs say.
func (c *Coordinator) Cluster() *cluster.Provider {
	return c.cluster
}

// Snapshot is the coordinator's view of the cluster, read once at the
// start of a reconciliation pass and reused for every derived
// computation within it.
type Snapshot struct {
	// HasWorkers reports that at least one worker relation exists,
	// whatever the state of its data.
	HasWorkers bool

	// Census counts worker units per expanded role.
	Census roles.Census

	// AddressesByRole and Addresses hold the announced worker
	// addresses, grouped and flat.
	AddressesByRole map[roles.Role]set.Strings
	Addresses       set.Strings

	// Units lists every announced worker unit with its topology.
	Units []cluster.UnitInfo

	// WorkerVersions holds the config schema versions the worker
	// applications declared, "" for workers declaring none.
	WorkerVersions []string
}

// Snapshot reads the cluster state once. Every computation inside a
// single reconciliation pass must share a single snapshot.
func (c *Coordinator) Snapshot() *Snapshot {
	snap := &Snapshot{
		HasWorkers:      c.cluster.HasWorkers(),
		Census:          c.cluster.GatherRoles(),
		AddressesByRole: c.cluster.GatherAddressesByRole(),
		Units:           c.cluster.GatherTopology(),
	}
	snap.Addresses = set.NewStrings()
	for _, addresses := range snap.AddressesByRole {
		snap.Addresses = snap.Addresses.Union(addresses)
	}
	if c.config.WorkerVersions != nil {
		snap.WorkerVersions = c.config.WorkerVersions()
	}
	return snap
}

// Reconcile runs one pass: snapshot the cluster, publish the
// configuration when allowed, and report the unit status. The returned
// error is fatal for the pass, a worker version conflict or a failed
// relation write; per-peer problems never surface here.
func (c *Coordinator) Reconcile() (status.StatusInfo, error) {
	snap := c.Snapshot()
	verdict := c.Coherency(snap)
	c.metrics.observe(c.config.Spec, snap.Census, verdict)
	err := c.publish(snap, verdict)
	return c.reduceStatus(snap, verdict), errors.Trace(err)
}

// CanHandleEvents reports whether the coordinator is in a state where
// acting on cluster events is safe: workers present, deployment
// coherent, object storage ready.
func (c *Coordinator) CanHandleEvents(snap *Snapshot) bool {
	return snap.HasWorkers && c.Coherency(snap).Coherent && c.s3Ready()
}

// TLSAvailable reports whether the full certificate set is on hand:
// CA certificate, server certificate and private key. Workers are only
// told about TLS once all three exist.
func (c *Coordinator) TLSAvailable() bool {
	tls := c.config.TLS
	return tls != nil && tls.Enabled() &&
		tls.CACert() != "" && tls.ServerCert() != "" && tls.HasPrivateKey()
}
