// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"github.com/juju/errors"

	"github.com/canonical/cos-lib/cluster"
)

// Publish builds the configuration payload and broadcasts it to every
// worker relation, when the coordinator is in a state to do so:
// resources patched, deployment coherent, this unit the leader.
// Outside those states it is a logged no-op, not a failure. The full
// current payload is always submitted; the transport's
// no-op-on-no-change write semantics make republishing an unchanged
// payload free, so there is no diffing here.
func (c *Coordinator) Publish(snap *Snapshot) error {
	return errors.Trace(c.publish(snap, c.Coherency(snap)))
}

func (c *Coordinator) publish(snap *Snapshot, verdict Verdict) error {
	if c.config.ResourcePatch != nil && !c.config.ResourcePatch.Ready() {
		logger.Debugf("resource patch not ready yet, skipping cluster update")
		return nil
	}
	if !verdict.Coherent {
		logger.Errorf("skipped cluster update: incoherent deployment")
		return nil
	}
	if !c.config.Transport.IsLeader() {
		logger.Debugf("skipped cluster update: not the leader")
		return nil
	}

	workerConfig, err := c.buildConfig(snap)
	switch {
	case errors.Is(err, ErrVersionConflict):
		logger.Errorf("skipped cluster update: %v", err)
		return errors.Trace(err)
	case errors.Is(err, ErrUnsupportedVersion):
		// The requesting workers get an empty config rather than a
		// stale one; the fleet recovers as soon as they are upgraded.
		logger.Errorf("publishing empty worker config: %v", err)
		workerConfig = ""
	case err != nil:
		return errors.Annotate(err, "building worker config")
	}

	data := cluster.ProviderAppData{WorkerConfig: workerConfig}
	if c.config.LokiEndpoints != nil {
		data.LokiEndpoints = c.config.LokiEndpoints.Endpoints()
	}
	if c.config.TracingReceivers != nil {
		data.TracingReceivers = c.config.TracingReceivers.Endpoints()
	}
	if c.TLSAvailable() {
		data.CACert = c.config.TLS.CACert()
		data.ServerCert = c.config.TLS.ServerCert()
		secretID, err := c.cluster.GrantPrivateKey(c.config.PrivateKeySecretLabel)
		if err != nil {
			return errors.Annotate(err, "granting workers the private key")
		}
		data.PrivKeySecretID = secretID
	}

	if err := c.cluster.PublishData(data); err != nil {
		return errors.Trace(err)
	}
	c.metrics.publishes.Inc()
	return nil
}

func (c *Coordinator) buildConfig(snap *Snapshot) (string, error) {
	if c.config.ConfigBuilder != nil {
		return c.config.ConfigBuilder(snap)
	}
	builder, err := Negotiate(c.config.VersionedBuilders, snap.WorkerVersions)
	if err != nil {
		return "", errors.Trace(err)
	}
	return builder(snap)
}
