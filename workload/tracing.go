// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/cos-lib/databag"
)

// CharmTracingConfig returns the endpoint the charm's own traces
// should go to and the CA certificate to verify it with, both empty
// while the coordinator advertises no otlp_http receiver. The charm
// hands these to its tracer, writing the certificate wherever that
// tracer wants it. An https endpoint without cluster TLS material is
// an error: traces would go nowhere and the operator should know.
func (w *Worker) CharmTracingConfig() (endpoint, caCert string, err error) {
	received, err := w.config.Cluster.ReceiveConfig()
	if errors.Is(err, databag.ErrNoData) {
		return "", "", nil
	} else if err != nil {
		return "", "", errors.Trace(err)
	}
	endpoint = received.TracingReceivers["otlp_http"]
	if endpoint == "" {
		return "", "", nil
	}
	if !strings.HasPrefix(endpoint, "https://") {
		return endpoint, "", nil
	}
	if received.CACert == "" {
		return "", "", errors.New("cannot send traces to an https endpoint without a certificate")
	}
	return endpoint, received.CACert, nil
}
