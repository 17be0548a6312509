// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/cos-lib/roles"
	"github.com/canonical/cos-lib/status"
)

// EndpointStatus describes the workload as seen through its readiness
// endpoint.
type EndpointStatus string

const (
	// EndpointStarting means the services run but the workload does
	// not report ready yet.
	EndpointStarting EndpointStatus = "starting"

	// EndpointUp means the workload reports ready.
	EndpointUp EndpointStatus = "up"

	// EndpointDown means the services are down, configuration is
	// missing, or the readiness endpoint does not answer.
	EndpointDown EndpointStatus = "down"
)

// HTTPClient performs the readiness probe requests. *http.Client
// satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ServiceEndpointStatus sizes up the workload through its readiness
// endpoint. Readiness is advisory: every failure on the way to the
// endpoint reports the workload down rather than erroring out, and
// only a worker without a configured endpoint gets ErrNotSupported.
func (w *Worker) ServiceEndpointStatus(ctx context.Context) (EndpointStatus, error) {
	if w.config.ReadinessEndpoint == nil {
		return "", errors.NotSupportedf("readiness check without an endpoint")
	}
	if !w.config.Container.CanConnect() {
		logger.Debugf("container not connectable, reporting the workload down")
		return EndpointDown, nil
	}
	if w.runningConfig() == nil {
		logger.Debugf("no workload config on disk, reporting the workload down")
		return EndpointDown, nil
	}
	services, err := w.layerServiceNames()
	if err != nil {
		logger.Infof("cannot inspect the workload layer: %v", err)
		return EndpointDown, nil
	}
	running, err := w.config.Container.Services(services...)
	if err != nil {
		logger.Infof("cannot inspect service state: %v", err)
		return EndpointDown, nil
	}
	up, down := 0, 0
	for _, isUp := range running {
		if isUp {
			up++
		} else {
			down++
		}
	}
	switch {
	case down > 0 && up > 0:
		logger.Infof("some services are still starting")
		return EndpointStarting, nil
	case down > 0:
		logger.Infof("all services are down")
		return EndpointDown, nil
	}

	body, err := w.probeReadiness(ctx)
	if err != nil {
		logger.Infof("readiness probe failed: %v", err)
		return EndpointDown, nil
	}
	if body == "ready" {
		return EndpointUp, nil
	}
	// Workloads phrase "almost there" however they like; any 2xx
	// answer that is not the ready string counts as still starting.
	logger.Debugf("readiness endpoint replied %q", body)
	return EndpointStarting, nil
}

func (w *Worker) probeReadiness(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", w.config.ReadinessEndpoint(), nil)
	if err != nil {
		return "", errors.Trace(err)
	}
	client := w.config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return "", errors.Errorf("readiness endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Trace(err)
	}
	return strings.TrimSpace(string(body)), nil
}

// Status reduces the worker's condition to one unit status. Unlike
// the coordinator's early-return reduction this one collects every
// applicable condition and keeps the most severe, ties going to the
// earliest; transient conditions stack up here and the operator
// should see the worst one.
func (w *Worker) Status(ctx context.Context) status.StatusInfo {
	var candidates []status.StatusInfo
	if w.config.ResourcePatch != nil {
		if info := w.config.ResourcePatch.Status(); info.Status != status.Active {
			candidates = append(candidates, info)
		}
	}
	if !w.config.Container.CanConnect() {
		candidates = append(candidates, status.StatusInfo{
			Status:  status.Waiting,
			Message: fmt.Sprintf("Waiting for `%s` container", w.config.Name),
		})
	}
	if !w.config.Cluster.HasRelation() {
		candidates = append(candidates, status.StatusInfo{
			Status:  status.Blocked,
			Message: "Missing relation to a coordinator charm",
		})
	} else if !w.config.Cluster.RelationReady() {
		candidates = append(candidates, status.StatusInfo{
			Status:  status.Waiting,
			Message: "Cluster relation not ready",
		})
	}
	if received, err := w.config.Cluster.ReceiveConfig(); err != nil || received.WorkerConfig == "" {
		candidates = append(candidates, status.StatusInfo{
			Status:  status.Waiting,
			Message: "Waiting for coordinator to publish a config",
		})
	}
	active, err := w.Roles()
	if err != nil || len(active) == 0 {
		candidates = append(candidates, status.StatusInfo{
			Status:  status.Blocked,
			Message: "Invalid or no roles assigned: please configure some valid roles",
		})
	}
	endpointStatus, err := w.ServiceEndpointStatus(ctx)
	switch {
	case errors.Is(err, errors.NotSupported):
		logger.Debugf("readiness unknown: no readiness endpoint configured")
	case endpointStatus == EndpointStarting:
		candidates = append(candidates, status.StatusInfo{
			Status:  status.Waiting,
			Message: "Starting...",
		})
	case endpointStatus == EndpointDown:
		candidates = append(candidates, status.StatusInfo{
			Status:  status.Blocked,
			Message: "node down (see logs)",
		})
	}
	candidates = append(candidates, status.StatusInfo{
		Status:  status.Active,
		Message: readyMessage(active),
	})
	return mostSevere(candidates)
}

func readyMessage(active []roles.Role) string {
	names := make([]string, len(active))
	for i, role := range active {
		names[i] = string(role)
	}
	joined := strings.Join(names, ",")
	if joined == "all" {
		return "(all roles) ready."
	}
	return fmt.Sprintf("%s ready.", joined)
}

var severity = map[status.Status]int{
	status.Active:      0,
	status.Waiting:     1,
	status.Maintenance: 2,
	status.Blocked:     3,
}

func mostSevere(candidates []status.StatusInfo) status.StatusInfo {
	winner := candidates[0]
	for _, candidate := range candidates[1:] {
		if severity[candidate.Status] > severity[winner.Status] {
			winner = candidate
		}
	}
	return winner
}
