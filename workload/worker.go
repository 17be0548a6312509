// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workload drives the worker side of a coordinated
// deployment. A Worker announces its unit to the coordinator over the
// cluster relation, lands the fanned-out configuration and TLS
// material in the workload container, keeps the container's pebble
// layer in shape, and restarts the workload services whenever any of
// that changes.
package workload

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"gopkg.in/yaml.v3"

	"github.com/canonical/cos-lib/cluster"
	"github.com/canonical/cos-lib/databag"
	"github.com/canonical/cos-lib/roles"
	"github.com/canonical/cos-lib/status"
)

var logger = loggo.GetLogger("coslib.workload")

// Paths the worker maintains inside the workload container.
const (
	// ConfigPath is where the fanned-out workload configuration lands.
	ConfigPath = "/etc/worker/config.yaml"

	// ServerCertPath and PrivateKeyPath hold the workload's own TLS
	// identity.
	ServerCertPath = "/etc/worker/server.cert"
	PrivateKeyPath = "/etc/worker/private.key"

	// ClientCAPath holds the cluster CA the workload verifies its
	// peers against.
	ClientCAPath = "/etc/worker/ca.cert"

	// RootCACertPath feeds the same CA into the container's system
	// trust store.
	RootCACertPath = "/usr/local/share/ca-certificates/ca.crt"
)

// privateKeySecretKey is the content key the coordinator stores the
// server private key under.
const privateKeySecretKey = "private-key"

const (
	restartRetryDelay = time.Minute
	restartBudget     = 15 * time.Minute
)

// SecretReader resolves granted secrets by id, the consumer side of
// the model's secret store.
type SecretReader interface {
	// SecretContent returns the content of the secret's latest
	// revision.
	SecretContent(id string) (map[string]string, error)
}

// ResourcePatch reports on the compute resource patching applied to
// the workload container, for charms that request any.
type ResourcePatch interface {
	// Status is the patch's own contribution to the unit status.
	Status() status.StatusInfo
}

// Config holds the dependencies and policy of a Worker.
type Config struct {
	// Name is the workload name: the label of the pebble layer and
	// the binary probed for its version.
	Name string

	// Container is the workload container, in production a
	// PebbleContainer.
	Container Container

	// Cluster is the worker side of the cluster relation.
	Cluster *cluster.Requirer

	// CharmConfig supplies the charm's config options, read for role
	// activation on every pass.
	CharmConfig CharmConfig

	// Layer renders the workload's pebble layer as YAML, fresh on
	// every pass.
	Layer func() (string, error)

	// Address returns the url this unit serves on, announced to the
	// coordinator.
	Address func() string

	// Secrets resolves the private key secret the coordinator grants.
	Secrets SecretReader

	// Clock times the restart retry loop.
	Clock clock.Clock

	// ReadinessEndpoint returns the workload's readiness probe url.
	// Without one the worker cannot watch the workload coming up and
	// skips readiness reporting. Optional.
	ReadinessEndpoint func() string

	// HTTPClient performs the readiness probes. Defaults to
	// http.DefaultClient. Optional.
	HTTPClient HTTPClient

	// StatusCallback surfaces transient statuses, restart attempts
	// say, as they happen. Optional.
	StatusCallback func(status.StatusInfo)

	// ResourcePatch contributes the container resource patch state to
	// the unit status. Optional.
	ResourcePatch ResourcePatch
}

// Validate is part of the config contract.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.NotValidf("empty Name")
	}
	if c.Container == nil {
		return errors.NotValidf("nil Container")
	}
	if c.Cluster == nil {
		return errors.NotValidf("nil Cluster")
	}
	if c.CharmConfig == nil {
		return errors.NotValidf("nil CharmConfig")
	}
	if c.Layer == nil {
		return errors.NotValidf("nil Layer")
	}
	if c.Address == nil {
		return errors.NotValidf("nil Address")
	}
	if c.Secrets == nil {
		return errors.NotValidf("nil Secrets")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Worker reconciles one workload unit against the state the
// coordinator publishes. All its state lives in the container and the
// relation databags, so a Worker is cheap to construct on every event.
type Worker struct {
	config Config
}

// NewWorker returns a Worker with the given configuration.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Worker{config: config}, nil
}

// Roles returns the roles currently activated in charm config.
func (w *Worker) Roles() ([]roles.Role, error) {
	return RolesFromOptions(w.config.CharmConfig)
}

// Reconcile runs one full pass: announce this unit to the
// coordinator, then bring the container in line with the published
// configuration. Safe to run on any event; it only restarts the
// workload when something actually changed.
func (w *Worker) Reconcile(ctx context.Context) error {
	if err := w.announce(); err != nil {
		return errors.Trace(err)
	}
	if !w.config.Container.CanConnect() {
		logger.Debugf("container not connectable, skipping workload update")
		return nil
	}
	if err := w.UpdateLogForwarding(); err != nil {
		return errors.Annotate(err, "updating log forwarding")
	}
	return errors.Trace(w.applyConfig(ctx))
}

// announce publishes this unit's address and topology, and on the
// leader the application's declared roles.
func (w *Worker) announce() error {
	if err := w.config.Cluster.PublishUnitAddress(w.config.Address()); err != nil {
		return errors.Annotate(err, "announcing unit address")
	}
	active, err := w.Roles()
	if err != nil {
		return errors.Trace(err)
	}
	if len(active) == 0 || !w.config.Cluster.IsLeader() {
		return nil
	}
	err = w.config.Cluster.PublishAppRoles(roles.SetOf(active...))
	return errors.Annotate(err, "announcing application roles")
}

func (w *Worker) applyConfig(ctx context.Context) error {
	tlsChanged, err := w.writeTLS(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	configChanged, err := w.writeConfig()
	if err != nil {
		return errors.Trace(err)
	}
	layerChanged, err := w.applyLayer()
	if err != nil {
		return errors.Trace(err)
	}
	if tlsChanged || configChanged || layerChanged {
		logger.Debugf("workload configuration changed, restarting")
		return errors.Trace(w.Restart(ctx))
	}

	running, err := w.config.Container.Services()
	if err != nil {
		return errors.Annotate(err, "checking service state")
	}
	for _, up := range running {
		if !up {
			logger.Debugf("some services are down, restarting")
			return errors.Trace(w.Restart(ctx))
		}
	}
	return nil
}

// writeConfig lands the configuration the coordinator published,
// reporting whether the on-disk content changed.
func (w *Worker) writeConfig() (bool, error) {
	active, err := w.Roles()
	if err != nil {
		return false, errors.Trace(err)
	}
	if len(active) == 0 {
		logger.Warningf("not writing workload config: no roles configured")
		return false, nil
	}
	received, err := w.config.Cluster.ReceiveConfig()
	if errors.Is(err, databag.ErrNoData) {
		logger.Warningf("not writing workload config: the coordinator has not published one")
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	desired, err := received.ParsedWorkerConfig()
	if err != nil {
		return false, errors.Annotate(err, "parsing received workload config")
	}
	if len(desired) == 0 {
		logger.Warningf("not writing workload config: the coordinator published an empty one")
		return false, nil
	}
	if reflect.DeepEqual(w.runningConfig(), desired) {
		return false, nil
	}
	content, err := yaml.Marshal(desired)
	if err != nil {
		return false, errors.Trace(err)
	}
	if err := w.config.Container.Push(ConfigPath, content); err != nil {
		return false, errors.Annotate(err, "writing workload config")
	}
	logger.Infof("pushed new workload configuration")
	return true, nil
}

// runningConfig returns the parsed on-disk configuration, nil when
// there is none or it is unreadable.
func (w *Worker) runningConfig() map[string]interface{} {
	if !w.config.Container.Exists(ConfigPath) {
		return nil
	}
	raw, err := w.config.Container.Pull(ConfigPath)
	if err != nil {
		logger.Warningf("cannot read the current workload config: %v", err)
		return nil
	}
	var parsed map[string]interface{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		logger.Warningf("cannot parse the current workload config: %v", err)
		return nil
	}
	return parsed
}

type tlsMaterial struct {
	serverCert string
	privateKey string
	caCert     string
}

// writeTLS brings the container's TLS material in line with what the
// coordinator shared, reporting whether anything changed. Complete
// material gets written out, absent material gets cleaned up, and the
// system trust store is refreshed either way.
func (w *Worker) writeTLS(ctx context.Context) (bool, error) {
	desired, err := w.desiredTLS()
	if err != nil {
		return false, errors.Trace(err)
	}
	if desired == nil {
		return w.removeTLS(ctx)
	}

	files := []struct {
		path    string
		content string
	}{
		{ClientCAPath, desired.caCert},
		{ServerCertPath, desired.serverCert},
		{PrivateKeyPath, desired.privateKey},
		{RootCACertPath, desired.caCert},
	}
	changed := false
	for _, f := range files {
		if w.config.Container.Exists(f.path) {
			current, err := w.config.Container.Pull(f.path)
			if err == nil && string(current) == f.content {
				continue
			}
		}
		if err := w.config.Container.Push(f.path, []byte(f.content)); err != nil {
			return false, errors.Annotatef(err, "writing %q", f.path)
		}
		changed = true
	}
	if changed {
		if err := w.refreshCACertificates(ctx); err != nil {
			return false, errors.Trace(err)
		}
	}
	return changed, nil
}

// desiredTLS returns the TLS material the coordinator shared, nil
// while the fan-out carries none or only part of it.
func (w *Worker) desiredTLS() (*tlsMaterial, error) {
	received, err := w.config.Cluster.ReceiveConfig()
	if errors.Is(err, databag.ErrNoData) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	if received.CACert == "" || received.ServerCert == "" || received.PrivKeySecretID == "" {
		return nil, nil
	}
	content, err := w.config.Secrets.SecretContent(received.PrivKeySecretID)
	if err != nil {
		return nil, errors.Annotate(err, "reading the private key secret")
	}
	key, ok := content[privateKeySecretKey]
	if !ok {
		return nil, errors.NotFoundf("private key in secret %q", received.PrivKeySecretID)
	}
	return &tlsMaterial{
		serverCert: received.ServerCert,
		privateKey: key,
		caCert:     received.CACert,
	}, nil
}

func (w *Worker) removeTLS(ctx context.Context) (bool, error) {
	changed := false
	for _, path := range []string{ClientCAPath, ServerCertPath, PrivateKeyPath, RootCACertPath} {
		if !w.config.Container.Exists(path) {
			continue
		}
		if err := w.config.Container.RemovePath(path); err != nil {
			return false, errors.Annotatef(err, "removing %q", path)
		}
		changed = true
	}
	if changed {
		if err := w.refreshCACertificates(ctx); err != nil {
			return false, errors.Trace(err)
		}
	}
	return changed, nil
}

// refreshCACertificates rebuilds the container's system trust store.
// The workload image is expected to ship the ca-certificates package.
func (w *Worker) refreshCACertificates(ctx context.Context) error {
	if _, err := w.config.Container.Exec(ctx, []string{"update-ca-certificates", "--fresh"}); err != nil {
		return errors.Annotate(err, "refreshing system CA certificates")
	}
	return nil
}

// applyLayer reconciles the container's pebble layer with the one the
// charm renders, reporting whether the plan changed.
func (w *Worker) applyLayer() (bool, error) {
	active, err := w.Roles()
	if err != nil {
		return false, errors.Trace(err)
	}
	if len(active) == 0 {
		return false, nil
	}
	desired, err := w.desiredLayer()
	if err != nil {
		return false, errors.Trace(err)
	}
	plan, err := w.config.Container.Plan()
	if err != nil {
		return false, errors.Annotate(err, "reading the current plan")
	}
	same, err := samePlanSections(desired, string(plan))
	if err != nil {
		return false, errors.Trace(err)
	}
	if same {
		return false, nil
	}
	logger.Debugf("updating the workload pebble layer")
	if err := w.config.Container.AddLayer(w.config.Name, []byte(desired)); err != nil {
		return false, errors.Annotate(err, "adding pebble layer")
	}
	return true, nil
}

// desiredLayer renders the charm's layer with the readiness check
// spliced in when one is configured.
func (w *Worker) desiredLayer() (string, error) {
	layer, err := w.config.Layer()
	if err != nil {
		return "", errors.Annotate(err, "rendering pebble layer")
	}
	if w.config.ReadinessEndpoint == nil {
		return layer, nil
	}
	return withReadinessCheck(layer, w.config.ReadinessEndpoint())
}

func (w *Worker) layerServiceNames() ([]string, error) {
	desired, err := w.desiredLayer()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return serviceNames(desired)
}

// Restart restarts the workload services, riding out the failed
// changes a workload throws while an external dependency, object
// storage say, is still coming up: one attempt a minute until the
// retry budget runs out, then the last change error surfaces. Called
// by Reconcile after any configuration change, and available to
// charms that need a restart for their own reasons.
func (w *Worker) Restart(ctx context.Context) error {
	if !w.config.Container.Exists(ConfigPath) {
		logger.Errorf("cannot restart the workload: no config on disk yet")
		return nil
	}
	active, err := w.Roles()
	if err != nil {
		return errors.Trace(err)
	}
	if len(active) == 0 {
		logger.Debugf("cannot restart the workload: no roles configured")
		return nil
	}
	services, err := w.layerServiceNames()
	if err != nil {
		return errors.Trace(err)
	}
	if len(services) == 0 {
		logger.Debugf("nothing to restart: the layer defines no services")
		return nil
	}

	attempt := 0
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			attempt++
			w.setStatus(status.StatusInfo{
				Status:  status.Maintenance,
				Message: fmt.Sprintf("restarting... (attempt #%d)", attempt),
			})
			return w.config.Container.Restart(ctx, services...)
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, ErrChangeFailed)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Warningf("restart attempt %d failed: %v", attempt, err)
		},
		Attempts:    -1,
		Delay:       restartRetryDelay,
		MaxDuration: restartBudget,
		Clock:       w.config.Clock,
		Stop:        ctx.Done(),
	})
	if retry.IsDurationExceeded(err) || retry.IsAttemptsExceeded(err) {
		logger.Errorf("workload services will not come up; is object storage reachable?")
		err = retry.LastError(err)
	}
	return errors.Trace(err)
}

func (w *Worker) setStatus(info status.StatusInfo) {
	if w.config.StatusCallback != nil {
		w.config.StatusCallback(info)
	}
}

var versionRE = regexp.MustCompile(`[Vv]ersion:?\s*(\S+)`)

// RunningVersion probes the workload binary for its version, ""
// while the container is unreachable or the output is
// unrecognizable.
func (w *Worker) RunningVersion(ctx context.Context) (string, error) {
	if !w.config.Container.CanConnect() {
		return "", nil
	}
	out, err := w.config.Container.Exec(ctx, []string{"/bin/" + w.config.Name, "-version"})
	if err != nil {
		return "", errors.Annotate(err, "probing the workload version")
	}
	if m := versionRE.FindStringSubmatch(out); m != nil {
		return m[1], nil
	}
	return "", nil
}
