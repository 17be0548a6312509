// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cluster_test

import (
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus"
	gc "gopkg.in/check.v1"

	"github.com/canonical/cos-lib/cluster"
	"github.com/canonical/cos-lib/clustertest"
	"github.com/canonical/cos-lib/databag"
	"github.com/canonical/cos-lib/roles"
)

const endpoint = "mimir-cluster"

var metaRoles = map[roles.Role][]roles.Role{
	"all": {"read", "write", "backend"},
}

type providerSuite struct {
	testing.IsolationSuite

	transport *clustertest.Transport
	logWriter loggo.TestWriter
}

var _ = gc.Suite(&providerSuite{})

func (s *providerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.transport = clustertest.NewTransport()
	s.logWriter.Clear()
	err := loggo.RegisterWriter("cluster-test", &s.logWriter)
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(*gc.C) {
		_, _ = loggo.RemoveWriter("cluster-test")
	})
	loggo.GetLogger("coslib.cluster").SetLogLevel(loggo.DEBUG)
}

func (s *providerSuite) newProvider(c *gc.C, secrets cluster.SecretStore) *cluster.Provider {
	provider, err := cluster.NewProvider(cluster.ProviderConfig{
		Endpoint:  endpoint,
		Transport: s.transport,
		MetaRoles: metaRoles,
		Secrets:   secrets,
	})
	c.Assert(err, jc.ErrorIsNil)
	return provider
}

func (s *providerSuite) skipLogCount() int {
	count := 0
	for _, entry := range s.logWriter.Log() {
		if entry.Level == loggo.INFO && strings.Contains(entry.Message, "skipping") {
			count++
		}
	}
	return count
}

func (s *providerSuite) TestConfigValidate(c *gc.C) {
	_, err := cluster.NewProvider(cluster.ProviderConfig{Transport: s.transport})
	c.Assert(err, gc.ErrorMatches, "empty Endpoint not valid")
	_, err = cluster.NewProvider(cluster.ProviderConfig{Endpoint: endpoint})
	c.Assert(err, gc.ErrorMatches, "nil Transport not valid")
}

func (s *providerSuite) TestGatherRolesCountsUnits(c *gc.C) {
	s.transport.AddWorker(endpoint, "readers", "read,write",
		"http://readers-0:8080", "http://readers-1:8080")
	s.transport.AddWorker(endpoint, "backends", "backend", "http://backends-0:8080")

	provider := s.newProvider(c, nil)
	c.Assert(provider.GatherRoles(), jc.DeepEquals, roles.Census{
		"read":    2,
		"write":   2,
		"backend": 1,
	})
}

func (s *providerSuite) TestGatherRolesExpandsMetaRoles(c *gc.C) {
	s.transport.AddWorker(endpoint, "workers", "all", "http://workers-0:8080")

	provider := s.newProvider(c, nil)
	c.Assert(provider.GatherRoles(), jc.DeepEquals, roles.Census{
		"read":    1,
		"write":   1,
		"backend": 1,
	})
}

func (s *providerSuite) TestGatherRolesSkipsMalformedRelation(c *gc.C) {
	s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")
	bad := s.transport.AddRelation(endpoint, "broken")
	bad.SetRemoteAppData(map[string]string{"role": "not json"})
	bad.AddRemoteUnit("broken/0", map[string]string{})
	s.transport.AddWorker(endpoint, "writers", "write", "http://writers-0:8080")

	provider := s.newProvider(c, nil)
	c.Assert(provider.GatherRoles(), jc.DeepEquals, roles.Census{
		"read":  1,
		"write": 1,
	})
	c.Assert(s.skipLogCount(), gc.Equals, 1)
}

func (s *providerSuite) TestGatherRolesQuietOnUnpublishedRelation(c *gc.C) {
	s.transport.AddRelation(endpoint, "newcomer")

	provider := s.newProvider(c, nil)
	c.Assert(provider.GatherRoles(), jc.DeepEquals, roles.Census{})
	// A peer that has not published yet is not worth an info log.
	c.Assert(s.skipLogCount(), gc.Equals, 0)
}

func (s *providerSuite) TestGatherRolesIgnoresNotReadyRelation(c *gc.C) {
	rel := s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")
	rel.SetReady(false)

	provider := s.newProvider(c, nil)
	c.Assert(provider.GatherRoles(), jc.DeepEquals, roles.Census{})
}

func (s *providerSuite) TestGatherRolesCountsUnitsWithBadUnitData(c *gc.C) {
	// Role counting works off the app declaration and the unit count
	// alone; a unit databag that fails to load does not change it.
	rel := s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")
	rel.AddRemoteUnit("readers/9", map[string]string{"address": "not json"})

	provider := s.newProvider(c, nil)
	c.Assert(provider.GatherRoles(), jc.DeepEquals, roles.Census{"read": 2})
}

func (s *providerSuite) TestGatherAddressesByRoleSkipsBadUnit(c *gc.C) {
	rel := s.transport.AddWorker(endpoint, "readers", "read",
		"http://readers-0:8080", "http://readers-1:8080")
	rel.AddRemoteUnit("readers/9", map[string]string{"address": "not json"})

	provider := s.newProvider(c, nil)
	byRole := provider.GatherAddressesByRole()
	c.Assert(byRole, gc.HasLen, 1)
	c.Assert(byRole["read"].SortedValues(), jc.DeepEquals, []string{
		"http://readers-0:8080", "http://readers-1:8080",
	})
	c.Assert(s.skipLogCount(), gc.Equals, 1)
}

func (s *providerSuite) TestGatherAddresses(c *gc.C) {
	s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")
	s.transport.AddWorker(endpoint, "writers", "write", "http://writers-0:8080")

	provider := s.newProvider(c, nil)
	c.Assert(provider.GatherAddresses().SortedValues(), jc.DeepEquals, []string{
		"http://readers-0:8080", "http://writers-0:8080",
	})
}

func (s *providerSuite) TestAddressForRole(c *gc.C) {
	s.transport.AddWorker(endpoint, "readers", "read",
		"http://readers-1:8080", "http://readers-0:8080")

	provider := s.newProvider(c, nil)
	c.Assert(provider.AddressForRole("read"), gc.Equals, "http://readers-0:8080")
	c.Assert(provider.AddressForRole("write"), gc.Equals, "")
}

func (s *providerSuite) TestGatherTopology(c *gc.C) {
	s.transport.AddWorker(endpoint, "readers", "read",
		"http://readers-0:8080", "http://readers-1:8080")

	provider := s.newProvider(c, nil)
	units := provider.GatherTopology()
	c.Assert(units, gc.HasLen, 2)
	c.Assert(units[0].Address, gc.Equals, "http://readers-0:8080")
	c.Assert(units[0].Topology.Unit, gc.Equals, "readers/0")
	c.Assert(units[0].Topology.Application, gc.Equals, "readers")
	c.Assert(units[1].Topology.Unit, gc.Equals, "readers/1")
}

func (s *providerSuite) TestHasWorkersEmpty(c *gc.C) {
	provider := s.newProvider(c, nil)
	c.Assert(provider.HasWorkers(), jc.IsFalse)
}

func (s *providerSuite) TestHasWorkersPessimistic(c *gc.C) {
	// Invalid databag content must not mask the fact that a worker is
	// related at all.
	rel := s.transport.AddRelation(endpoint, "broken")
	rel.SetRemoteAppData(map[string]string{"role": "not json"})

	provider := s.newProvider(c, nil)
	c.Assert(provider.HasWorkers(), jc.IsTrue)
}

func (s *providerSuite) TestHasWorkersIgnoresNotReady(c *gc.C) {
	rel := s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")
	rel.SetReady(false)

	provider := s.newProvider(c, nil)
	c.Assert(provider.HasWorkers(), jc.IsFalse)
}

func (s *providerSuite) TestPublishDataRequiresLeadership(c *gc.C) {
	s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")

	provider := s.newProvider(c, nil)
	err := provider.PublishData(cluster.ProviderAppData{WorkerConfig: "cfg"})
	c.Assert(err, jc.ErrorIs, cluster.ErrNotLeader)
}

func (s *providerSuite) TestPublishDataBroadcasts(c *gc.C) {
	relA := s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")
	relB := s.transport.AddWorker(endpoint, "writers", "write", "http://writers-0:8080")
	s.transport.SetLeader(true)

	provider := s.newProvider(c, nil)
	err := provider.PublishData(cluster.ProviderAppData{
		WorkerConfig:  "target: all",
		LokiEndpoints: map[string]string{"0": "http://loki:3100"},
	})
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(relA.LocalAppData(), jc.DeepEquals, map[string]string{
		"worker_config":  `"target: all"`,
		"loki_endpoints": `{"0":"http://loki:3100"}`,
	})
	c.Assert(relB.LocalAppData(), jc.DeepEquals, relA.LocalAppData())
}

func (s *providerSuite) TestPublishDataIdempotent(c *gc.C) {
	rel := s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")
	s.transport.SetLeader(true)

	provider := s.newProvider(c, nil)
	data := cluster.ProviderAppData{WorkerConfig: "target: all"}
	c.Assert(provider.PublishData(data), jc.ErrorIsNil)
	c.Assert(provider.PublishData(data), jc.ErrorIsNil)
	c.Assert(rel.AppDataWrites(), gc.Equals, 1)
}

func (s *providerSuite) TestPublishDataClearsStaleKeys(c *gc.C) {
	rel := s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")
	s.transport.SetLeader(true)

	provider := s.newProvider(c, nil)
	withTLS := cluster.ProviderAppData{
		WorkerConfig: "target: all",
		CACert:       "CERTIFICATE",
		ServerCert:   "CERTIFICATE",
	}
	c.Assert(provider.PublishData(withTLS), jc.ErrorIsNil)
	c.Assert(rel.LocalAppData()["ca_cert"], gc.Equals, `"CERTIFICATE"`)

	// TLS got disabled: republishing without it must remove the certs.
	c.Assert(provider.PublishData(cluster.ProviderAppData{WorkerConfig: "target: all"}), jc.ErrorIsNil)
	c.Assert(rel.LocalAppData(), jc.DeepEquals, map[string]string{
		"worker_config": `"target: all"`,
	})
}

func (s *providerSuite) TestPublishDataRoundTrips(c *gc.C) {
	rel := s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")
	s.transport.SetLeader(true)

	in := cluster.ProviderAppData{
		WorkerConfig:     "target: all",
		LokiEndpoints:    map[string]string{"0": "http://loki:3100"},
		TracingReceivers: map[string]string{"otlp_grpc": "http://tempo:4317"},
		CACert:           "CA",
		ServerCert:       "CERT",
		PrivKeySecretID:  "secret:1234",
	}
	provider := s.newProvider(c, nil)
	c.Assert(provider.PublishData(in), jc.ErrorIsNil)

	var out cluster.ProviderAppData
	c.Assert(databag.Load(rel.LocalAppData(), &out), jc.ErrorIsNil)
	c.Assert(out, jc.DeepEquals, in)
}

func (s *providerSuite) TestGrantPrivateKey(c *gc.C) {
	s.transport.AddWorker(endpoint, "readers", "read", "http://readers-0:8080")
	s.transport.AddWorker(endpoint, "writers", "write", "http://writers-0:8080")
	store := clustertest.NewSecretStore()
	secret := store.Add("privkey", "secret:1234")

	provider := s.newProvider(c, store)
	id, err := provider.GrantPrivateKey("privkey")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(id, gc.Equals, "secret:1234")
	c.Assert(secret.Grants(), jc.DeepEquals, []string{"readers", "writers"})
}

func (s *providerSuite) TestGrantPrivateKeyUnknownLabel(c *gc.C) {
	provider := s.newProvider(c, clustertest.NewSecretStore())
	_, err := provider.GrantPrivateKey("privkey")
	c.Assert(err, gc.ErrorMatches, `looking up secret "privkey": secret "privkey" not found`)
}

func (s *providerSuite) TestGrantPrivateKeyWithoutStore(c *gc.C) {
	provider := s.newProvider(c, nil)
	_, err := provider.GrantPrivateKey("privkey")
	c.Assert(err, jc.ErrorIs, errors.NotSupported)
}

func (s *providerSuite) TestExpandedRolesReachAddressGathering(c *gc.C) {
	s.transport.AddWorker(endpoint, "workers", "all", "http://workers-0:8080")

	provider := s.newProvider(c, nil)
	byRole := provider.GatherAddressesByRole()
	c.Assert(byRole, gc.HasLen, 3)
	for _, role := range []roles.Role{"read", "write", "backend"} {
		c.Assert(byRole[role].Contains("http://workers-0:8080"), jc.IsTrue,
			gc.Commentf("role %q", role))
	}
}

type countingCounter struct {
	prometheus.Counter
	count int
}

func (c *countingCounter) Inc() {
	c.count++
}

func (s *providerSuite) TestSkippedPeersCounted(c *gc.C) {
	bad := s.transport.AddRelation(endpoint, "broken")
	bad.SetRemoteAppData(map[string]string{"role": "not json"})
	s.transport.AddRelation(endpoint, "newcomer")

	counter := &countingCounter{}
	provider, err := cluster.NewProvider(cluster.ProviderConfig{
		Endpoint:     endpoint,
		Transport:    s.transport,
		SkippedPeers: counter,
	})
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(provider.GatherRoles(), jc.DeepEquals, roles.Census{})
	// The malformed peer counts; the one that has not published yet
	// does not.
	c.Assert(counter.count, gc.Equals, 1)
}
