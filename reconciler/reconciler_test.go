// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/canonical/cos-lib/reconciler"
)

const (
	topic     = "cluster.reconcile"
	longWait  = 10 * time.Second
	shortWait = 50 * time.Millisecond
)

// passRecorder counts reconciliation passes and fans each one out to
// the test goroutine.
type passRecorder struct {
	mu    sync.Mutex
	count int

	passes chan struct{}
}

func newPassRecorder() *passRecorder {
	return &passRecorder{passes: make(chan struct{}, 16)}
}

func (r *passRecorder) reconcile(ctx context.Context) error {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	select {
	case r.passes <- struct{}{}:
	case <-ctx.Done():
	}
	return nil
}

func (r *passRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type reconcilerSuite struct {
	testing.IsolationSuite

	hub *pubsub.SimpleHub
}

var _ = gc.Suite(&reconcilerSuite{})

func (s *reconcilerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.hub = pubsub.NewSimpleHub(nil)
}

func (s *reconcilerSuite) validConfig() reconciler.Config {
	return reconciler.Config{
		Hub:       s.hub,
		Topic:     topic,
		Reconcile: func(context.Context) error { return nil },
		Clock:     clock.WallClock,
		Logger:    loggo.GetLogger("test.reconciler"),
	}
}

func (s *reconcilerSuite) newWorker(c *gc.C, reconcile func(context.Context) error) *reconciler.Worker {
	config := s.validConfig()
	config.Reconcile = reconcile
	w, err := reconciler.NewWorker(config)
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) { workertest.DirtyKill(c, w) })
	return w
}

func (s *reconcilerSuite) waitPass(c *gc.C, rec *passRecorder) {
	select {
	case <-rec.passes:
	case <-time.After(longWait):
		c.Fatalf("timed out waiting for a reconciliation pass")
	}
}

func (s *reconcilerSuite) assertNoPass(c *gc.C, rec *passRecorder) {
	select {
	case <-rec.passes:
		c.Fatalf("unexpected reconciliation pass")
	case <-time.After(shortWait):
	}
}

func (s *reconcilerSuite) TestValidateConfig(c *gc.C) {
	c.Check(s.validConfig().Validate(), jc.ErrorIsNil)

	tests := []struct {
		about  string
		tweak  func(*reconciler.Config)
		expect string
	}{{
		about:  "missing hub",
		tweak:  func(cfg *reconciler.Config) { cfg.Hub = nil },
		expect: "nil Hub not valid",
	}, {
		about:  "missing topic",
		tweak:  func(cfg *reconciler.Config) { cfg.Topic = "" },
		expect: "empty Topic not valid",
	}, {
		about:  "missing reconcile func",
		tweak:  func(cfg *reconciler.Config) { cfg.Reconcile = nil },
		expect: "nil Reconcile not valid",
	}, {
		about:  "missing clock",
		tweak:  func(cfg *reconciler.Config) { cfg.Clock = nil },
		expect: "nil Clock not valid",
	}, {
		about:  "missing logger",
		tweak:  func(cfg *reconciler.Config) { cfg.Logger = nil },
		expect: "nil Logger not valid",
	}}
	for i, t := range tests {
		c.Logf("test %d: %s", i, t.about)
		cfg := s.validConfig()
		t.tweak(&cfg)
		err := cfg.Validate()
		c.Check(err, jc.ErrorIs, errors.NotValid)
		c.Check(err, gc.ErrorMatches, t.expect)
	}
}

func (s *reconcilerSuite) TestNewWorkerValidatesConfig(c *gc.C) {
	w, err := reconciler.NewWorker(reconciler.Config{})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	c.Assert(w, gc.IsNil)
}

func (s *reconcilerSuite) TestStartupPass(c *gc.C) {
	rec := newPassRecorder()
	w := s.newWorker(c, rec.reconcile)

	s.waitPass(c, rec)
	workertest.CleanKill(c, w)
	c.Check(rec.total(), gc.Equals, 1)
}

func (s *reconcilerSuite) TestKickTriggersPass(c *gc.C) {
	rec := newPassRecorder()
	w := s.newWorker(c, rec.reconcile)
	s.waitPass(c, rec)

	w.Kick("config-changed")
	s.waitPass(c, rec)

	workertest.CleanKill(c, w)
	c.Check(rec.total(), gc.Equals, 2)
}

func (s *reconcilerSuite) TestPublishedTriggerRunsPass(c *gc.C) {
	// Publishers sharing the hub do not need the worker at all.
	rec := newPassRecorder()
	w := s.newWorker(c, rec.reconcile)
	s.waitPass(c, rec)

	s.hub.Publish(topic, "relation-changed")()
	s.waitPass(c, rec)

	workertest.CleanKill(c, w)
	c.Check(rec.total(), gc.Equals, 2)
}

func (s *reconcilerSuite) TestNonStringTriggerRunsPass(c *gc.C) {
	rec := newPassRecorder()
	w := s.newWorker(c, rec.reconcile)
	s.waitPass(c, rec)

	s.hub.Publish(topic, 42)()
	s.waitPass(c, rec)

	workertest.CleanKill(c, w)
	c.Check(rec.total(), gc.Equals, 2)
}

func (s *reconcilerSuite) TestBurstCoalescesIntoOnePass(c *gc.C) {
	rec := newPassRecorder()
	release := make(chan struct{})
	w := s.newWorker(c, func(ctx context.Context) error {
		if err := rec.reconcile(ctx); err != nil {
			return err
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	// The startup pass is now holding.
	s.waitPass(c, rec)

	// Publishing the done channel back guarantees the subscriber has
	// seen each trigger before the next goes out.
	for i := 0; i < 10; i++ {
		s.hub.Publish(topic, fmt.Sprintf("trigger-%d", i))()
	}

	// The queued trigger must wait for the running pass.
	s.assertNoPass(c, rec)

	release <- struct{}{}
	s.waitPass(c, rec)
	release <- struct{}{}

	// Ten triggers, one follow-up pass.
	s.assertNoPass(c, rec)
	c.Check(rec.total(), gc.Equals, 2)

	workertest.CleanKill(c, w)
}

func (s *reconcilerSuite) TestTriggerDuringKickedPassRunsOnce(c *gc.C) {
	rec := newPassRecorder()
	release := make(chan struct{})
	w := s.newWorker(c, func(ctx context.Context) error {
		if err := rec.reconcile(ctx); err != nil {
			return err
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	s.waitPass(c, rec)
	release <- struct{}{}

	w.Kick("config-changed")
	s.waitPass(c, rec)

	// Two more triggers land while the kicked pass is holding.
	s.hub.Publish(topic, "relation-joined")()
	s.hub.Publish(topic, "relation-departed")()
	release <- struct{}{}

	s.waitPass(c, rec)
	release <- struct{}{}

	s.assertNoPass(c, rec)
	c.Check(rec.total(), gc.Equals, 3)

	workertest.CleanKill(c, w)
}

func (s *reconcilerSuite) TestPassErrorKillsWorker(c *gc.C) {
	boom := errors.New("boom")
	w := s.newWorker(c, func(context.Context) error { return boom })

	err := workertest.CheckKilled(c, w)
	c.Check(err, gc.ErrorMatches, `reconciliation pass \(startup\): boom`)
	c.Check(err, jc.ErrorIs, boom)
}

func (s *reconcilerSuite) TestTriggeredPassErrorNamesTrigger(c *gc.C) {
	var (
		mu    sync.Mutex
		fail  bool
		first = make(chan struct{})
	)
	w := s.newWorker(c, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("boom")
		}
		close(first)
		fail = true
		return nil
	})

	select {
	case <-first:
	case <-time.After(longWait):
		c.Fatalf("timed out waiting for the startup pass")
	}
	w.Kick("scaling-changed")

	err := workertest.CheckKilled(c, w)
	c.Check(err, gc.ErrorMatches, `reconciliation pass \(scaling-changed\): boom`)
}

func (s *reconcilerSuite) TestKilledDuringPassDiesCleanly(c *gc.C) {
	started := make(chan struct{})
	w := s.newWorker(c, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	select {
	case <-started:
	case <-time.After(longWait):
		c.Fatalf("timed out waiting for the pass to start")
	}
	workertest.CleanKill(c, w)
}

func (s *reconcilerSuite) TestKickAfterDeath(c *gc.C) {
	rec := newPassRecorder()
	w := s.newWorker(c, rec.reconcile)
	s.waitPass(c, rec)
	workertest.CleanKill(c, w)

	w.Kick("too-late")
	s.hub.Publish(topic, "also-too-late")()
	c.Check(rec.total(), gc.Equals, 1)
}
