// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reconciler funnels charm events into serial reconciliation
// passes. Triggers are published on a pubsub topic; however many arrive
// while a pass is running collapse into a single follow-up pass, so the
// reconcile function never runs concurrently with itself and never acts
// on stale state.
package reconciler

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4/catacomb"
)

// Logger represents the methods used by the worker to log information.
type Logger interface {
	Tracef(string, ...interface{})
	Debugf(string, ...interface{})
}

// Config holds the dependencies of a reconciler worker.
type Config struct {
	// Hub carries reconcile triggers. The worker subscribes to Topic
	// on it; Kick and any external publisher push triggers there.
	Hub *pubsub.SimpleHub

	// Topic is the hub topic the worker subscribes to.
	Topic string

	// Reconcile runs a single pass. It is only ever called from the
	// worker's loop. The context is cancelled when the worker is
	// killed; a pass abandoned that way may return the context error
	// and it is not treated as a failure.
	Reconcile func(ctx context.Context) error

	// Clock times passes.
	Clock clock.Clock

	// Logger is used to write log messages.
	Logger Logger
}

// Validate returns an error if config cannot drive a worker.
func (config Config) Validate() error {
	if config.Hub == nil {
		return errors.NotValidf("nil Hub")
	}
	if config.Topic == "" {
		return errors.NotValidf("empty Topic")
	}
	if config.Reconcile == nil {
		return errors.NotValidf("nil Reconcile")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Worker runs reconciliation passes one at a time. A trigger arriving
// while a pass is running queues exactly one follow-up pass; further
// triggers in that window are subsumed by the queued one, which reads
// fresh state when it runs.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config

	// triggers holds at most one pending pass.
	triggers chan string
}

// NewWorker returns a reconciler worker backed by config. The worker
// runs one pass as soon as it starts, so changes that predate it are
// still converged on.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{
		config:   config,
		triggers: make(chan string, 1),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kick requests a reconciliation pass. It never blocks. The reason
// only feeds logging.
func (w *Worker) Kick(reason string) {
	_ = w.config.Hub.Publish(w.config.Topic, reason)
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

func (w *Worker) loop() error {
	unsubscribe := w.config.Hub.Subscribe(w.config.Topic, w.onTrigger)
	defer unsubscribe()

	ctx, cancel := w.scopedContext()
	defer cancel()

	if err := w.runPass(ctx, "startup"); err != nil {
		return errors.Trace(err)
	}
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case reason := <-w.triggers:
			if err := w.runPass(ctx, reason); err != nil {
				return errors.Trace(err)
			}
		}
	}
}

func (w *Worker) runPass(ctx context.Context, reason string) error {
	start := w.config.Clock.Now()
	err := w.config.Reconcile(ctx)
	if errors.Is(err, context.Canceled) {
		// The worker was killed mid-pass.
		return nil
	}
	if err != nil {
		return errors.Annotatef(err, "reconciliation pass (%s)", reason)
	}
	w.config.Logger.Debugf("reconciliation pass (%s) finished in %v", reason, w.config.Clock.Now().Sub(start))
	return nil
}

// onTrigger runs on the hub's goroutine, so it must not block waiting
// for the loop.
func (w *Worker) onTrigger(topic string, data interface{}) {
	reason, ok := data.(string)
	if !ok {
		reason = fmt.Sprintf("%v", data)
	}
	select {
	case w.triggers <- reason:
	default:
		// A pass is already queued; it will pick this change up too.
		w.config.Logger.Tracef("coalescing reconcile trigger %q", reason)
	}
}

func (w *Worker) scopedContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(w.catacomb.Context(context.Background()))
}
