// Package engine wires the build tracker, directory scanner, process
// probe, and filesystem watcher into one running monitor.
//
// Concurrency model: a single worker goroutine owns all tracker state.
// Watcher ticks and a fallback poll timer both funnel into the same loop,
// so state transitions are never evaluated concurrently. Scanner access is
// serialized separately so a long size walk never delays build detection.
// Subscribers receive copied events over buffered channels and are dropped
// behind rather than ever blocking the worker.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Norgate-AV/xcwatch/internal/config"
	"github.com/Norgate-AV/xcwatch/internal/history"
	"github.com/Norgate-AV/xcwatch/internal/probe"
	"github.com/Norgate-AV/xcwatch/internal/project"
	"github.com/Norgate-AV/xcwatch/internal/scanner"
	"github.com/Norgate-AV/xcwatch/internal/tracker"
	"github.com/Norgate-AV/xcwatch/internal/watcher"
)

// subscriberBuffer is the per-subscriber channel capacity; a subscriber
// this far behind starts losing events instead of blocking detection.
const subscriberBuffer = 16

// Options carries the optional collaborators of an Engine.
type Options struct {
	// Store receives a Record per Finished event. Optional.
	Store *history.Store

	// Probe overrides the default pgrep-backed process probe.
	Probe tracker.ProcessProbe

	Logger *slog.Logger
}

// Engine is the long-running monitor over one derived-data root.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *history.Store

	trk *tracker.Tracker

	// scanMu serializes all scanner (and size-cache) access.
	scanMu sync.Mutex
	scn    *scanner.Scanner

	subMu       sync.Mutex
	eventSubs   []chan tracker.Event
	changedSubs []chan time.Time
}

// New creates an engine for the configured derived-data root.
func New(cfg *config.Config, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prb := opts.Probe
	if prb == nil {
		prb = probe.New()
	}

	return &Engine{
		cfg:    cfg,
		logger: logger,
		store:  opts.Store,
		scn:    scanner.New(cfg.DerivedDataPath, logger),
		trk: tracker.New(tracker.Config{
			Root:              cfg.DerivedDataPath,
			GracePeriod:       cfg.GracePeriod,
			InactivityTimeout: cfg.InactivityTimeout,
			Probe:             prb,
			Logger:            logger,
			Now:               time.Now,
		}),
	}
}

// Subscribe registers a build-event subscriber. Safe to call at any time;
// events are copies, never references into engine state.
func (e *Engine) Subscribe() <-chan tracker.Event {
	ch := make(chan tracker.Event, subscriberBuffer)

	e.subMu.Lock()
	e.eventSubs = append(e.eventSubs, ch)
	e.subMu.Unlock()

	return ch
}

// SubscribeChanged registers a derived-data-changed subscriber.
func (e *Engine) SubscribeChanged() <-chan time.Time {
	ch := make(chan time.Time, 1)

	e.subMu.Lock()
	e.changedSubs = append(e.changedSubs, ch)
	e.subMu.Unlock()

	return ch
}

// Run drives the engine until ctx is cancelled. The filesystem watcher is
// best-effort: when it cannot start, the poll timer alone drives
// detection.
func (e *Engine) Run(ctx context.Context) error {
	var checks <-chan struct{}
	var changed <-chan time.Time

	w, err := watcher.New(e.cfg.DerivedDataPath, e.cfg.DebounceWindow, e.logger)
	if err == nil {
		err = w.Start(ctx)
	}
	if err != nil {
		e.logger.Warn("filesystem watch unavailable, relying on poll timer", "error", err)
	} else {
		defer w.Close()
		checks = w.Checks()
		changed = w.Changed()
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.poll() // seed the tracker's first observation pass

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-checks:
			e.poll()

		case <-ticker.C:
			e.poll()

		case at := <-changed:
			e.fanoutChanged(at)
			e.checkSizeAlert()
		}
	}
}

// poll runs one tracker pass and dispatches whatever it detected.
func (e *Engine) poll() {
	events := e.trk.Poll()

	for _, ev := range events {
		e.fanoutEvent(ev)

		if ev.Kind != tracker.Finished {
			continue
		}

		e.record(ev)
		e.autoDelete()
	}
}

// record appends a finished build to the history store.
func (e *Engine) record(ev tracker.Event) {
	if e.store == nil {
		return
	}

	rec := history.Record{
		Project:   ev.DisplayName,
		StartedAt: ev.Time.Add(-ev.Duration),
		Duration:  ev.Duration,
		Succeeded: ev.Succeeded,
	}

	if err := e.store.Append(rec); err != nil {
		e.logger.Warn("failed to record build", "project", ev.DisplayName, "error", err)
	}
}

// autoDelete applies the configured age threshold after a build finishes.
func (e *Engine) autoDelete() {
	if e.cfg.AutoDeleteDays <= 0 {
		return
	}

	e.scanMu.Lock()
	deleted := e.scn.DeleteOlderThan(e.cfg.AutoDeleteDays)
	e.scanMu.Unlock()

	if deleted > 0 {
		e.logger.Info("auto-deleted stale projects", "count", deleted, "older_than_days", e.cfg.AutoDeleteDays)
	}
}

// checkSizeAlert warns when the derived-data total crosses the configured
// threshold. Runs on the debounced changed signal, so at most once per
// quiet period.
func (e *Engine) checkSizeAlert() {
	if e.cfg.SizeAlertGB <= 0 {
		return
	}

	snap := e.Snapshot()
	limit := int64(e.cfg.SizeAlertGB) << 30

	if snap.TotalSize > limit {
		e.logger.Warn("derived data size over threshold",
			"total_bytes", snap.TotalSize,
			"threshold_gb", e.cfg.SizeAlertGB)
	}
}

// Snapshot returns a full scan of the watched root.
func (e *Engine) Snapshot() scanner.Snapshot {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	return e.scn.ScanFull()
}

// SnapshotIncremental returns a progressive scan. The scanner lock is held
// only while snapshots are being produced; a slow or abandoned consumer
// never blocks the other scanner operations.
func (e *Engine) SnapshotIncremental(ctx context.Context) <-chan scanner.Snapshot {
	out := make(chan scanner.Snapshot)

	go func() {
		e.scanMu.Lock()
		defer e.scanMu.Unlock()

		src := e.scn.ScanIncremental(ctx)

		first, ok := <-src
		if !ok {
			close(out)
			return
		}

		// One slot per project plus the initial snapshot, so producing
		// into buf never blocks on the consumer and the lock is released
		// as soon as the scan itself completes.
		buf := make(chan scanner.Snapshot, len(first.Projects)+1)
		buf <- first

		go func() {
			defer close(out)
			for snap := range buf {
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}()

		for snap := range src {
			buf <- snap
		}
		close(buf)
	}()

	return out
}

// ComputeSize recomputes one project's size.
func (e *Engine) ComputeSize(p project.Project) int64 {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	return e.scn.ComputeSize(p)
}

// Delete removes one project from disk and from the size cache.
func (e *Engine) Delete(p project.Project) error {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	return e.scn.Delete(p)
}

// DeleteOlderThan removes projects not modified in the given number of
// days and returns the count deleted.
func (e *Engine) DeleteOlderThan(days int) int {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	return e.scn.DeleteOlderThan(days)
}

func (e *Engine) fanoutEvent(ev tracker.Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	for _, ch := range e.eventSubs {
		select {
		case ch <- ev:
		default:
			e.logger.Warn("event subscriber behind, dropping event",
				"project", ev.DisplayName, "kind", ev.Kind.String())
		}
	}
}

func (e *Engine) fanoutChanged(at time.Time) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	for _, ch := range e.changedSubs {
		select {
		case ch <- at:
		default:
		}
	}
}
