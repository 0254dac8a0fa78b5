// Package tracker infers build start and finish events for each project
// under the watched root, with no cooperation from the build tool.
//
// The authoritative start signal is a modification-time advance on the
// project's build metadata file; the finish signal is the appearance of a
// new non-empty build-output log, gated by toolchain-process liveness so a
// log flushed mid-build never ends a build early. An inactivity timeout is
// the only cancellation path, and it never fires while a toolchain process
// is confirmed alive.
package tracker

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Norgate-AV/xcwatch/internal/project"
)

// EventKind discriminates build events.
type EventKind int

const (
	// Started marks the beginning of a build.
	Started EventKind = iota

	// Finished marks the end of a build, normal or cancelled.
	Finished
)

func (k EventKind) String() string {
	if k == Started {
		return "started"
	}

	return "finished"
}

// Event is an immutable build event. Subscribers receive copies, never
// references into tracker state.
type Event struct {
	Kind        EventKind
	Project     string // directory name, the project's identity
	DisplayName string
	Time        time.Time // start time for Started, finish time for Finished

	// Finished only:
	Duration  time.Duration
	Succeeded bool
}

// ProcessProbe gates premature finish transitions. Implemented by
// probe.Probe; faked in tests.
type ProcessProbe interface {
	ToolchainActive(projectPath string) bool
}

// StartSignal reports the current value of a project's build-start signal
// as a timestamp, and whether the signal is present at all. The default
// reads the metadata file's modification time; alternative strategies
// (process liveness, CLI detection) can be plugged in.
type StartSignal func(projectPath string) (time.Time, bool)

// Config configures a Tracker.
type Config struct {
	// Root is the watched derived-data directory.
	Root string

	// MetadataFile and LogDir locate the build signals inside a project
	// directory. Empty values select the Xcode defaults.
	MetadataFile string
	LogDir       string

	// GracePeriod rejects placeholder log writes right after a build
	// starts.
	GracePeriod time.Duration

	// InactivityTimeout declares a quiet build cancelled.
	InactivityTimeout time.Duration

	Probe  ProcessProbe
	Logger *slog.Logger

	// StartSignal overrides the metadata-file start signal. Optional.
	StartSignal StartSignal

	// Now is swappable for tests.
	Now func() time.Time
}

type phase int

const (
	idle phase = iota
	building
)

// state is the per-project build state. Mutated only by Poll, which the
// owning engine serializes.
type state struct {
	phase        phase
	path         string
	displayName  string
	startTime    time.Time
	lastActivity time.Time

	// signalTime is the last observed value of the start signal.
	signalTime time.Time

	// knownLogs is the set of output-log identities known before the
	// current build started.
	knownLogs map[string]struct{}
}

// Tracker is the per-project build state machine. Not safe for concurrent
// use; a single worker context owns it.
type Tracker struct {
	cfg    Config
	logger *slog.Logger
	states map[string]*state

	// firstPass is true until the first Poll completes. On the first
	// observation pass existing logs are snapshotted so historical
	// builds are never reported.
	firstPass bool
}

// New creates a tracker. Defaults: Xcode signal paths, 5s grace, 45s
// inactivity timeout.
func New(cfg Config) *Tracker {
	if cfg.MetadataFile == "" {
		cfg.MetadataFile = DefaultMetadataFile
	}

	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir
	}

	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 5 * time.Second
	}

	if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = 45 * time.Second
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		cfg:       cfg,
		logger:    logger,
		states:    make(map[string]*state),
		firstPass: true,
	}

	if t.cfg.StartSignal == nil {
		t.cfg.StartSignal = func(projectPath string) (time.Time, bool) {
			mod := t.metadataModTime(projectPath)
			return mod, !mod.IsZero()
		}
	}

	return t
}

// Poll runs one observation pass over every project directory and returns
// the build events detected, in emission order. Cheap when nothing
// changed, so it is safe to invoke on every watcher notification as well
// as on the fallback timer.
func (t *Tracker) Poll() []Event {
	now := t.cfg.Now()

	var events []Event

	live := make(map[string]struct{})

	for _, name := range t.listProjects() {
		live[name] = struct{}{}

		st, ok := t.states[name]
		if !ok {
			st = t.seedState(name)
			t.states[name] = st
			continue
		}

		events = append(events, t.step(name, st, now)...)
	}

	// Prune state for directories that no longer exist.
	for name := range t.states {
		if _, ok := live[name]; !ok {
			delete(t.states, name)
		}
	}

	t.firstPass = false

	return events
}

// listProjects returns the non-hidden immediate subdirectory names of the
// root. Unlistable root yields nothing; the next poll retries.
func (t *Tracker) listProjects() []string {
	entries, err := os.ReadDir(t.cfg.Root)
	if err != nil {
		return nil
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}

	return names
}

// seedState initializes a newly discovered project as idle. On the
// engine's first pass, pre-existing logs are recorded as known so they are
// never reported as fresh builds.
func (t *Tracker) seedState(name string) *state {
	path := filepath.Join(t.cfg.Root, name)

	st := &state{
		phase:       idle,
		path:        path,
		displayName: project.DisplayName(name),
		knownLogs:   make(map[string]struct{}),
	}

	if sig, ok := t.cfg.StartSignal(path); ok {
		st.signalTime = sig
	}

	if t.firstPass {
		st.knownLogs = logSet(t.listLogs(path))
	}

	return st
}

// step advances one project's state machine.
func (t *Tracker) step(name string, st *state, now time.Time) []Event {
	switch st.phase {
	case building:
		return t.stepBuilding(name, st, now)
	default:
		return t.stepIdle(name, st, now)
	}
}

// stepIdle looks for a start-signal advance, or for an orphan log from a
// build the tracker never saw start.
func (t *Tracker) stepIdle(name string, st *state, now time.Time) []Event {
	if sig, ok := t.cfg.StartSignal(st.path); ok && sig.After(st.signalTime) {
		st.phase = building
		st.startTime = now
		st.lastActivity = now
		st.signalTime = sig
		st.knownLogs = logSet(t.listLogs(st.path))

		t.logger.Info("build started", "project", st.displayName)

		return []Event{{
			Kind:        Started,
			Project:     name,
			DisplayName: st.displayName,
			Time:        now,
		}}
	}

	// A completed log the tracker never saw start still gets a matched
	// Started/Finished pair.
	if fresh := t.freshLogs(st); len(fresh) > 0 {
		newest := newestLog(fresh)
		for _, l := range fresh {
			st.knownLogs[l.path] = struct{}{}
		}

		start := newest.modTime.Add(-time.Second)
		succeeded := logIndicatesSuccess(newest.path)

		t.logger.Info("detected completed build with unseen start",
			"project", st.displayName,
			"succeeded", succeeded)

		return []Event{
			{
				Kind:        Started,
				Project:     name,
				DisplayName: st.displayName,
				Time:        start,
			},
			{
				Kind:        Finished,
				Project:     name,
				DisplayName: st.displayName,
				Time:        newest.modTime,
				Duration:    time.Second,
				Succeeded:   succeeded,
			},
		}
	}

	return nil
}

// stepBuilding refreshes activity, then tries the normal completion path
// and the inactivity timeout, both gated on toolchain liveness.
func (t *Tracker) stepBuilding(name string, st *state, now time.Time) []Event {
	if sig, ok := t.cfg.StartSignal(st.path); ok && sig.After(st.signalTime) {
		st.signalTime = sig
		st.lastActivity = now
	}

	// Normal completion: a new non-empty log past the grace period.
	if fresh := t.freshLogs(st); len(fresh) > 0 && now.Sub(st.startTime) >= t.cfg.GracePeriod {
		if t.probeActive(st.path) {
			// The build system flushed a log while still compiling;
			// defer and keep waiting.
			st.lastActivity = now
			return nil
		}

		newest := newestLog(fresh)

		duration := now.Sub(st.startTime)
		if duration < time.Second {
			duration = time.Second
		}

		succeeded := logIndicatesSuccess(newest.path)
		t.finishBuild(st)

		t.logger.Info("build finished",
			"project", st.displayName,
			"duration", duration.Round(time.Second),
			"succeeded", succeeded)

		return []Event{{
			Kind:        Finished,
			Project:     name,
			DisplayName: st.displayName,
			Time:        now,
			Duration:    duration,
			Succeeded:   succeeded,
		}}
	}

	// Timeout/cancel: quiet too long and nothing compiling.
	if now.Sub(st.lastActivity) >= t.cfg.InactivityTimeout {
		if t.probeActive(st.path) {
			// Extend on evidence: never cancel a live build.
			st.lastActivity = now
			return nil
		}

		duration := now.Sub(st.startTime)
		if duration < time.Second {
			duration = time.Second
		}

		t.finishBuild(st)

		t.logger.Info("build cancelled", "project", st.displayName, "duration", duration.Round(time.Second))

		return []Event{{
			Kind:        Finished,
			Project:     name,
			DisplayName: st.displayName,
			Time:        now,
			Duration:    duration,
			Succeeded:   false,
		}}
	}

	return nil
}

// finishBuild returns a project to idle and absorbs all current logs into
// the known set so the same log appearance never produces a second
// Finished.
func (t *Tracker) finishBuild(st *state) {
	st.phase = idle
	st.knownLogs = logSet(t.listLogs(st.path))

	if sig, ok := t.cfg.StartSignal(st.path); ok {
		st.signalTime = sig
	}
}

// freshLogs returns the non-empty logs not present in the project's
// pre-build snapshot.
func (t *Tracker) freshLogs(st *state) []logInfo {
	var fresh []logInfo

	for _, l := range t.listLogs(st.path) {
		if l.size == 0 {
			continue
		}

		if _, known := st.knownLogs[l.path]; !known {
			fresh = append(fresh, l)
		}
	}

	return fresh
}

func (t *Tracker) probeActive(path string) bool {
	if t.cfg.Probe == nil {
		return false
	}

	return t.cfg.Probe.ToolchainActive(path)
}

func newestLog(logs []logInfo) logInfo {
	newest := logs[0]

	for _, l := range logs[1:] {
		if l.modTime.After(newest.modTime) {
			newest = l
		}
	}

	return newest
}

// Building reports whether the given project is currently in the building
// phase. Read-only; serialized by the owning engine like Poll.
func (t *Tracker) Building(name string) bool {
	st, ok := t.states[name]
	return ok && st.phase == building
}
