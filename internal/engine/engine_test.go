package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/xcwatch/internal/config"
	"github.com/Norgate-AV/xcwatch/internal/history"
	"github.com/Norgate-AV/xcwatch/internal/tracker"
)

type idleProbe struct{}

func (idleProbe) ToolchainActive(string) bool { return false }

func testConfig(root string) *config.Config {
	return &config.Config{
		DerivedDataPath:   root,
		PollInterval:      50 * time.Millisecond,
		DebounceWindow:    150 * time.Millisecond,
		GracePeriod:       100 * time.Millisecond,
		InactivityTimeout: 30 * time.Second,
	}
}

func makeProject(t *testing.T, root, name string) string {
	t.Helper()

	proj := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Join(proj, "Logs", "Build"), 0o755))

	meta := filepath.Join(proj, tracker.DefaultMetadataFile)
	require.NoError(t, os.WriteFile(meta, []byte("m"), 0o644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(meta, past, past))

	return proj
}

func touchMetadata(t *testing.T, proj string) {
	t.Helper()

	meta := filepath.Join(proj, tracker.DefaultMetadataFile)
	now := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(meta, now, now))
}

func waitEvent(t *testing.T, ch <-chan tracker.Event, kind tracker.EventKind) tracker.Event {
	t.Helper()

	deadline := time.After(5 * time.Second)

	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestBuildLifecycle(t *testing.T) {
	root := t.TempDir()
	proj := makeProject(t, root, "MyApp-a1b2c3d4e5f6g7h8")

	store, err := history.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	e := New(testConfig(root), Options{Store: store, Probe: idleProbe{}})
	events := e.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	// Let the first observation pass seed
	time.Sleep(200 * time.Millisecond)

	touchMetadata(t, proj)
	started := waitEvent(t, events, tracker.Started)
	assert.Equal(t, "MyApp", started.DisplayName)

	// Wait out the grace period, then complete the build
	time.Sleep(150 * time.Millisecond)
	logPath := filepath.Join(proj, tracker.DefaultLogDir, "b.xcactivitylog")
	require.NoError(t, os.WriteFile(logPath, []byte("Build succeeded"), 0o644))

	finished := waitEvent(t, events, tracker.Finished)
	assert.True(t, finished.Succeeded)
	assert.GreaterOrEqual(t, finished.Duration, time.Second, "duration is floored at one second")

	// The finished build lands in the history store
	require.Eventually(t, func() bool {
		records, err := store.List()
		return err == nil && len(records) == 1
	}, 2*time.Second, 50*time.Millisecond)

	records, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, "MyApp", records[0].Project)
	assert.True(t, records[0].Succeeded)
}

func TestChangedSignalDebounced(t *testing.T) {
	root := t.TempDir()
	makeProject(t, root, "App")

	e := New(testConfig(root), Options{Probe: idleProbe{}})
	changed := e.SubscribeChanged()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "App", "f"), []byte{byte(i)}, 0o644))
		time.Sleep(30 * time.Millisecond)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for changed signal")
	}
}

func TestSnapshotAndDelete(t *testing.T) {
	root := t.TempDir()
	proj := makeProject(t, root, "App-0123456789ab")
	require.NoError(t, os.WriteFile(filepath.Join(proj, "blob"), make([]byte, 512), 0o644))

	e := New(testConfig(root), Options{Probe: idleProbe{}})

	snap := e.Snapshot()
	require.Len(t, snap.Projects, 1)
	assert.Equal(t, "App", snap.Projects[0].DisplayName)
	assert.Positive(t, snap.TotalSize)

	require.NoError(t, e.Delete(snap.Projects[0]))
	assert.Empty(t, e.Snapshot().Projects)
}

func TestSnapshotIncrementalConverges(t *testing.T) {
	root := t.TempDir()
	p1 := makeProject(t, root, "One")
	p2 := makeProject(t, root, "Two")
	require.NoError(t, os.WriteFile(filepath.Join(p1, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(p2, "b"), make([]byte, 200), 0o644))

	e := New(testConfig(root), Options{Probe: idleProbe{}})

	var last int64
	for snap := range e.SnapshotIncremental(context.Background()) {
		last = snap.TotalSize
	}

	assert.Equal(t, e.Snapshot().TotalSize, last)
}

func TestSnapshotIncrementalAbandonedConsumer(t *testing.T) {
	root := t.TempDir()
	p1 := makeProject(t, root, "One")
	p2 := makeProject(t, root, "Two")
	require.NoError(t, os.WriteFile(filepath.Join(p1, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(p2, "b"), make([]byte, 200), 0o644))

	e := New(testConfig(root), Options{Probe: idleProbe{}})

	// Take one snapshot from the sequence and walk away without
	// cancelling or draining.
	ch := e.SnapshotIncremental(context.Background())
	<-ch

	// Other scanner operations must still make progress.
	done := make(chan struct{})
	go func() {
		e.Snapshot()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("full snapshot blocked behind an undrained incremental scan")
	}
}

func TestMultipleSubscribersReceiveCopies(t *testing.T) {
	root := t.TempDir()
	proj := makeProject(t, root, "App")

	e := New(testConfig(root), Options{Probe: idleProbe{}})
	sub1 := e.Subscribe()
	sub2 := e.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	time.Sleep(200 * time.Millisecond)
	touchMetadata(t, proj)

	ev1 := waitEvent(t, sub1, tracker.Started)
	ev2 := waitEvent(t, sub2, tracker.Started)

	assert.Equal(t, ev1, ev2, "detection is computed once and fanned out")
}
