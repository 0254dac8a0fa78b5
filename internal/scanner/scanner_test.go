package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/xcwatch/internal/project"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

// allocSize sums the on-disk allocated sizes of the given files, the
// same quantity project sizes are defined over.
func allocSize(t *testing.T, paths ...string) int64 {
	t.Helper()

	var total int64

	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		total += allocatedSize(info)
	}

	return total
}

func TestScanFull(t *testing.T) {
	root := t.TempDir()

	fooA := filepath.Join(root, "Foo-0123456789ab", "Build", "a.o")
	fooB := filepath.Join(root, "Foo-0123456789ab", "Build", "b.o")
	barLog := filepath.Join(root, "Bar-xy", "log.txt")
	writeFile(t, fooA, 100)
	writeFile(t, fooB, 50)
	writeFile(t, barLog, 70)

	// Hidden entries are excluded at every level
	writeFile(t, filepath.Join(root, ".hidden", "x"), 999)
	writeFile(t, filepath.Join(root, "Bar-xy", ".DS_Store"), 999)
	writeFile(t, filepath.Join(root, "Foo-0123456789ab", ".git", "blob"), 999)

	// Plain files in the root are not projects
	writeFile(t, filepath.Join(root, "notes.txt"), 999)

	fooSize := allocSize(t, fooA, fooB)
	barSize := allocSize(t, barLog)

	s := New(root, nil)
	snap := s.ScanFull()

	require.Len(t, snap.Projects, 2)
	assert.Equal(t, fooSize+barSize, snap.TotalSize)

	// Sorted by size descending
	assert.Equal(t, "Foo-0123456789ab", snap.Projects[0].Name)
	assert.Equal(t, "Foo", snap.Projects[0].DisplayName)
	assert.Equal(t, fooSize, snap.Projects[0].Size)

	assert.Equal(t, "Bar-xy", snap.Projects[1].Name)
	assert.Equal(t, "Bar-xy", snap.Projects[1].DisplayName)
	assert.Equal(t, barSize, snap.Projects[1].Size)
}

func TestScanFullMissingRoot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"), nil)

	snap := s.ScanFull()
	assert.Empty(t, snap.Projects)
	assert.Zero(t, snap.TotalSize)
}

func TestScanFullCacheHit(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "App", "a.bin")
	writeFile(t, file, 100)

	s := New(root, nil)
	original := allocSize(t, file)
	snap := s.ScanFull()
	require.Equal(t, original, snap.TotalSize)

	// Growing an existing file does not change the directory's own mod
	// time, so the second scan must serve the stale cached size: proof
	// that no recomputation happened.
	require.NoError(t, os.WriteFile(file, make([]byte, 128*1024), 0o644))
	require.Greater(t, allocSize(t, file), original, "the grown file must allocate more blocks")

	snap = s.ScanFull()
	assert.Equal(t, original, snap.TotalSize, "second scan should be served from cache")
}

func TestScanFullCacheInvalidation(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "App")
	a := filepath.Join(dir, "a.bin")
	writeFile(t, a, 100)

	s := New(root, nil)
	require.Equal(t, allocSize(t, a), s.ScanFull().TotalSize)

	// Adding a direct child advances the directory mod time; force a
	// visible advance to be robust against coarse mtime resolution.
	b := filepath.Join(dir, "b.bin")
	writeFile(t, b, 60)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(dir, future, future))

	snap := s.ScanFull()
	assert.Equal(t, allocSize(t, a, b), snap.TotalSize, "mod-time advance must force recomputation")
}

func TestScanFullEvictsRemovedProjects(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Keep", "a"), 10)
	writeFile(t, filepath.Join(root, "Gone", "b"), 20)

	s := New(root, nil)
	require.Len(t, s.ScanFull().Projects, 2)
	require.Equal(t, 2, s.CacheLen())

	require.NoError(t, os.RemoveAll(filepath.Join(root, "Gone")))

	snap := s.ScanFull()
	assert.Len(t, snap.Projects, 1)
	assert.Equal(t, "Keep", snap.Projects[0].Name)
	assert.Equal(t, 1, s.CacheLen())
}

func TestScanIncremental(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Big", "a"), 300)
	writeFile(t, filepath.Join(root, "Small", "b"), 100)

	s := New(root, nil)

	var snaps []Snapshot
	for snap := range s.ScanIncremental(context.Background()) {
		snaps = append(snaps, snap)
	}

	// First emission: nothing cached yet, all sizes zero
	require.NotEmpty(t, snaps)
	assert.Len(t, snaps[0].Projects, 2)
	assert.Zero(t, snaps[0].TotalSize)

	// One emission per computed project after the initial one
	require.Len(t, snaps, 3)

	// Final emission converges to ScanFull at the same filesystem state
	final := snaps[len(snaps)-1]
	full := New(root, nil).ScanFull()
	assert.Equal(t, full.TotalSize, final.TotalSize)
	assert.Equal(t, full.Projects, final.Projects)
}

func TestScanIncrementalUsesCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "App", "a"), 200)

	s := New(root, nil)
	s.ScanFull() // warm the cache

	var snaps []Snapshot
	for snap := range s.ScanIncremental(context.Background()) {
		snaps = append(snaps, snap)
	}

	// Fully cached: a single emission already carrying real sizes
	require.Len(t, snaps, 1)
	assert.Equal(t, allocSize(t, filepath.Join(root, "App", "a")), snaps[0].TotalSize)
}

func TestScanIncrementalCancel(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A", "f"), 1)
	writeFile(t, filepath.Join(root, "B", "f"), 1)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(root, nil)

	ch := s.ScanIncremental(ctx)
	<-ch
	cancel()

	// Channel must close promptly after cancellation
	for range ch {
	}
}

func TestComputeSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "App", "a"), 123)

	s := New(root, nil)
	snap := s.ScanFull()
	require.Len(t, snap.Projects, 1)

	size := s.ComputeSize(snap.Projects[0])
	assert.Equal(t, allocSize(t, filepath.Join(root, "App", "a")), size)
}

func TestDelete(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "App", "a"), 10)

	s := New(root, nil)
	snap := s.ScanFull()
	require.Len(t, snap.Projects, 1)

	require.NoError(t, s.Delete(snap.Projects[0]))

	assert.NoDirExists(t, filepath.Join(root, "App"))
	assert.Empty(t, s.ScanFull().Projects)
	assert.Zero(t, s.CacheLen())
}

func TestDeleteAlreadyGone(t *testing.T) {
	s := New(t.TempDir(), nil)

	p := project.New("Ghost", filepath.Join(s.Root(), "Ghost"), time.Now())
	assert.NoError(t, s.Delete(p), "deleting an absent tree is not an error")
}

func TestDeleteOlderThan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Old", "a"), 10)
	writeFile(t, filepath.Join(root, "Fresh", "b"), 10)

	stale := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(filepath.Join(root, "Old"), stale, stale))

	s := New(root, nil)
	deleted := s.DeleteOlderThan(7)

	assert.Equal(t, 1, deleted)
	assert.NoDirExists(t, filepath.Join(root, "Old"))
	assert.DirExists(t, filepath.Join(root, "Fresh"))
}

func TestDeleteOlderThanBoundary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Edge", "a"), 10)

	// Whole-second times survive the filesystem round trip exactly
	cutoff := time.Now().AddDate(0, 0, -7).Truncate(time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(root, "Edge"), cutoff, cutoff))

	s := New(root, nil)
	s.now = func() time.Time { return cutoff.AddDate(0, 0, 7) }

	// Strictly older than the cutoff: an exact match survives
	assert.Equal(t, 0, s.DeleteOlderThan(7))
	assert.DirExists(t, filepath.Join(root, "Edge"))
}
