// Package scanner lists the derived-data root, resolves its immediate
// subdirectories to projects, and computes recursive sizes through the
// size cache.
//
// The watched root is an external, concurrently-mutated directory, so every
// I/O failure here is treated as a recoverable degradation: an unlistable
// root yields an empty snapshot, an unreadable file contributes zero bytes,
// and the next scan self-corrects.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Norgate-AV/xcwatch/internal/project"
	"github.com/Norgate-AV/xcwatch/internal/sizecache"
)

// Snapshot is the result of a scan pass: projects sorted by size
// descending and the exact sum of their sizes.
type Snapshot struct {
	Projects  []project.Project
	TotalSize int64
}

// Scanner walks the watched root. It is single-writer: the owning engine
// serializes all calls, including full consumption of incremental scans.
type Scanner struct {
	root   string
	cache  *sizecache.Cache
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a scanner over the given derived-data root.
func New(root string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{
		root:   root,
		cache:  sizecache.New(),
		logger: logger,
		now:    time.Now,
	}
}

// Root returns the watched root path.
func (s *Scanner) Root() string {
	return s.root
}

// CacheLen returns the number of live size-cache entries.
func (s *Scanner) CacheLen() int {
	return s.cache.Len()
}

// list returns the projects under the root in directory order, sizes
// unresolved. Hidden entries and plain files are excluded. A root that
// cannot be listed yields an empty list.
func (s *Scanner) list() []project.Project {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Debug("cannot list derived data root", "root", s.root, "error", err)
		return nil
	}

	var projects []project.Project

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Vanished between ReadDir and Info; treat as absent.
			continue
		}

		projects = append(projects, project.New(name, filepath.Join(s.root, name), info.ModTime()))
	}

	return projects
}

// ScanFull lists the root and resolves every project's size, using the
// cache on an exact mod-time match and walking the tree otherwise. Cache
// entries for directories no longer present are evicted before returning.
func (s *Scanner) ScanFull() Snapshot {
	projects := s.list()
	live := make(map[string]struct{}, len(projects))

	for i := range projects {
		p := &projects[i]
		live[p.Name] = struct{}{}

		if size, ok := s.cache.Get(p.Name, p.ModTime); ok {
			p.Size = size
			continue
		}

		p.Size = dirSize(p.Path)
		s.cache.Put(p.Name, p.ModTime, p.Size)
	}

	s.cache.EvictExcept(live)

	return makeSnapshot(projects)
}

// ScanIncremental returns a finite sequence of snapshots. The first
// emission mirrors ScanFull except that projects without a valid cache
// entry carry size 0; each later emission follows the computation of one
// previously-uncached project's true size. The channel closes once every
// project has a computed size, or when ctx is cancelled.
//
// The caller must drain the channel (or cancel ctx) before invoking any
// other scanner operation.
func (s *Scanner) ScanIncremental(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot)

	go func() {
		defer close(out)

		projects := s.list()
		live := make(map[string]struct{}, len(projects))

		var pending []int // indexes of projects needing a real size

		for i := range projects {
			p := &projects[i]
			live[p.Name] = struct{}{}

			if size, ok := s.cache.Get(p.Name, p.ModTime); ok {
				p.Size = size
			} else {
				pending = append(pending, i)
			}
		}

		s.cache.EvictExcept(live)

		select {
		case out <- makeSnapshot(projects):
		case <-ctx.Done():
			return
		}

		for _, i := range pending {
			select {
			case <-ctx.Done():
				return
			default:
			}

			p := &projects[i]
			p.Size = dirSize(p.Path)
			s.cache.Put(p.Name, p.ModTime, p.Size)

			select {
			case out <- makeSnapshot(projects):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// ComputeSize walks a single project's tree, refreshes its cache entry,
// and returns the size.
func (s *Scanner) ComputeSize(p project.Project) int64 {
	size := dirSize(p.Path)

	if info, err := os.Stat(p.Path); err == nil {
		s.cache.Put(p.Name, info.ModTime(), size)
	} else {
		s.cache.Evict(p.Name)
	}

	return size
}

// Delete removes the project's subtree and its cache entry. Best-effort:
// a partially removed tree is picked up as absent or resized on the next
// scan.
func (s *Scanner) Delete(p project.Project) error {
	s.cache.Evict(p.Name)

	if err := os.RemoveAll(p.Path); err != nil {
		s.logger.Warn("failed to delete project", "project", p.DisplayName, "error", err)
		return err
	}

	s.logger.Info("deleted project", "project", p.DisplayName, "path", p.Path)

	return nil
}

// DeleteOlderThan removes every project whose directory modification time
// is strictly older than now minus the given number of days and returns
// the count deleted. Per-project failures are swallowed.
func (s *Scanner) DeleteOlderThan(days int) int {
	cutoff := s.now().AddDate(0, 0, -days)
	snap := s.ScanFull()

	var deleted int

	for _, p := range snap.Projects {
		if !p.ModTime.Before(cutoff) {
			continue
		}

		if err := s.Delete(p); err == nil {
			deleted++
		}
	}

	return deleted
}

// makeSnapshot sorts a copy of projects by size descending (listing order
// preserved on ties) and sums the total.
func makeSnapshot(projects []project.Project) Snapshot {
	sorted := make([]project.Project, len(projects))
	copy(sorted, projects)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Size > sorted[j].Size
	})

	var total int64
	for _, p := range sorted {
		total += p.Size
	}

	return Snapshot{Projects: sorted, TotalSize: total}
}

// dirSize sums the on-disk allocated sizes of all non-hidden regular
// files under path. Inaccessible entries are skipped rather than
// surfaced.
func dirSize(path string) int64 {
	var size int64

	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && p != path {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			size += allocatedSize(info)
		}

		return nil
	})

	return size
}
