package tracker

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default locations of the build signals inside a project directory,
// relative to the project root. The manifest's modification time is the
// authoritative build-start signal; one .xcactivitylog per completed build
// is the finish signal.
const (
	DefaultMetadataFile = "Logs/Build/LogStoreManifest.plist"
	DefaultLogDir       = "Logs/Build"
	logExt              = ".xcactivitylog"
)

// metadataModTime returns the modification time of the project's build
// metadata file. A missing or unreadable file yields the zero time.
func (t *Tracker) metadataModTime(projectPath string) time.Time {
	info, err := os.Stat(filepath.Join(projectPath, t.cfg.MetadataFile))
	if err != nil {
		return time.Time{}
	}

	return info.ModTime()
}

// logInfo describes one completed-build output log.
type logInfo struct {
	path    string
	size    int64
	modTime time.Time
}

// listLogs returns the build-output logs currently present for a project.
// Log identity is the full path.
func (t *Tracker) listLogs(projectPath string) []logInfo {
	dir := filepath.Join(projectPath, t.cfg.LogDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var logs []logInfo

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), logExt) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		logs = append(logs, logInfo{
			path:    filepath.Join(dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	return logs
}

// logSet returns the identities of the given logs, for snapshotting the
// pre-build state.
func logSet(logs []logInfo) map[string]struct{} {
	set := make(map[string]struct{}, len(logs))
	for _, l := range logs {
		set[l.path] = struct{}{}
	}

	return set
}
