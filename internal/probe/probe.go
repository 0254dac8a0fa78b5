// Package probe answers whether any Xcode toolchain process is currently
// running, by querying the OS process table.
//
// The probe only ever gates premature build-finish transitions; it never
// initiates a build-start. Any failure to query the process table is
// reported as "not active" so the engine keeps running.
package probe

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// toolchainNames are the compiler/linker executables whose liveness marks
// an in-flight build.
var toolchainNames = []string{
	"swift-frontend",
	"swiftc",
	"clang",
	"ld",
	"xcodebuild",
	"XCBBuildService",
	"SourceKitService",
}

// DefaultTimeout bounds a single process-table query.
const DefaultTimeout = 3 * time.Second

// runner executes a process lookup and returns its combined output.
// Swappable for tests.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Probe queries the process table via pgrep.
type Probe struct {
	run     runner
	timeout time.Duration
}

// New creates a probe with the default pgrep-backed runner.
func New() *Probe {
	return &Probe{
		run:     execRunner,
		timeout: DefaultTimeout,
	}
}

// ToolchainActive reports whether at least one toolchain process is
// running. When projectPath is non-empty, a full-command-line match
// against the path is tried first so builds of unrelated projects do not
// count. A path query that pgrep itself answered "no match" to is
// definitive; the machine-wide executable-name match is only a fallback
// for when the path query could not run at all.
func (p *Probe) ToolchainActive(projectPath string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if projectPath != "" {
		out, err := p.run(ctx, "pgrep", "-f", projectPath)
		if err == nil {
			return len(strings.TrimSpace(string(out))) > 0
		}

		// Exit code 1 means pgrep ran and matched nothing.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false
		}
	}

	// pgrep -x exits non-zero on no match; that is simply "not active".
	out, err := p.run(ctx, "pgrep", "-x", strings.Join(toolchainNames, "|"))
	if err != nil {
		return false
	}

	return len(strings.TrimSpace(string(out))) > 0
}
