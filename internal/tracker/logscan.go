package tracker

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
)

// failureMarkers are the substrings whose presence in the trailing bytes
// of a build log marks the build as failed. Anything else, including an
// unreadable or undecodable log, is treated as success; the log format is
// an opaque blob, not something this package parses.
var failureMarkers = [][]byte{
	[]byte("** BUILD FAILED **"),
	[]byte("** ARCHIVE FAILED **"),
	[]byte("** TEST FAILED **"),
	[]byte("BUILD FAILED"),
	[]byte("fatal error:"),
	[]byte("error generated."),
	[]byte("errors generated."),
	[]byte("Command PhaseScriptExecution failed"),
	[]byte("Command CompileSwift failed"),
	[]byte("Command CompileSwiftSources failed"),
	[]byte("linker command failed"),
}

// tailSize is how many trailing bytes of a log are inspected for failure
// markers.
const tailSize = 16 * 1024

var gzipMagic = []byte{0x1f, 0x8b}

// logIndicatesSuccess inspects the trailing bytes of a (possibly
// gzip-compressed) build log and reports whether the build looks
// successful. Best-effort: every failure to read or decode resolves to
// success per the documented ambiguous-signal default.
func logIndicatesSuccess(path string) bool {
	tail, err := readTail(path)
	if err != nil {
		return true
	}

	for _, marker := range failureMarkers {
		if bytes.Contains(tail, marker) {
			return false
		}
	}

	return true
}

// readTail returns up to tailSize trailing bytes of the file, decoding
// gzip transparently when the magic bytes match.
func readTail(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, 2)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	if bytes.Equal(magic, gzipMagic) {
		return gzipTail(f)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if info.Size() > tailSize {
		if _, err := f.Seek(-tailSize, io.SeekEnd); err != nil {
			return nil, err
		}
	}

	return io.ReadAll(f)
}

// gzipTail streams the decompressed log and keeps only the last tailSize
// bytes, so arbitrarily large logs stay cheap to inspect. A truncated
// stream returns whatever decoded before the error.
func gzipTail(r io.Reader) ([]byte, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tail := make([]byte, 0, 2*tailSize)
	buf := make([]byte, 32*1024)

	for {
		n, err := zr.Read(buf)
		if n > 0 {
			tail = append(tail, buf[:n]...)
			if len(tail) > tailSize {
				tail = tail[len(tail)-tailSize:]
			}
		}

		if err != nil {
			if err == io.EOF || len(tail) > 0 {
				return tail, nil
			}
			return nil, err
		}
	}
}
