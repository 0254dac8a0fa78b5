//go:build unix

package scanner

import (
	"io/fs"
	"syscall"
)

// allocatedSize returns the on-disk allocated size of a file: the block
// count the filesystem actually reserved, not the logical length. Sparse
// files report less than their logical size, small files report a whole
// block. Falls back to the logical size when stat data is unavailable.
func allocatedSize(info fs.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		// st_blocks is always in 512-byte units
		return st.Blocks * 512
	}

	return info.Size()
}
