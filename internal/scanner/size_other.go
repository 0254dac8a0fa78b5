//go:build !unix

package scanner

import "io/fs"

// allocatedSize falls back to the logical file size on platforms without
// block-count stat data.
func allocatedSize(info fs.FileInfo) int64 {
	return info.Size()
}
