// Package project defines the project value type inferred from a single
// subdirectory of the watched derived-data root.
package project

import (
	"strings"
	"time"
)

// Project is a logical build target inferred from one immediate
// subdirectory of the watched root.
type Project struct {
	// Name is the directory name and the project's unique identity.
	Name string

	// DisplayName is Name with the trailing build-system hash stripped.
	DisplayName string

	// Path is the absolute path of the project directory.
	Path string

	// Size is the recursive size in bytes (0 while not yet computed).
	Size int64

	// ModTime is the modification time of the directory entry itself.
	ModTime time.Time
}

// minHashLen is the minimum length of a trailing "-"-delimited token for it
// to be treated as a build-system hash suffix and stripped.
const minHashLen = 12

// DisplayName strips the trailing build-system hash from a directory name.
// Xcode appends a disambiguating token after the last dash, e.g.
// "MyApp-a1b2c3d4e5f6g7h8" -> "MyApp". Short suffixes are part of the
// real name and kept as-is.
func DisplayName(dirName string) string {
	idx := strings.LastIndex(dirName, "-")
	if idx < 0 {
		return dirName
	}

	if len(dirName)-idx-1 >= minHashLen {
		return dirName[:idx]
	}

	return dirName
}

// New builds a Project for a directory entry of the watched root.
func New(name, path string, modTime time.Time) Project {
	return Project{
		Name:        name,
		DisplayName: DisplayName(name),
		Path:        path,
		ModTime:     modTime,
	}
}
