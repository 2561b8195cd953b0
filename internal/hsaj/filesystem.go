package hsaj

import "errors"

// ErrDestinationExists is returned by Filesystem.Move when the target path is occupied.
var ErrDestinationExists = errors.New("destination already exists")

// Filesystem provides the file operations the executor needs.
// It abstracts file access so moves can be observed and failed in tests.
type Filesystem interface {
	// Exists reports whether a file or directory exists at path.
	Exists(path string) (bool, error)

	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error

	// Move relocates src to dst. It never overwrites: if dst exists it
	// returns ErrDestinationExists.
	Move(src, dst string) error
}
