package hsaj

import (
	"errors"
	"fmt"
)

var (
	// ErrQuarantineRootMissing is returned when planning or applying without paths.quarantine_dir.
	ErrQuarantineRootMissing = errors.New("paths.quarantine_dir is not configured")

	// ErrCandidateNotFound is returned when a referenced candidate no longer exists.
	ErrCandidateNotFound = errors.New("block candidate not found")
)

// MalformedFeedError reports a feed entry without a usable identity.
// The whole snapshot is rejected when one is found.
type MalformedFeedError struct {
	Index int    // position of the entry in the snapshot
	Field string // "type" or "id"
}

func (e *MalformedFeedError) Error() string {
	return fmt.Sprintf("feed entry %d: missing required field %q", e.Index, e.Field)
}
