package hsaj

import (
	"database/sql"
	"fmt"
	"time"
)

// BlockObservation is the raw record of an externally blocked object.
// FirstSeenAt never changes once written; rows are never deleted.
type BlockObservation struct {
	ID          int64
	ObjectType  string
	ObjectID    string
	Label       sql.NullString
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// BlockCandidate tracks the lifecycle of a blocked object towards quarantine.
type BlockCandidate struct {
	ID              int64
	ObjectType      string
	ObjectID        string
	Label           sql.NullString
	Reason          string
	Status          CandidateStatus
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	PlannedActionAt sql.NullTime
	RestoredAt      sql.NullTime
}

// Key returns the candidate's identity within the feed.
func (c *BlockCandidate) Key() BlockKey {
	return BlockKey{Type: c.ObjectType, ID: c.ObjectID}
}

// BlockKey identifies a blocked object by type and external id.
type BlockKey struct {
	Type string
	ID   string
}

func (k BlockKey) String() string {
	return k.Type + ":" + k.ID
}

// ReasonFor derives the candidate reason for a blocked object type.
func ReasonFor(objectType string) string {
	return fmt.Sprintf("blocked_by_%s", objectType)
}

// CatalogFile is a physical audio file known to the catalog.
type CatalogFile struct {
	ID              int64
	Path            string
	SizeBytes       sql.NullInt64
	Format          sql.NullString
	ModifiedAt      sql.NullTime
	Artist          sql.NullString
	Album           sql.NullString
	Title           sql.NullString
	TrackNumber     sql.NullInt64
	Year            sql.NullInt64
	DurationSeconds sql.NullInt64
}

// ExternalTrack is a track identity reported by the external service and cached locally.
type ExternalTrack struct {
	TrackID     string
	Artist      sql.NullString
	Album       sql.NullString
	Title       sql.NullString
	TrackNumber sql.NullInt64
	DurationMS  sql.NullInt64
}

// ActionKind names an entry type in the action log.
type ActionKind string

const (
	ActionImmersiveMove   ActionKind = "move_to_immersive"
	ActionQuarantineMove  ActionKind = "quarantine_move"
	ActionRestore         ActionKind = "restore_from_quarantine"
	ActionRestoreConflict ActionKind = "restore_conflict"
	ActionDryRun          ActionKind = "dry_run"
)

// ActionLogEntry is one append-only audit record.
type ActionLogEntry struct {
	ID         int64
	Action     ActionKind
	TargetPath string
	Details    string // JSON object
	CreatedAt  time.Time
}

// Operation records one CLI invocation that mutates the catalog.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
}
