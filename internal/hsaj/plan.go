package hsaj

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LowConfidenceCause explains why a candidate could not be auto-quarantined.
type LowConfidenceCause string

const (
	CauseNotATrack     LowConfidenceCause = "not_a_track"
	CauseNoCachedTrack LowConfidenceCause = "no_cached_track"
	CauseNoMatch       LowConfidenceCause = "no_match"
	CauseAmbiguous     LowConfidenceCause = "ambiguous_match"
	CauseArchiveImmune LowConfidenceCause = "archive_immune"
	CauseFileClaimed   LowConfidenceCause = "file_claimed"
	// CauseAlreadyQuarantined marks a match that already sits under the
	// quarantine root, typically after a block was lifted and re-added.
	CauseAlreadyQuarantined LowConfidenceCause = "already_quarantined"
)

// Plan is an immutable snapshot of the actions implied by current state.
// The four buckets are disjoint.
type Plan struct {
	GeneratedAt      time.Time           `json:"generated_at" yaml:"generated_at"`
	Relocations      []RelocationMove    `json:"relocations" yaml:"relocations"`
	QuarantineDue    []QuarantineMove    `json:"quarantine_due" yaml:"quarantine_due"`
	QuarantineFuture []QuarantineMove    `json:"quarantine_future" yaml:"quarantine_future"`
	LowConfidence    []LowConfidenceItem `json:"low_confidence" yaml:"low_confidence"`
	ProbeFailures    []ProbeFailure      `json:"probe_failures,omitempty" yaml:"probe_failures,omitempty"`
}

// RelocationMove moves an immersive-audio file into the archive.
type RelocationMove struct {
	FileID      int64  `json:"file_id" yaml:"file_id"`
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
	Artist      string `json:"artist,omitempty" yaml:"artist,omitempty"`
	Album       string `json:"album,omitempty" yaml:"album,omitempty"`
}

// QuarantineMove moves a uniquely matched blocked file into quarantine.
type QuarantineMove struct {
	CandidateID     int64      `json:"candidate_id" yaml:"candidate_id"`
	FileID          int64      `json:"file_id" yaml:"file_id"`
	Source          string     `json:"source" yaml:"source"`
	Destination     string     `json:"destination" yaml:"destination"`
	Reason          string     `json:"reason" yaml:"reason"`
	PlannedActionAt *time.Time `json:"planned_action_at" yaml:"planned_action_at"`
	ObjectType      string     `json:"object_type" yaml:"object_type"`
	ObjectID        string     `json:"object_id" yaml:"object_id"`
}

// LowConfidenceItem is surfaced for manual review and never acted on automatically.
type LowConfidenceItem struct {
	CandidateID     int64              `json:"candidate_id" yaml:"candidate_id"`
	ObjectType      string             `json:"object_type" yaml:"object_type"`
	ObjectID        string             `json:"object_id" yaml:"object_id"`
	PlannedActionAt *time.Time         `json:"planned_action_at" yaml:"planned_action_at"`
	Reason          string             `json:"reason" yaml:"reason"`
	Cause           LowConfidenceCause `json:"cause" yaml:"cause"`
	MatchedFileIDs  []int64            `json:"matched_file_ids" yaml:"matched_file_ids"`
}

// ProbeFailure records a file the immersive-audio probe could not inspect.
type ProbeFailure struct {
	FileID int64  `json:"file_id" yaml:"file_id"`
	Path   string `json:"path" yaml:"path"`
	Error  string `json:"error" yaml:"error"`
}

// Empty reports whether the plan contains no actionable or reviewable items.
func (p *Plan) Empty() bool {
	return len(p.Relocations) == 0 && len(p.QuarantineDue) == 0 &&
		len(p.QuarantineFuture) == 0 && len(p.LowConfidence) == 0
}

// JSON renders the plan as indented JSON.
func (p *Plan) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding plan as json: %w", err)
	}
	return data, nil
}

// YAML renders the plan as a YAML document.
func (p *Plan) YAML() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding plan as yaml: %w", err)
	}
	return data, nil
}

func utcPtr(t time.Time, valid bool) *time.Time {
	if !valid {
		return nil
	}
	u := t.UTC()
	return &u
}
