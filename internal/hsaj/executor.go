package hsaj

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
)

// SkipReason explains why a plan item was not moved.
type SkipReason string

const (
	SkipDestinationExists  SkipReason = "destination_exists"
	SkipSourceMissing      SkipReason = "source_missing"
	SkipAlreadyQuarantined SkipReason = "already_quarantined"
	SkipNotPlanned         SkipReason = "candidate_not_planned"
)

// AppliedMove is one file moved by Apply.
type AppliedMove struct {
	FileID      int64
	CandidateID int64 // zero for relocations
	Source      string
	Destination string
}

// SkippedMove is a plan item Apply deliberately left alone.
type SkippedMove struct {
	AppliedMove
	Reason SkipReason
}

// FailedMove is a plan item that could not be applied. Its file is back at
// Source unless the compensating move also failed.
type FailedMove struct {
	AppliedMove
	Err error
}

// ApplyResult summarizes one Apply call.
type ApplyResult struct {
	RunID       string
	DryRun      bool
	Relocated   []AppliedMove
	Quarantined []AppliedMove
	Skipped     []SkippedMove
	Failed      []FailedMove
}

// Moves returns the number of files moved.
func (r *ApplyResult) Moves() int {
	return len(r.Relocated) + len(r.Quarantined)
}

// actionDetails is the JSON payload stored with move entries.
type actionDetails struct {
	From        string `json:"from"`
	FileID      int64  `json:"file_id,omitempty"`
	CandidateID int64  `json:"candidate_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ObjectType  string `json:"object_type,omitempty"`
	ObjectID    string `json:"object_id,omitempty"`
	RunID       string `json:"run_id,omitempty"`
}

// Executor applies plans and restores quarantined files.
type Executor struct {
	db             Database
	fs             Filesystem
	clock          Clock
	idgen          IDGenerator
	logger         Logger
	quarantineRoot string
}

// NewExecutor creates an Executor.
func NewExecutor(db Database, fs Filesystem, clock Clock, idgen IDGenerator, logger Logger, quarantineRoot string) *Executor {
	return &Executor{
		db:             db,
		fs:             fs,
		clock:          clock,
		idgen:          idgen,
		logger:         logger,
		quarantineRoot: quarantineRoot,
	}
}

// Apply executes the relocations and due quarantine moves of plan, in that
// order. Future and low-confidence items are never touched.
//
// With dryRun a single dry_run audit entry is written and nothing else changes.
//
// All database writes share one transaction with a savepoint per item. An item
// whose writes fail has its file moved back and is reported in Failed. If the
// transaction cannot commit, every move of the batch is reversed best-effort.
func (e *Executor) Apply(plan *Plan, dryRun bool) (*ApplyResult, error) {
	if e.quarantineRoot == "" {
		return nil, ErrQuarantineRootMissing
	}

	result := &ApplyResult{RunID: e.idgen.New(), DryRun: dryRun}

	if dryRun {
		details, err := json.Marshal(map[string]any{
			"command":        "apply",
			"run_id":         result.RunID,
			"relocations":    len(plan.Relocations),
			"quarantine_due": len(plan.QuarantineDue),
		})
		if err != nil {
			return nil, fmt.Errorf("encoding dry run details: %w", err)
		}
		entry := &ActionLogEntry{Action: ActionDryRun, TargetPath: ".", Details: string(details), CreatedAt: e.clock.Now()}
		if err := e.db.AppendAction(entry); err != nil {
			return nil, fmt.Errorf("recording dry run: %w", err)
		}
		e.logger.Info("dry run recorded", "run_id", result.RunID)
		return result, nil
	}

	var moved []AppliedMove
	err := e.db.RunInTx(func(tx Tx) error {
		for i, item := range plan.Relocations {
			move := AppliedMove{FileID: item.FileID, Source: item.Source, Destination: item.Destination}
			details := actionDetails{From: item.Source, FileID: item.FileID, RunID: result.RunID}
			ok := e.applyItem(tx, result, fmt.Sprintf("relocation_%d", i), move, ActionImmersiveMove, details, nil)
			if ok {
				result.Relocated = append(result.Relocated, move)
				moved = append(moved, move)
			}
		}

		for i, item := range plan.QuarantineDue {
			move := AppliedMove{FileID: item.FileID, CandidateID: item.CandidateID, Source: item.Source, Destination: item.Destination}
			candidate, skip, err := e.quarantineCandidate(tx, item)
			if err != nil {
				e.logger.Error("quarantine candidate lookup failed", "candidate_id", item.CandidateID, "error", err)
				result.Failed = append(result.Failed, FailedMove{AppliedMove: move, Err: err})
				continue
			}
			if skip != "" {
				e.logger.Info("skipping quarantine", "candidate_id", item.CandidateID, "reason", string(skip))
				result.Skipped = append(result.Skipped, SkippedMove{AppliedMove: move, Reason: skip})
				continue
			}

			details := actionDetails{
				From:        item.Source,
				FileID:      item.FileID,
				CandidateID: item.CandidateID,
				Reason:      item.Reason,
				ObjectType:  item.ObjectType,
				ObjectID:    item.ObjectID,
				RunID:       result.RunID,
			}
			markQuarantined := func() error {
				status, err := Transition(candidate.Status, StatusQuarantined)
				if err != nil {
					return fmt.Errorf("quarantining candidate %d: %w", candidate.ID, err)
				}
				candidate.Status = status
				if err := tx.UpdateCandidate(candidate); err != nil {
					return fmt.Errorf("updating candidate %d: %w", candidate.ID, err)
				}
				return nil
			}
			ok := e.applyItem(tx, result, fmt.Sprintf("quarantine_%d", i), move, ActionQuarantineMove, details, markQuarantined)
			if ok {
				result.Quarantined = append(result.Quarantined, move)
				moved = append(moved, move)
			}
		}
		return nil
	})
	if err != nil {
		e.reverseMoves(moved)
		return nil, fmt.Errorf("applying plan: %w", err)
	}

	e.logger.Info("apply complete",
		"run_id", result.RunID,
		"relocated", len(result.Relocated),
		"quarantined", len(result.Quarantined),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
	)
	return result, nil
}

// quarantineCandidate loads the candidate behind a quarantine item and
// decides whether it is still eligible.
func (e *Executor) quarantineCandidate(tx Tx, item QuarantineMove) (*BlockCandidate, SkipReason, error) {
	candidate, err := tx.FindCandidateByID(item.CandidateID)
	if err != nil {
		return nil, "", fmt.Errorf("finding candidate %d: %w", item.CandidateID, err)
	}
	if candidate == nil {
		return nil, "", fmt.Errorf("candidate %d: %w", item.CandidateID, ErrCandidateNotFound)
	}
	switch candidate.Status {
	case StatusQuarantined:
		return candidate, SkipAlreadyQuarantined, nil
	case StatusPlanned:
		return candidate, "", nil
	default:
		return candidate, SkipNotPlanned, nil
	}
}

// applyItem performs one move and its database writes. It reports whether
// the file was moved and recorded.
func (e *Executor) applyItem(tx Tx, result *ApplyResult, savepoint string, move AppliedMove, kind ActionKind, details actionDetails, extra func() error) bool {
	skip := func(reason SkipReason) bool {
		e.logger.Warn("skipping move", "reason", string(reason), "source", move.Source, "destination", move.Destination)
		result.Skipped = append(result.Skipped, SkippedMove{AppliedMove: move, Reason: reason})
		return false
	}
	fail := func(err error) bool {
		e.logger.Error("move failed", "source", move.Source, "destination", move.Destination, "error", err)
		result.Failed = append(result.Failed, FailedMove{AppliedMove: move, Err: err})
		return false
	}

	destExists, err := e.fs.Exists(move.Destination)
	if err != nil {
		return fail(fmt.Errorf("checking destination %s: %w", move.Destination, err))
	}
	if destExists {
		return skip(SkipDestinationExists)
	}

	srcExists, err := e.fs.Exists(move.Source)
	if err != nil {
		return fail(fmt.Errorf("checking source %s: %w", move.Source, err))
	}
	if !srcExists {
		return skip(SkipSourceMissing)
	}

	if err := e.fs.MkdirAll(filepath.Dir(move.Destination)); err != nil {
		return fail(fmt.Errorf("creating directory for %s: %w", move.Destination, err))
	}
	if err := e.fs.Move(move.Source, move.Destination); err != nil {
		if errors.Is(err, ErrDestinationExists) {
			return skip(SkipDestinationExists)
		}
		return fail(fmt.Errorf("moving %s to %s: %w", move.Source, move.Destination, err))
	}

	err = tx.Savepoint(savepoint, func() error {
		if err := tx.UpdateCatalogFilePath(move.FileID, move.Destination); err != nil {
			return fmt.Errorf("updating path of file %d: %w", move.FileID, err)
		}
		if extra != nil {
			if err := extra(); err != nil {
				return err
			}
		}
		payload, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encoding action details: %w", err)
		}
		entry := &ActionLogEntry{Action: kind, TargetPath: move.Destination, Details: string(payload), CreatedAt: e.clock.Now()}
		if err := tx.AppendAction(entry); err != nil {
			return fmt.Errorf("appending %s entry: %w", kind, err)
		}
		return nil
	})
	if err != nil {
		if backErr := e.fs.Move(move.Destination, move.Source); backErr != nil {
			err = fmt.Errorf("%w (moving file back: %v)", err, backErr)
		}
		return fail(err)
	}

	e.logger.Info("moved file", "action", string(kind), "file_id", move.FileID, "source", move.Source, "destination", move.Destination)
	return true
}

// reverseMoves undoes moves newest first after a failed commit.
func (e *Executor) reverseMoves(moves []AppliedMove) {
	for i := len(moves) - 1; i >= 0; i-- {
		m := moves[i]
		if err := e.fs.Move(m.Destination, m.Source); err != nil {
			e.logger.Error("could not reverse move", "source", m.Source, "destination", m.Destination, "error", err)
		}
	}
}
