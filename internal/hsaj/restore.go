package hsaj

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// RestoreStatus is the outcome of a restore request.
type RestoreStatus int

const (
	RestoreOK RestoreStatus = iota
	RestoreNotFound
	RestoreConflict
	RestoreSourceMissing
)

func (s RestoreStatus) String() string {
	switch s {
	case RestoreOK:
		return "restored"
	case RestoreNotFound:
		return "not_found"
	case RestoreConflict:
		return "conflict"
	case RestoreSourceMissing:
		return "source_missing"
	default:
		return fmt.Sprintf("RestoreStatus(%d)", int(s))
	}
}

// RestoreTarget names the file to restore, either by catalog id or by its
// current (quarantined) path.
type RestoreTarget struct {
	FileID int64
	Path   string
}

// ParseRestoreTarget treats a purely numeric argument as a file id and
// anything else as a path.
func ParseRestoreTarget(arg string) (RestoreTarget, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return RestoreTarget{}, fmt.Errorf("restore target is empty")
	}
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if id <= 0 {
			return RestoreTarget{}, fmt.Errorf("invalid file id %d", id)
		}
		return RestoreTarget{FileID: id}, nil
	}
	return RestoreTarget{Path: filepath.Clean(arg)}, nil
}

func (t RestoreTarget) String() string {
	if t.FileID != 0 {
		return fmt.Sprintf("file %d", t.FileID)
	}
	return t.Path
}

// RestoreResult describes what Restore did.
type RestoreResult struct {
	Status         RestoreStatus
	QuarantinePath string
	OriginalPath   string
	FileID         int64
	CandidateID    int64
}

// Restore moves a quarantined file back to where it came from. The most
// recent quarantine_move entry for the file's current path is the provenance.
// An occupied original path is reported as a conflict and audited before the
// quarantined copy is looked at; the copy is never touched in that case.
func (e *Executor) Restore(target RestoreTarget) (*RestoreResult, error) {
	path, err := e.resolveRestorePath(target)
	if err != nil {
		return nil, err
	}
	result := &RestoreResult{Status: RestoreNotFound, QuarantinePath: path}
	if path == "" {
		e.logger.Info("restore target not in catalog", "target", target.String())
		return result, nil
	}

	entry, err := e.db.FindLatestAction(ActionQuarantineMove, path)
	if err != nil {
		return nil, fmt.Errorf("finding quarantine entry for %s: %w", path, err)
	}
	if entry == nil {
		e.logger.Info("no quarantine record", "path", path)
		return result, nil
	}

	var details actionDetails
	if err := json.Unmarshal([]byte(entry.Details), &details); err != nil {
		return nil, fmt.Errorf("decoding details of action %d: %w", entry.ID, err)
	}
	if details.From == "" {
		return nil, fmt.Errorf("action %d has no source path", entry.ID)
	}
	result.OriginalPath = details.From
	result.FileID = details.FileID
	result.CandidateID = details.CandidateID

	occupied, err := e.fs.Exists(details.From)
	if err != nil {
		return nil, fmt.Errorf("checking original path %s: %w", details.From, err)
	}
	if occupied {
		if err := e.recordConflict(path, details); err != nil {
			return nil, err
		}
		e.logger.Warn("restore conflict, original path is occupied", "path", path, "original", details.From)
		result.Status = RestoreConflict
		return result, nil
	}

	present, err := e.fs.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("checking quarantined file %s: %w", path, err)
	}
	if !present {
		e.logger.Warn("quarantined file is missing", "path", path)
		result.Status = RestoreSourceMissing
		return result, nil
	}

	if err := e.fs.MkdirAll(filepath.Dir(details.From)); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", details.From, err)
	}
	if err := e.fs.Move(path, details.From); err != nil {
		return nil, fmt.Errorf("moving %s back to %s: %w", path, details.From, err)
	}

	err = e.db.RunInTx(func(tx Tx) error {
		return e.recordRestore(tx, path, details)
	})
	if err != nil {
		if backErr := e.fs.Move(details.From, path); backErr != nil {
			e.logger.Error("could not reverse restore move", "path", path, "original", details.From, "error", backErr)
		}
		return nil, fmt.Errorf("restoring %s: %w", path, err)
	}

	e.logger.Info("restored file", "path", path, "original", details.From)
	result.Status = RestoreOK
	return result, nil
}

// resolveRestorePath returns the current path of the target. An unknown file
// id resolves to "".
func (e *Executor) resolveRestorePath(target RestoreTarget) (string, error) {
	if target.FileID == 0 {
		return target.Path, nil
	}
	file, err := e.db.FindCatalogFile(target.FileID)
	if err != nil {
		return "", fmt.Errorf("finding file %d: %w", target.FileID, err)
	}
	if file == nil {
		return "", nil
	}
	return file.Path, nil
}

func (e *Executor) recordConflict(path string, details actionDetails) error {
	payload, err := json.Marshal(map[string]any{
		"conflict_with": details.From,
		"file_id":       details.FileID,
	})
	if err != nil {
		return fmt.Errorf("encoding conflict details: %w", err)
	}
	entry := &ActionLogEntry{Action: ActionRestoreConflict, TargetPath: path, Details: string(payload), CreatedAt: e.clock.Now()}
	if err := e.db.AppendAction(entry); err != nil {
		return fmt.Errorf("recording restore conflict for %s: %w", path, err)
	}
	return nil
}

func (e *Executor) recordRestore(tx Tx, path string, details actionDetails) error {
	now := e.clock.Now()

	file, err := tx.FindCatalogFileByPath(path)
	if err != nil {
		return fmt.Errorf("finding file at %s: %w", path, err)
	}
	if file == nil && details.FileID != 0 {
		file, err = tx.FindCatalogFile(details.FileID)
		if err != nil {
			return fmt.Errorf("finding file %d: %w", details.FileID, err)
		}
	}
	if file != nil {
		if err := tx.UpdateCatalogFilePath(file.ID, details.From); err != nil {
			return fmt.Errorf("updating path of file %d: %w", file.ID, err)
		}
	}

	if details.CandidateID != 0 {
		candidate, err := tx.FindCandidateByID(details.CandidateID)
		if err != nil {
			return fmt.Errorf("finding candidate %d: %w", details.CandidateID, err)
		}
		if candidate != nil && candidate.Status != StatusRestored {
			status, err := Transition(candidate.Status, StatusRestored)
			if err != nil {
				return fmt.Errorf("restoring candidate %d: %w", candidate.ID, err)
			}
			candidate.Status = status
			candidate.RestoredAt = sql.NullTime{Time: now, Valid: true}
			candidate.PlannedActionAt = sql.NullTime{}
			if err := tx.UpdateCandidate(candidate); err != nil {
				return fmt.Errorf("updating candidate %d: %w", candidate.ID, err)
			}
		}
	}

	payload, err := json.Marshal(actionDetails{From: path, FileID: details.FileID, CandidateID: details.CandidateID})
	if err != nil {
		return fmt.Errorf("encoding restore details: %w", err)
	}
	entry := &ActionLogEntry{Action: ActionRestore, TargetPath: details.From, Details: string(payload), CreatedAt: now}
	if err := tx.AppendAction(entry); err != nil {
		return fmt.Errorf("appending restore entry: %w", err)
	}
	return nil
}
