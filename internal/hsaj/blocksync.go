package hsaj

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DefaultGracePeriod is the delay between first observing a block and the
// earliest allowed quarantine.
const DefaultGracePeriod = 30 * 24 * time.Hour

// FeedEntry is one item of the external blocked-objects feed as received.
type FeedEntry struct {
	Type  string `json:"type" yaml:"type"`
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// BlockedObject is a validated, normalized feed entry.
type BlockedObject struct {
	Key   BlockKey
	Label sql.NullString
}

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	RawCreated         int
	RawUpdated         int
	CandidatesCreated  int
	CandidatesReopened int
	CandidatesRestored int
}

// NormalizeFeed validates every entry before anything is persisted.
// Types are lower-cased, ids and labels trimmed, and duplicate keys collapsed
// onto their first position with the last label seen.
func NormalizeFeed(entries []FeedEntry) ([]BlockedObject, error) {
	objects := make([]BlockedObject, 0, len(entries))
	index := make(map[BlockKey]int, len(entries))

	for i, e := range entries {
		objectType := strings.ToLower(strings.TrimSpace(e.Type))
		if objectType == "" {
			return nil, &MalformedFeedError{Index: i, Field: "type"}
		}
		objectID := strings.TrimSpace(e.ID)
		if objectID == "" {
			return nil, &MalformedFeedError{Index: i, Field: "id"}
		}

		obj := BlockedObject{Key: BlockKey{Type: objectType, ID: objectID}}
		if label := strings.TrimSpace(e.Label); label != "" {
			obj.Label = sql.NullString{String: label, Valid: true}
		}

		if pos, seen := index[obj.Key]; seen {
			objects[pos].Label = obj.Label
			continue
		}
		index[obj.Key] = len(objects)
		objects = append(objects, obj)
	}
	return objects, nil
}

// BlockSyncer reconciles feed snapshots against persisted observations and candidates.
type BlockSyncer struct {
	db     Database
	logger Logger
}

// NewBlockSyncer creates a BlockSyncer.
func NewBlockSyncer(db Database, logger Logger) *BlockSyncer {
	return &BlockSyncer{db: db, logger: logger}
}

// Sync applies one snapshot observed at seenAt. grace is only used for
// candidates created (or reopened) by this pass. A key that is persisted but
// absent from the snapshot is marked restored.
func (s *BlockSyncer) Sync(entries []FeedEntry, grace time.Duration, seenAt time.Time) (*SyncResult, error) {
	objects, err := NormalizeFeed(entries)
	if err != nil {
		return nil, err
	}
	seenAt = seenAt.UTC()

	result := &SyncResult{}
	err = s.db.RunInTx(func(tx Tx) error {
		active := make(map[BlockKey]bool, len(objects))
		for _, obj := range objects {
			active[obj.Key] = true

			created, err := upsertObservation(tx, obj, seenAt)
			if err != nil {
				return err
			}
			if created {
				result.RawCreated++
			} else {
				result.RawUpdated++
			}

			outcome, err := s.upsertCandidate(tx, obj, grace, seenAt)
			if err != nil {
				return err
			}
			switch outcome {
			case candidateCreated:
				result.CandidatesCreated++
			case candidateReopened:
				result.CandidatesReopened++
			}
		}

		restored, err := s.markMissingRestored(tx, active, seenAt)
		if err != nil {
			return err
		}
		result.CandidatesRestored = restored
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("syncing blocked objects: %w", err)
	}

	s.logger.Info("block sync complete",
		"observed", len(objects),
		"raw_created", result.RawCreated,
		"raw_updated", result.RawUpdated,
		"candidates_created", result.CandidatesCreated,
		"candidates_reopened", result.CandidatesReopened,
		"candidates_restored", result.CandidatesRestored,
	)
	return result, nil
}

func upsertObservation(tx Tx, obj BlockedObject, seenAt time.Time) (bool, error) {
	existing, err := tx.FindObservation(obj.Key)
	if err != nil {
		return false, fmt.Errorf("finding observation %s: %w", obj.Key, err)
	}
	if existing != nil {
		existing.Label = obj.Label
		existing.LastSeenAt = seenAt
		if err := tx.UpdateObservation(existing); err != nil {
			return false, fmt.Errorf("updating observation %s: %w", obj.Key, err)
		}
		return false, nil
	}

	obs := &BlockObservation{
		ObjectType:  obj.Key.Type,
		ObjectID:    obj.Key.ID,
		Label:       obj.Label,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
	}
	if err := tx.InsertObservation(obs); err != nil {
		return false, fmt.Errorf("inserting observation %s: %w", obj.Key, err)
	}
	return true, nil
}

type candidateOutcome int

const (
	candidateRefreshed candidateOutcome = iota
	candidateCreated
	candidateReopened
)

func (s *BlockSyncer) upsertCandidate(tx Tx, obj BlockedObject, grace time.Duration, seenAt time.Time) (candidateOutcome, error) {
	existing, err := tx.FindCandidate(obj.Key)
	if err != nil {
		return 0, fmt.Errorf("finding candidate %s: %w", obj.Key, err)
	}

	if existing == nil {
		candidate := &BlockCandidate{
			ObjectType:      obj.Key.Type,
			ObjectID:        obj.Key.ID,
			Label:           obj.Label,
			Reason:          ReasonFor(obj.Key.Type),
			Status:          StatusPlanned,
			FirstSeenAt:     seenAt,
			LastSeenAt:      seenAt,
			PlannedActionAt: sql.NullTime{Time: seenAt.Add(grace), Valid: true},
		}
		if err := tx.InsertCandidate(candidate); err != nil {
			return 0, fmt.Errorf("inserting candidate %s: %w", obj.Key, err)
		}
		s.logger.Debug("candidate planned", "key", obj.Key.String(), "planned_action_at", candidate.PlannedActionAt.Time)
		return candidateCreated, nil
	}

	outcome := candidateRefreshed
	existing.Label = obj.Label
	existing.Reason = ReasonFor(obj.Key.Type)
	existing.LastSeenAt = seenAt
	if existing.Status == StatusRestored {
		status, err := Transition(existing.Status, StatusPlanned)
		if err != nil {
			return 0, fmt.Errorf("reopening candidate %s: %w", obj.Key, err)
		}
		existing.Status = status
		existing.RestoredAt = sql.NullTime{}
		existing.PlannedActionAt = sql.NullTime{Time: seenAt.Add(grace), Valid: true}
		outcome = candidateReopened
		s.logger.Info("candidate reopened", "key", obj.Key.String(), "planned_action_at", existing.PlannedActionAt.Time)
	}

	if err := tx.UpdateCandidate(existing); err != nil {
		return 0, fmt.Errorf("updating candidate %s: %w", obj.Key, err)
	}
	return outcome, nil
}

func (s *BlockSyncer) markMissingRestored(tx Tx, active map[BlockKey]bool, at time.Time) (int, error) {
	candidates, err := tx.ListCandidates()
	if err != nil {
		return 0, fmt.Errorf("listing candidates: %w", err)
	}

	restored := 0
	for _, c := range candidates {
		if active[c.Key()] || c.Status == StatusRestored {
			continue
		}
		status, err := Transition(c.Status, StatusRestored)
		if err != nil {
			return restored, fmt.Errorf("restoring candidate %s: %w", c.Key(), err)
		}
		c.Status = status
		c.RestoredAt = sql.NullTime{Time: at, Valid: true}
		c.PlannedActionAt = sql.NullTime{}
		c.LastSeenAt = at
		if err := tx.UpdateCandidate(c); err != nil {
			return restored, fmt.Errorf("updating candidate %s: %w", c.Key(), err)
		}
		s.logger.Info("block lifted, candidate restored", "key", c.Key().String())
		restored++
	}
	return restored, nil
}
