package hsaj

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// TrackLookup resolves an external track id to its metadata.
// It returns (nil, nil) when the external service does not know the track.
type TrackLookup interface {
	LookupTrack(ctx context.Context, trackID string) (*ExternalTrack, error)
}

// HsajService is the orchestration layer the CLI talks to. It wires the
// syncer, planner and executor to one database, filesystem and clock.
type HsajService struct {
	database Database
	syncer   *BlockSyncer
	planner  *Planner
	executor *Executor
	lookup   TrackLookup
	logger   Logger
	clock    Clock
}

// NewHsajService creates a new HsajService. lookup and probe may be nil.
func NewHsajService(database Database, fsys Filesystem, lookup TrackLookup, probe ImmersiveProbe, cfg PlannerConfig, logger Logger, clock Clock, idgen IDGenerator) *HsajService {
	return &HsajService{
		database: database,
		syncer:   NewBlockSyncer(database, logger),
		planner:  NewPlanner(database, cfg, probe, logger),
		executor: NewExecutor(database, fsys, clock, idgen, logger, cfg.QuarantineRoot),
		lookup:   lookup,
		logger:   logger,
		clock:    clock,
	}
}

// SyncBlocked reconciles a feed snapshot at the current time, then fills the
// track cache for observed tracks that are not cached yet.
func (s *HsajService) SyncBlocked(ctx context.Context, entries []FeedEntry, grace time.Duration) (*SyncResult, error) {
	result, err := s.syncer.Sync(entries, grace, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if _, err := s.RefreshTrackCache(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// RefreshTrackCache looks up every non-restored track candidate that has no
// cache row. Lookup failures are logged and skipped. Returns the number of
// tracks cached.
func (s *HsajService) RefreshTrackCache(ctx context.Context) (int, error) {
	if s.lookup == nil {
		return 0, nil
	}

	candidates, err := s.database.ListCandidates()
	if err != nil {
		return 0, fmt.Errorf("listing candidates: %w", err)
	}

	cached := 0
	for _, c := range candidates {
		if c.ObjectType != "track" || c.Status == StatusRestored {
			continue
		}
		if err := ctx.Err(); err != nil {
			return cached, err
		}

		existing, err := s.database.FindExternalTrack(c.ObjectID)
		if err != nil {
			return cached, fmt.Errorf("finding cached track %s: %w", c.ObjectID, err)
		}
		if existing != nil {
			continue
		}

		track, err := s.lookup.LookupTrack(ctx, c.ObjectID)
		if err != nil {
			s.logger.Warn("track lookup failed", "track_id", c.ObjectID, "error", err)
			continue
		}
		if track == nil {
			s.logger.Debug("track unknown to bridge", "track_id", c.ObjectID)
			continue
		}
		if track.TrackID == "" {
			track.TrackID = c.ObjectID
		}
		if err := s.database.UpsertExternalTrack(track); err != nil {
			return cached, fmt.Errorf("caching track %s: %w", c.ObjectID, err)
		}
		cached++
	}

	if cached > 0 {
		s.logger.Info("track cache refreshed", "cached", cached)
	}
	return cached, nil
}

// BuildPlan computes the plan for the current time.
func (s *HsajService) BuildPlan() (*Plan, error) {
	plan, err := s.planner.Build(s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("building plan: %w", err)
	}
	return plan, nil
}

// Apply builds a fresh plan and executes it.
func (s *HsajService) Apply(dryRun bool) (*Plan, *ApplyResult, error) {
	plan, err := s.BuildPlan()
	if err != nil {
		return nil, nil, err
	}
	result, err := s.executor.Apply(plan, dryRun)
	if err != nil {
		return plan, nil, err
	}
	return plan, result, nil
}

// Restore moves a quarantined file back to its original location.
func (s *HsajService) Restore(target RestoreTarget) (*RestoreResult, error) {
	return s.executor.Restore(target)
}

// AddCatalogFile registers or refreshes a catalog record keyed by its absolute path.
func (s *HsajService) AddCatalogFile(file *CatalogFile) (bool, error) {
	abs, err := filepath.Abs(file.Path)
	if err != nil {
		return false, fmt.Errorf("resolving path %s: %w", file.Path, err)
	}
	file.Path = abs

	created, err := s.database.UpsertCatalogFile(file)
	if err != nil {
		return false, fmt.Errorf("saving catalog file %s: %w", abs, err)
	}
	s.logger.Info("catalog file saved", "path", abs, "created", created)
	return created, nil
}

// ListCandidates returns candidates ordered by id, optionally filtered by status.
func (s *HsajService) ListCandidates(status *CandidateStatus) ([]*BlockCandidate, error) {
	var (
		candidates []*BlockCandidate
		err        error
	)
	if status != nil {
		candidates, err = s.database.ListCandidatesByStatus(*status)
	} else {
		candidates, err = s.database.ListCandidates()
	}
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	return candidates, nil
}

// ListActions returns the most recent action log entries, newest first.
func (s *HsajService) ListActions(limit int) ([]*ActionLogEntry, error) {
	entries, err := s.database.ListActions(limit)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	return entries, nil
}

// GetHistory returns the most recent operations, newest first.
func (s *HsajService) GetHistory(limit int) ([]*Operation, error) {
	ops, err := s.database.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
