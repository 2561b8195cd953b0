package hsaj

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	unknownArtist = "Unknown Artist"
	unknownAlbum  = "Unknown Album"
)

var unsafePathChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// ProbeResult is the outcome of asking whether a file carries immersive audio.
// A failed probe is a value, not an error: the planner records it and moves on.
type ProbeResult struct {
	Immersive bool
	Err       error
}

// ProbeOK builds a successful probe result.
func ProbeOK(immersive bool) ProbeResult {
	return ProbeResult{Immersive: immersive}
}

// ProbeFailed builds a failed probe result.
func ProbeFailed(err error) ProbeResult {
	return ProbeResult{Err: err}
}

// ImmersiveProbe inspects the file at path.
type ImmersiveProbe func(path string) ProbeResult

// PlannerConfig holds the roots the planner computes destinations against.
type PlannerConfig struct {
	QuarantineRoot    string
	ArchiveRoot       string
	LibraryRoots      []string
	DurationTolerance int
}

// Planner builds plans from persisted state. It never mutates anything.
type Planner struct {
	store   Store
	matcher *TrackMatcher
	probe   ImmersiveProbe
	cfg     PlannerConfig
	logger  Logger
}

// NewPlanner creates a Planner. probe may be nil, in which case no
// relocations are planned.
func NewPlanner(store Store, cfg PlannerConfig, probe ImmersiveProbe, logger Logger) *Planner {
	return &Planner{
		store:   store,
		matcher: NewTrackMatcher(store, cfg.DurationTolerance),
		probe:   probe,
		cfg:     cfg,
		logger:  logger,
	}
}

// Build computes the plan for the given instant.
func (p *Planner) Build(now time.Time) (*Plan, error) {
	if strings.TrimSpace(p.cfg.QuarantineRoot) == "" {
		return nil, ErrQuarantineRootMissing
	}
	now = now.UTC()

	plan := &Plan{
		GeneratedAt:      now,
		Relocations:      []RelocationMove{},
		QuarantineDue:    []QuarantineMove{},
		QuarantineFuture: []QuarantineMove{},
		LowConfidence:    []LowConfidenceItem{},
	}

	candidates, err := p.store.ListCandidatesByStatus(StatusPlanned)
	if err != nil {
		return nil, fmt.Errorf("listing planned candidates: %w", err)
	}

	claimed := make(map[int64]bool)
	for _, c := range candidates {
		if err := p.planCandidate(plan, c, now, claimed); err != nil {
			return nil, err
		}
	}

	if err := p.planRelocations(plan, claimed); err != nil {
		return nil, err
	}

	p.logger.Debug("plan built",
		"relocations", len(plan.Relocations),
		"quarantine_due", len(plan.QuarantineDue),
		"quarantine_future", len(plan.QuarantineFuture),
		"low_confidence", len(plan.LowConfidence),
		"probe_failures", len(plan.ProbeFailures),
	)
	return plan, nil
}

func (p *Planner) planCandidate(plan *Plan, c *BlockCandidate, now time.Time, claimed map[int64]bool) error {
	low := func(cause LowConfidenceCause, reason string, ids []int64) {
		if ids == nil {
			ids = []int64{}
		}
		plan.LowConfidence = append(plan.LowConfidence, LowConfidenceItem{
			CandidateID:     c.ID,
			ObjectType:      c.ObjectType,
			ObjectID:        c.ObjectID,
			PlannedActionAt: utcPtr(c.PlannedActionAt.Time, c.PlannedActionAt.Valid),
			Reason:          reason,
			Cause:           cause,
			MatchedFileIDs:  ids,
		})
	}

	if c.ObjectType != "track" {
		low(CauseNotATrack, c.Reason, nil)
		return nil
	}

	track, err := p.store.FindExternalTrack(c.ObjectID)
	if err != nil {
		return fmt.Errorf("finding cached track %s: %w", c.ObjectID, err)
	}
	if track == nil {
		low(CauseNoCachedTrack, c.Reason, nil)
		return nil
	}

	match, err := p.matcher.Match(track)
	if err != nil {
		return err
	}
	file, ok := match.Unique()
	if !ok {
		cause := CauseNoMatch
		if len(match.Candidates) > 1 {
			cause = CauseAmbiguous
		}
		low(cause, c.Reason, match.FileIDs())
		return nil
	}

	if p.insideArchive(file.Path) {
		low(CauseArchiveImmune, c.Reason+":archive_immune", match.FileIDs())
		return nil
	}
	if p.insideQuarantine(file.Path) {
		low(CauseAlreadyQuarantined, c.Reason+":already_quarantined", match.FileIDs())
		return nil
	}
	if claimed[file.ID] {
		low(CauseFileClaimed, c.Reason, match.FileIDs())
		return nil
	}
	claimed[file.ID] = true

	move := QuarantineMove{
		CandidateID:     c.ID,
		FileID:          file.ID,
		Source:          file.Path,
		Destination:     p.QuarantineDestination(file.Path, now),
		Reason:          c.Reason,
		PlannedActionAt: utcPtr(c.PlannedActionAt.Time, c.PlannedActionAt.Valid),
		ObjectType:      c.ObjectType,
		ObjectID:        c.ObjectID,
	}
	if c.PlannedActionAt.Valid && !c.PlannedActionAt.Time.After(now) {
		plan.QuarantineDue = append(plan.QuarantineDue, move)
	} else {
		plan.QuarantineFuture = append(plan.QuarantineFuture, move)
	}
	return nil
}

// planRelocations walks the catalog in id order. Only library files are
// considered: anything under the archive or quarantine roots, or outside the
// configured library roots, is skipped. Files already claimed by a quarantine
// bucket are left to the quarantine.
func (p *Planner) planRelocations(plan *Plan, claimed map[int64]bool) error {
	if p.probe == nil || strings.TrimSpace(p.cfg.ArchiveRoot) == "" {
		return nil
	}

	files, err := p.store.ListCatalogFiles()
	if err != nil {
		return fmt.Errorf("listing catalog files: %w", err)
	}

	for _, f := range files {
		if claimed[f.ID] || !p.relocatable(f.Path) {
			continue
		}
		res := p.probe(f.Path)
		if res.Err != nil {
			p.logger.Warn("immersive probe failed", "file_id", f.ID, "path", f.Path, "error", res.Err)
			plan.ProbeFailures = append(plan.ProbeFailures, ProbeFailure{FileID: f.ID, Path: f.Path, Error: res.Err.Error()})
			continue
		}
		if !res.Immersive {
			continue
		}

		dest := p.ArchiveDestination(f)
		if filepath.Clean(dest) == filepath.Clean(f.Path) {
			continue
		}
		plan.Relocations = append(plan.Relocations, RelocationMove{
			FileID:      f.ID,
			Source:      f.Path,
			Destination: dest,
			Artist:      f.Artist.String,
			Album:       f.Album.String,
		})
	}
	return nil
}

// QuarantineDestination is quarantine-root/YYYY-MM-DD/<path relative to its
// library root>, or the bare file name when no root contains the source.
func (p *Planner) QuarantineDestination(source string, now time.Time) string {
	dateFolder := now.UTC().Format("2006-01-02")
	return filepath.Join(p.cfg.QuarantineRoot, dateFolder, p.relativeToLibrary(source))
}

// ArchiveDestination is archive-root/artist/album/<file name>.
func (p *Planner) ArchiveDestination(f *CatalogFile) string {
	artist := SanitizePathComponent(f.Artist.String, unknownArtist)
	album := SanitizePathComponent(f.Album.String, unknownAlbum)
	return filepath.Join(p.cfg.ArchiveRoot, artist, album, filepath.Base(f.Path))
}

func (p *Planner) relativeToLibrary(source string) string {
	for _, root := range p.cfg.LibraryRoots {
		if rel, ok := relativeInside(root, source); ok && rel != "." {
			return rel
		}
	}
	return filepath.Base(source)
}

// relocatable reports whether path is a library file the relocation pass may
// move. With no library roots configured every file outside the archive and
// quarantine roots qualifies.
func (p *Planner) relocatable(path string) bool {
	if p.insideArchive(path) || p.insideQuarantine(path) {
		return false
	}
	if len(p.cfg.LibraryRoots) == 0 {
		return true
	}
	for _, root := range p.cfg.LibraryRoots {
		if _, ok := relativeInside(root, path); ok {
			return true
		}
	}
	return false
}

func (p *Planner) insideQuarantine(path string) bool {
	if strings.TrimSpace(p.cfg.QuarantineRoot) == "" {
		return false
	}
	_, ok := relativeInside(p.cfg.QuarantineRoot, path)
	return ok
}

func (p *Planner) insideArchive(path string) bool {
	if strings.TrimSpace(p.cfg.ArchiveRoot) == "" {
		return false
	}
	_, ok := relativeInside(p.cfg.ArchiveRoot, path)
	return ok
}

// relativeInside returns path relative to root when path is root or below it.
func relativeInside(root, path string) (string, bool) {
	if root == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// SanitizePathComponent replaces characters that are unsafe in file names
// with "_" and falls back to def for blank values.
func SanitizePathComponent(value, def string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	return unsafePathChars.ReplaceAllString(value, "_")
}
