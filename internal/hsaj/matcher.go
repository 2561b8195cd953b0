package hsaj

import (
	"database/sql"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultDurationTolerance is the default window, in seconds, on either side
// of an external track's duration.
const DefaultDurationTolerance = 2

// Confidence classifies how certain a track-to-file mapping is.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// MatchResult is the outcome of matching one external track.
type MatchResult struct {
	Confidence Confidence
	Candidates []*CatalogFile
}

// Unique returns the single matched file when confidence is high.
func (r *MatchResult) Unique() (*CatalogFile, bool) {
	if r.Confidence != ConfidenceHigh || len(r.Candidates) != 1 {
		return nil, false
	}
	return r.Candidates[0], true
}

// FileIDs returns the ids of all matched files. It never returns nil.
func (r *MatchResult) FileIDs() []int64 {
	ids := make([]int64, 0, len(r.Candidates))
	for _, f := range r.Candidates {
		ids = append(ids, f.ID)
	}
	return ids
}

// TrackMatcher resolves external track identities to catalog files using a
// conjunctive metadata filter and a duration tolerance window.
type TrackMatcher struct {
	store     Store
	tolerance int64
	fold      cases.Caser
}

// NewTrackMatcher creates a matcher. A negative tolerance is treated as zero.
func NewTrackMatcher(store Store, toleranceSeconds int) *TrackMatcher {
	if toleranceSeconds < 0 {
		toleranceSeconds = 0
	}
	return &TrackMatcher{
		store:     store,
		tolerance: int64(toleranceSeconds),
		fold:      cases.Fold(),
	}
}

// textFilter is a requested case-insensitive equality on one field.
type textFilter struct {
	folded string
	value  func(*CatalogFile) sql.NullString
}

// Match returns every catalog file satisfying all constraints derivable from track.
// When track carries no usable field the result is low confidence with no
// candidates, never an unconstrained match.
func (m *TrackMatcher) Match(track *ExternalTrack) (*MatchResult, error) {
	var query CatalogQuery
	var texts []textFilter
	constrained := false

	if v, ok := normalizedText(track.Artist); ok {
		texts = append(texts, textFilter{folded: m.fold.String(v), value: func(f *CatalogFile) sql.NullString { return f.Artist }})
		query.RequireArtist = true
	}
	if v, ok := normalizedText(track.Album); ok {
		texts = append(texts, textFilter{folded: m.fold.String(v), value: func(f *CatalogFile) sql.NullString { return f.Album }})
		query.RequireAlbum = true
	}
	if v, ok := normalizedText(track.Title); ok {
		texts = append(texts, textFilter{folded: m.fold.String(v), value: func(f *CatalogFile) sql.NullString { return f.Title }})
		query.RequireTitle = true
	}
	if len(texts) > 0 {
		constrained = true
	}

	if track.TrackNumber.Valid {
		query.TrackNumber = track.TrackNumber
		constrained = true
	}

	if track.DurationMS.Valid {
		lo, hi := DurationWindow(track.DurationMS.Int64, m.tolerance)
		query.MinDurationSeconds = sql.NullInt64{Int64: lo, Valid: true}
		query.MaxDurationSeconds = sql.NullInt64{Int64: hi, Valid: true}
		constrained = true
	}

	if !constrained {
		return &MatchResult{Confidence: ConfidenceLow, Candidates: []*CatalogFile{}}, nil
	}

	files, err := m.store.QueryCatalogFiles(query)
	if err != nil {
		return nil, fmt.Errorf("querying catalog for track %s: %w", track.TrackID, err)
	}

	matched := make([]*CatalogFile, 0, len(files))
	for _, f := range files {
		if m.textMatches(f, texts) {
			matched = append(matched, f)
		}
	}

	confidence := ConfidenceLow
	if len(matched) == 1 {
		confidence = ConfidenceHigh
	}
	return &MatchResult{Confidence: confidence, Candidates: matched}, nil
}

func (m *TrackMatcher) textMatches(f *CatalogFile, filters []textFilter) bool {
	for _, tf := range filters {
		v := tf.value(f)
		if !v.Valid {
			return false
		}
		if m.fold.String(strings.TrimSpace(v.String)) != tf.folded {
			return false
		}
	}
	return true
}

// DurationWindow converts a duration in milliseconds to an inclusive
// [lo, hi] window in whole seconds. Half seconds round to even, so 2500 ms
// centres on 2 s and 3500 ms on 4 s. The lower bound never drops below zero.
func DurationWindow(durationMS, toleranceSeconds int64) (int64, int64) {
	target := int64(math.RoundToEven(float64(durationMS) / 1000))
	if target < 0 {
		target = 0
	}
	lo := target - toleranceSeconds
	if lo < 0 {
		lo = 0
	}
	return lo, target + toleranceSeconds
}

func normalizedText(v sql.NullString) (string, bool) {
	if !v.Valid {
		return "", false
	}
	trimmed := strings.TrimSpace(v.String)
	return trimmed, trimmed != ""
}
