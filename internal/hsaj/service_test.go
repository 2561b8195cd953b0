package hsaj_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"hsaj-go/internal/hsaj"
	"hsaj-go/internal/testutil"
)

// fakeLookup serves tracks from a map and fails for ids in failing.
type fakeLookup struct {
	tracks  map[string]*hsaj.ExternalTrack
	failing map[string]bool
	calls   []string
}

func (f *fakeLookup) LookupTrack(_ context.Context, trackID string) (*hsaj.ExternalTrack, error) {
	f.calls = append(f.calls, trackID)
	if f.failing[trackID] {
		return nil, errors.New("bridge unavailable")
	}
	track, ok := f.tracks[trackID]
	if !ok {
		return nil, nil
	}
	return track, nil
}

func newService(db hsaj.Database, fs hsaj.Filesystem, lookup hsaj.TrackLookup, clock hsaj.Clock) *hsaj.HsajService {
	return hsaj.NewHsajService(db, fs, lookup, nil, plannerCfg, hsaj.NewNopLogger(), clock, testutil.NewStubIDGenerator())
}

func TestHsajService_SyncBlockedFillsCache(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	lookup := &fakeLookup{
		tracks: map[string]*hsaj.ExternalTrack{
			// TrackID left empty on purpose: the service fills it in.
			"t1": testutil.ExternalTrack("", testutil.TrackMeta{Artist: "A", Title: "First"}, 200000),
		},
		failing: map[string]bool{"t2": true},
	}
	svc := newService(db, testutil.NewMockFilesystem(), lookup, testutil.FixedClock())

	result, err := svc.SyncBlocked(context.Background(), feed("track:t1", "track:t2", "track:t3", "album:a1"), testutil.Days(30))
	if err != nil {
		t.Fatalf("SyncBlocked() error = %v", err)
	}
	if result.CandidatesCreated != 4 {
		t.Errorf("SyncBlocked() = %+v", result)
	}
	if want := []string{"t1", "t2", "t3"}; !reflect.DeepEqual(lookup.calls, want) {
		t.Errorf("lookups = %v, want %v", lookup.calls, want)
	}

	track, err := db.FindExternalTrack("t1")
	if err != nil || track == nil {
		t.Fatalf("FindExternalTrack(t1) = %v, %v", track, err)
	}
	if track.Title.String != "First" || track.DurationMS.Int64 != 200000 {
		t.Errorf("cached track = %+v", track)
	}
	for _, id := range []string{"t2", "t3"} {
		if track, err := db.FindExternalTrack(id); err != nil || track != nil {
			t.Errorf("FindExternalTrack(%s) = %+v, %v, want nothing cached", id, track, err)
		}
	}

	// Cached tracks are not looked up again; the failed one is retried.
	lookup.calls = nil
	cached, err := svc.RefreshTrackCache(context.Background())
	if err != nil {
		t.Fatalf("RefreshTrackCache() error = %v", err)
	}
	if cached != 0 {
		t.Errorf("RefreshTrackCache() = %d, want 0", cached)
	}
	if want := []string{"t2", "t3"}; !reflect.DeepEqual(lookup.calls, want) {
		t.Errorf("lookups = %v, want %v", lookup.calls, want)
	}
}

func TestHsajService_RefreshSkipsRestored(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	syncAt(t, db, testutil.Day0, 0, "track:t1")
	syncAt(t, db, testutil.Day0.Add(testutil.Days(1)), 0)

	lookup := &fakeLookup{}
	cached, err := newService(db, testutil.NewMockFilesystem(), lookup, testutil.FixedClock()).RefreshTrackCache(context.Background())
	if err != nil {
		t.Fatalf("RefreshTrackCache() error = %v", err)
	}
	if cached != 0 || len(lookup.calls) != 0 {
		t.Errorf("RefreshTrackCache() = %d with lookups %v, want none", cached, lookup.calls)
	}
}

func TestHsajService_RefreshWithoutLookup(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	syncAt(t, db, testutil.Day0, 0, "track:t1")

	cached, err := newService(db, testutil.NewMockFilesystem(), nil, testutil.FixedClock()).RefreshTrackCache(context.Background())
	if err != nil || cached != 0 {
		t.Errorf("RefreshTrackCache() = %d, %v", cached, err)
	}
}

func TestHsajService_RefreshCancelled(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	syncAt(t, db, testutil.Day0, 0, "track:t1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newService(db, testutil.NewMockFilesystem(), &fakeLookup{}, testutil.FixedClock()).RefreshTrackCache(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RefreshTrackCache() error = %v, want context.Canceled", err)
	}
}

func TestHsajService_ListCandidatesByStatus(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	syncAt(t, db, testutil.Day0, 0, "track:t1", "track:t2")
	syncAt(t, db, testutil.Day0.Add(testutil.Days(1)), 0, "track:t2")
	svc := newService(db, testutil.NewMockFilesystem(), nil, testutil.FixedClock())

	all, err := svc.ListCandidates(nil)
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListCandidates(nil) = %d, want 2", len(all))
	}

	restored := hsaj.StatusRestored
	only, err := svc.ListCandidates(&restored)
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(only) != 1 || only[0].ObjectID != "t1" {
		t.Errorf("ListCandidates(restored) = %+v", only)
	}
}

// TestHsajService_GracePeriodLifecycle walks one blocked track from first
// observation through quarantine.
func TestHsajService_GracePeriodLifecycle(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	fs := testutil.NewMockFilesystem()
	clock := testutil.FixedClock()
	lookup := &fakeLookup{tracks: map[string]*hsaj.ExternalTrack{
		"t1": testutil.ExternalTrack("t1", testutil.TrackMeta{Artist: "A", Album: "One", Title: "First"}, 201000),
	}}
	svc := newService(db, fs, lookup, clock)

	file := &hsaj.CatalogFile{Path: blockedSource}
	file.Artist.String, file.Artist.Valid = "A", true
	file.Album.String, file.Album.Valid = "One", true
	file.Title.String, file.Title.Valid = "First", true
	file.DurationSeconds.Int64, file.DurationSeconds.Valid = 200, true
	if _, err := svc.AddCatalogFile(file); err != nil {
		t.Fatalf("AddCatalogFile() error = %v", err)
	}
	fs.AddFile(blockedSource, []byte("flac"))

	// Day 0
	if _, err := svc.SyncBlocked(context.Background(), feed("track:t1"), testutil.Days(30)); err != nil {
		t.Fatalf("SyncBlocked() error = %v", err)
	}
	c := findCandidate(t, db, "track", "t1")
	if !c.PlannedActionAt.Time.Equal(testutil.Day0.Add(testutil.Days(30))) {
		t.Fatalf("PlannedActionAt = %v, want day 30", c.PlannedActionAt.Time)
	}

	// Day 10
	clock.Set(testutil.Day0.Add(testutil.Days(10)))
	plan, err := svc.BuildPlan()
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	if got := moveKeys(plan.QuarantineFuture); !reflect.DeepEqual(got, []string{"track:t1"}) || len(plan.QuarantineDue) != 0 {
		t.Fatalf("day 10 plan: due %v future %v", moveKeys(plan.QuarantineDue), got)
	}
	_, result, err := svc.Apply(false)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Moves() != 0 || fs.MoveCount() != 0 {
		t.Fatalf("day 10 Apply() moved files: %+v", result)
	}

	// Day 31
	clock.Set(testutil.Day0.Add(testutil.Days(31)))
	plan, result, err = svc.Apply(false)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := moveKeys(plan.QuarantineDue); !reflect.DeepEqual(got, []string{"track:t1"}) {
		t.Fatalf("day 31 plan due = %v", got)
	}
	const dest = "/q/2024-02-01/A/One/01.flac"
	if len(result.Quarantined) != 1 || result.Quarantined[0].Destination != dest {
		t.Fatalf("day 31 Apply() = %+v", result)
	}
	if !fs.HasFile(dest) {
		t.Errorf("files = %v, want %s", fs.Paths(), dest)
	}
	if c := findCandidate(t, db, "track", "t1"); c.Status != hsaj.StatusQuarantined {
		t.Errorf("candidate status = %v, want quarantined", c.Status)
	}
}
