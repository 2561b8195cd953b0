package hsaj_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"hsaj-go/internal/hsaj"
	"hsaj-go/internal/testutil"
)

var plannerCfg = hsaj.PlannerConfig{
	QuarantineRoot:    "/q",
	ArchiveRoot:       "/atmos",
	LibraryRoots:      []string{"/music"},
	DurationTolerance: 2,
}

func newPlanner(db hsaj.Store, probe hsaj.ImmersiveProbe) *hsaj.Planner {
	return hsaj.NewPlanner(db, plannerCfg, probe, hsaj.NewNopLogger())
}

func TestPlanner_Buckets(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	grace := testutil.Days(30)

	testutil.AddCatalogFile(t, db, "/music/A/One/01.flac", testutil.TrackMeta{Artist: "A", Album: "One", Title: "First", Duration: 200})
	testutil.AddCatalogFile(t, db, "/music/A/One/02.flac", testutil.TrackMeta{Artist: "A", Album: "One", Title: "Second", Duration: 210})
	testutil.AddCatalogFile(t, db, "/music/B/Two/01.flac", testutil.TrackMeta{Artist: "B", Album: "Two", Title: "Dup", Duration: 150})
	testutil.AddCatalogFile(t, db, "/music/B/Two/01 copy.flac", testutil.TrackMeta{Artist: "B", Album: "Two", Title: "Dup", Duration: 150})

	testutil.CacheTrack(t, db, "due", testutil.TrackMeta{Artist: "A", Title: "First"}, 200000)
	testutil.CacheTrack(t, db, "later", testutil.TrackMeta{Artist: "a", Title: "second"}, 0)
	testutil.CacheTrack(t, db, "dup", testutil.TrackMeta{Title: "Dup"}, 150000)
	testutil.CacheTrack(t, db, "gone", testutil.TrackMeta{Title: "Missing"}, 0)

	syncAt(t, db, testutil.Day0, grace, "track:due", "album:al1", "track:uncached", "track:dup", "track:gone")
	syncAt(t, db, testutil.Day0.Add(testutil.Days(10)), grace,
		"track:due", "album:al1", "track:uncached", "track:dup", "track:gone", "track:later")

	now := testutil.Day0.Add(testutil.Days(31))
	plan, err := newPlanner(db, nil).Build(now)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := moveKeys(plan.QuarantineDue); !reflect.DeepEqual(got, []string{"track:due"}) {
		t.Errorf("QuarantineDue = %v", got)
	}
	if got := moveKeys(plan.QuarantineFuture); !reflect.DeepEqual(got, []string{"track:later"}) {
		t.Errorf("QuarantineFuture = %v", got)
	}
	if len(plan.Relocations) != 0 {
		t.Errorf("Relocations = %v, want none without a probe", plan.Relocations)
	}

	wantLow := map[string]hsaj.LowConfidenceCause{
		"album:al1":      hsaj.CauseNotATrack,
		"track:uncached": hsaj.CauseNoCachedTrack,
		"track:dup":      hsaj.CauseAmbiguous,
		"track:gone":     hsaj.CauseNoMatch,
	}
	if got := lowCauses(plan); !reflect.DeepEqual(got, wantLow) {
		t.Errorf("LowConfidence causes = %v, want %v", got, wantLow)
	}

	due := plan.QuarantineDue[0]
	if due.Destination != "/q/2024-02-01/A/One/01.flac" {
		t.Errorf("due destination = %s", due.Destination)
	}
	if due.Reason != "blocked_by_track" || due.PlannedActionAt == nil {
		t.Errorf("due move = %+v", due)
	}
	for _, item := range plan.LowConfidence {
		if item.ObjectID == "dup" && len(item.MatchedFileIDs) != 2 {
			t.Errorf("ambiguous item matched %v, want 2 files", item.MatchedFileIDs)
		}
	}
}

func TestPlanner_DeterministicAndPure(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	testutil.AddCatalogFile(t, db, "/music/A/One/01.flac", testutil.TrackMeta{Artist: "A", Title: "First", Duration: 200})
	testutil.CacheTrack(t, db, "t1", testutil.TrackMeta{Artist: "A", Title: "First"}, 200000)
	syncAt(t, db, testutil.Day0, 0, "track:t1", "artist:x", "track:t2")

	planner := newPlanner(db, func(string) hsaj.ProbeResult { return hsaj.ProbeOK(false) })
	now := testutil.Day0.Add(testutil.Days(1))

	first, err := planner.Build(now)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, err := planner.Build(now)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	a, err := first.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	b, err := second.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("plans differ:\n%s\n%s", a, b)
	}

	// Building never changes state.
	c, err := db.FindCandidate(hsaj.BlockKey{Type: "track", ID: "t1"})
	if err != nil {
		t.Fatalf("FindCandidate() error = %v", err)
	}
	if c.Status != hsaj.StatusPlanned {
		t.Errorf("Status = %v after Build, want planned", c.Status)
	}
	actions, err := db.ListActions(0)
	if err != nil {
		t.Fatalf("ListActions() error = %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("Build wrote %d action log entries", len(actions))
	}
}

func TestPlanner_SecondClaimOnFileIsLowConfidence(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	f := testutil.AddCatalogFile(t, db, "/music/A/One/01.flac", testutil.TrackMeta{Artist: "A", Title: "First", Duration: 200})
	testutil.CacheTrack(t, db, "t1", testutil.TrackMeta{Artist: "A", Title: "First"}, 0)
	testutil.CacheTrack(t, db, "t2", testutil.TrackMeta{Title: "First"}, 200000)
	syncAt(t, db, testutil.Day0, 0, "track:t1", "track:t2")

	plan, err := newPlanner(db, nil).Build(testutil.Day0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := moveKeys(plan.QuarantineDue); !reflect.DeepEqual(got, []string{"track:t1"}) {
		t.Errorf("QuarantineDue = %v, want only the first claim", got)
	}
	if len(plan.LowConfidence) != 1 {
		t.Fatalf("LowConfidence = %+v", plan.LowConfidence)
	}
	item := plan.LowConfidence[0]
	if item.Cause != hsaj.CauseFileClaimed || !reflect.DeepEqual(item.MatchedFileIDs, []int64{f.ID}) {
		t.Errorf("LowConfidence[0] = %+v", item)
	}
}

func TestPlanner_ArchiveImmune(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	testutil.AddCatalogFile(t, db, "/atmos/A/One/01.flac", testutil.TrackMeta{Artist: "A", Title: "First"})
	testutil.CacheTrack(t, db, "t1", testutil.TrackMeta{Artist: "A", Title: "First"}, 0)
	syncAt(t, db, testutil.Day0, 0, "track:t1")

	plan, err := newPlanner(db, nil).Build(testutil.Day0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(plan.QuarantineDue) != 0 {
		t.Errorf("QuarantineDue = %v, archive files are never quarantined", plan.QuarantineDue)
	}
	if len(plan.LowConfidence) != 1 || plan.LowConfidence[0].Cause != hsaj.CauseArchiveImmune {
		t.Fatalf("LowConfidence = %+v", plan.LowConfidence)
	}
	if !strings.HasSuffix(plan.LowConfidence[0].Reason, ":archive_immune") {
		t.Errorf("Reason = %q", plan.LowConfidence[0].Reason)
	}
}

func TestPlanner_Relocations(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	blocked := testutil.AddCatalogFile(t, db, "/music/A/One/01.flac", testutil.TrackMeta{Artist: "A", Album: "One", Title: "Blocked"})
	atmos := testutil.AddCatalogFile(t, db, "/music/A/One/02.flac", testutil.TrackMeta{Artist: "A/C", Album: "One?", Title: "Atmos"})
	stereo := testutil.AddCatalogFile(t, db, "/music/A/One/03.flac", testutil.TrackMeta{Title: "Stereo"})
	broken := testutil.AddCatalogFile(t, db, "/music/A/One/04.flac", testutil.TrackMeta{Title: "Broken"})
	testutil.AddCatalogFile(t, db, "/atmos/X/Y/05.flac", testutil.TrackMeta{Title: "Archived"})
	untagged := testutil.AddCatalogFile(t, db, "/music/loose.flac", testutil.TrackMeta{})

	testutil.CacheTrack(t, db, "t1", testutil.TrackMeta{Title: "Blocked"}, 0)
	syncAt(t, db, testutil.Day0, 0, "track:t1")

	probed := map[string]bool{}
	probe := func(path string) hsaj.ProbeResult {
		probed[path] = true
		switch path {
		case broken.Path:
			return hsaj.ProbeFailed(errors.New("ffprobe exited 1"))
		case stereo.Path:
			return hsaj.ProbeOK(false)
		default:
			return hsaj.ProbeOK(true)
		}
	}

	plan, err := newPlanner(db, probe).Build(testutil.Day0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []hsaj.RelocationMove{
		{FileID: atmos.ID, Source: atmos.Path, Destination: "/atmos/A_C/One_/02.flac", Artist: "A/C", Album: "One?"},
		{FileID: untagged.ID, Source: untagged.Path, Destination: "/atmos/Unknown Artist/Unknown Album/loose.flac"},
	}
	if !reflect.DeepEqual(plan.Relocations, want) {
		t.Errorf("Relocations = %+v, want %+v", plan.Relocations, want)
	}

	if probed[blocked.Path] {
		t.Error("file claimed by a quarantine was probed for relocation")
	}
	if probed["/atmos/X/Y/05.flac"] {
		t.Error("file inside the archive was probed")
	}
	if len(plan.ProbeFailures) != 1 || plan.ProbeFailures[0].FileID != broken.ID {
		t.Errorf("ProbeFailures = %+v", plan.ProbeFailures)
	}
	if got := moveKeys(plan.QuarantineDue); !reflect.DeepEqual(got, []string{"track:t1"}) {
		t.Errorf("QuarantineDue = %+v", plan.QuarantineDue)
	}
}

func TestPlanner_QuarantineRootMissing(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	cfg := plannerCfg
	cfg.QuarantineRoot = " "

	_, err := hsaj.NewPlanner(db, cfg, nil, hsaj.NewNopLogger()).Build(testutil.Day0)
	if !errors.Is(err, hsaj.ErrQuarantineRootMissing) {
		t.Errorf("Build() error = %v, want ErrQuarantineRootMissing", err)
	}
}

func TestPlanner_QuarantineDestination(t *testing.T) {
	cfg := plannerCfg
	cfg.LibraryRoots = []string{"/music/flac", "/music"}
	p := hsaj.NewPlanner(nil, cfg, nil, hsaj.NewNopLogger())

	tests := []struct {
		source string
		want   string
	}{
		{"/music/flac/A/B/01.flac", "/q/2024-01-01/A/B/01.flac"},
		{"/music/mp3/A/01.mp3", "/q/2024-01-01/mp3/A/01.mp3"},
		{"/elsewhere/x.flac", "/q/2024-01-01/x.flac"},
		{"/musicals/x.flac", "/q/2024-01-01/x.flac"},
	}
	for _, tt := range tests {
		if got := p.QuarantineDestination(tt.source, testutil.Day0); got != filepath.FromSlash(tt.want) {
			t.Errorf("QuarantineDestination(%s) = %s, want %s", tt.source, got, tt.want)
		}
	}
}

func TestSanitizePathComponent(t *testing.T) {
	tests := []struct {
		in, def, want string
	}{
		{"AC/DC", "x", "AC_DC"},
		{`a<b>c:d"e\f|g?h*i`, "x", "a_b_c_d_e_f_g_h_i"},
		{"   ", "Unknown Artist", "Unknown Artist"},
		{" Björk ", "x", "Björk"},
	}
	for _, tt := range tests {
		if got := hsaj.SanitizePathComponent(tt.in, tt.def); got != tt.want {
			t.Errorf("SanitizePathComponent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlanner_RelocationsOnlyFromLibrary(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	library := testutil.AddCatalogFile(t, db, "/music/A/One/01.flac", testutil.TrackMeta{Artist: "A", Album: "One"})
	testutil.AddCatalogFile(t, db, "/q/2024-01-02/A/One/02.flac", testutil.TrackMeta{Artist: "A", Album: "One"})
	testutil.AddCatalogFile(t, db, "/elsewhere/03.flac", testutil.TrackMeta{Artist: "A", Album: "One"})

	var probed []string
	probe := func(path string) hsaj.ProbeResult {
		probed = append(probed, path)
		return hsaj.ProbeOK(true)
	}

	plan, err := newPlanner(db, probe).Build(testutil.Day0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(plan.Relocations) != 1 || plan.Relocations[0].FileID != library.ID {
		t.Errorf("Relocations = %+v, want only the library file", plan.Relocations)
	}
	if !reflect.DeepEqual(probed, []string{library.Path}) {
		t.Errorf("probed = %v, want only %s", probed, library.Path)
	}
}

func TestPlanner_MatchInsideQuarantineIsLowConfidence(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	f := testutil.AddCatalogFile(t, db, "/q/2024-01-02/A/One/01.flac", testutil.TrackMeta{Artist: "A", Title: "First"})
	testutil.CacheTrack(t, db, "t1", testutil.TrackMeta{Artist: "A", Title: "First"}, 0)
	syncAt(t, db, testutil.Day0, 0, "track:t1")

	plan, err := newPlanner(db, nil).Build(testutil.Day0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(plan.QuarantineDue) != 0 || len(plan.QuarantineFuture) != 0 {
		t.Errorf("quarantine buckets = %v / %v, want empty", plan.QuarantineDue, plan.QuarantineFuture)
	}
	if len(plan.LowConfidence) != 1 {
		t.Fatalf("LowConfidence = %+v", plan.LowConfidence)
	}
	item := plan.LowConfidence[0]
	if item.Cause != hsaj.CauseAlreadyQuarantined || !reflect.DeepEqual(item.MatchedFileIDs, []int64{f.ID}) {
		t.Errorf("LowConfidence[0] = %+v", item)
	}
	if !strings.HasSuffix(item.Reason, ":already_quarantined") {
		t.Errorf("Reason = %q", item.Reason)
	}
}
