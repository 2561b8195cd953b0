package hsaj_test

import (
	"strings"
	"testing"
	"time"

	"hsaj-go/internal/hsaj"
)

// feed builds feed entries from "type:id" keys.
func feed(keys ...string) []hsaj.FeedEntry {
	entries := make([]hsaj.FeedEntry, 0, len(keys))
	for _, k := range keys {
		typ, id, _ := strings.Cut(k, ":")
		entries = append(entries, hsaj.FeedEntry{Type: typ, ID: id})
	}
	return entries
}

// syncAt runs one block sync pass against db.
func syncAt(t *testing.T, db hsaj.Database, at time.Time, grace time.Duration, keys ...string) *hsaj.SyncResult {
	t.Helper()
	result, err := hsaj.NewBlockSyncer(db, hsaj.NewNopLogger()).Sync(feed(keys...), grace, at)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	return result
}

func lowCauses(plan *hsaj.Plan) map[string]hsaj.LowConfidenceCause {
	causes := make(map[string]hsaj.LowConfidenceCause, len(plan.LowConfidence))
	for _, item := range plan.LowConfidence {
		causes[item.ObjectType+":"+item.ObjectID] = item.Cause
	}
	return causes
}

func moveKeys(moves []hsaj.QuarantineMove) []string {
	keys := make([]string, 0, len(moves))
	for _, m := range moves {
		keys = append(keys, m.ObjectType+":"+m.ObjectID)
	}
	return keys
}
