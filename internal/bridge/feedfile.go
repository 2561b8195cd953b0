package bridge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hsaj-go/internal/hsaj"
)

// ReadFeedFile loads a blocked-objects snapshot from a YAML or JSON file
// containing a list of {type, id, label} entries.
func ReadFeedFile(path string) ([]hsaj.FeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feed file: %w", err)
	}

	var entries []hsaj.FeedEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing feed file %s: %w", path, err)
	}
	return entries, nil
}
