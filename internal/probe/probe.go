// Package probe detects immersive (Dolby Atmos) audio by inspecting files with ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"hsaj-go/internal/hsaj"
)

// DefaultTimeout bounds a single ffprobe invocation.
const DefaultTimeout = 30 * time.Second

// Result is the subset of ffprobe JSON output the detector reads.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes one stream in the container.
type Stream struct {
	Index     int               `json:"index"`
	CodecName string            `json:"codec_name"`
	CodecType string            `json:"codec_type"`
	Profile   string            `json:"profile"`
	Channels  int               `json:"channels"`
	Tags      map[string]string `json:"tags"`
}

// Format captures container-level metadata.
type Format struct {
	FormatName string            `json:"format_name"`
	Tags       map[string]string `json:"tags"`
}

// Parse decodes ffprobe JSON output.
func Parse(data []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return r, nil
}

// Immersive reports whether any stream profile, stream tag or format tag
// mentions Atmos, case-insensitively.
func (r Result) Immersive() bool {
	for _, s := range r.Streams {
		if mentionsAtmos(s.Profile) || tagsMentionAtmos(s.Tags) {
			return true
		}
	}
	return tagsMentionAtmos(r.Format.Tags)
}

func tagsMentionAtmos(tags map[string]string) bool {
	for _, v := range tags {
		if mentionsAtmos(v) {
			return true
		}
	}
	return false
}

func mentionsAtmos(s string) bool {
	return strings.Contains(strings.ToLower(s), "atmos")
}

// Prober runs ffprobe.
type Prober struct {
	binary  string
	timeout time.Duration
}

// NewProber creates a Prober. An empty binary means "ffprobe" from PATH; a
// non-positive timeout means DefaultTimeout.
func NewProber(binary string, timeout time.Duration) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{binary: binary, timeout: timeout}
}

// Inspect executes ffprobe against path and decodes its JSON response.
func (p *Prober) Inspect(ctx context.Context, path string) (Result, error) {
	if strings.TrimSpace(path) == "" {
		return Result{}, errors.New("ffprobe: empty path")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return Parse(output)
}

// Probe adapts Inspect to the planner's predicate. Failures become typed
// results rather than errors.
func (p *Prober) Probe(path string) hsaj.ProbeResult {
	r, err := p.Inspect(context.Background(), path)
	if err != nil {
		return hsaj.ProbeFailed(err)
	}
	return hsaj.ProbeOK(r.Immersive())
}
