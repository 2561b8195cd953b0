// Package bridge talks to the HTTP bridge that exposes the external player's
// blocked objects and track metadata.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hsaj-go/internal/hsaj"
)

const (
	DefaultBaseURL           = "http://localhost:8080"
	DefaultTimeout           = 5 * time.Second
	DefaultRequestsPerSecond = 5
)

// ErrBlockedNotSupported is returned when the bridge answers /blocked with 501.
var ErrBlockedNotSupported = errors.New("bridge does not support /blocked")

// StatusError reports an unexpected HTTP status from the bridge.
type StatusError struct {
	Endpoint string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge returned status %d for %s", e.Status, e.Endpoint)
}

// Config describes the bridge client configuration.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64 // <= 0 disables limiting
	HTTPClient        *http.Client
}

// Client is a rate-limited bridge client.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing bridge url %q: %w", base, err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("bridge url %q must be http or https", base)
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		baseURL: baseURL,
		http:    client,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// FetchBlocked returns the current snapshot of blocked objects.
func (c *Client) FetchBlocked(ctx context.Context) ([]hsaj.FeedEntry, error) {
	body, status, err := c.get(ctx, c.baseURL.JoinPath("blocked"))
	if err != nil {
		return nil, fmt.Errorf("fetching blocked objects: %w", err)
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotImplemented:
		return nil, ErrBlockedNotSupported
	default:
		return nil, &StatusError{Endpoint: "/blocked", Status: status}
	}

	var payload []blockedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding /blocked response: %w", err)
	}
	entries := make([]hsaj.FeedEntry, 0, len(payload))
	for _, p := range payload {
		entries = append(entries, hsaj.FeedEntry{Type: p.Type, ID: string(p.ID), Label: p.Label})
	}
	return entries, nil
}

// trackPayload is the bridge's track representation. Older bridges send
// "trackno" instead of "track_number".
type trackPayload struct {
	TrackID     string   `json:"roon_track_id"`
	Artist      *string  `json:"artist"`
	Album       *string  `json:"album"`
	Title       *string  `json:"title"`
	TrackNumber *float64 `json:"track_number"`
	TrackNo     *float64 `json:"trackno"`
	DurationMS  *float64 `json:"duration_ms"`
}

// LookupTrack fetches track metadata. An unknown track yields (nil, nil).
func (c *Client) LookupTrack(ctx context.Context, trackID string) (*hsaj.ExternalTrack, error) {
	body, status, err := c.get(ctx, c.baseURL.JoinPath("track", trackID))
	if err != nil {
		return nil, fmt.Errorf("fetching track %s: %w", trackID, err)
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, &StatusError{Endpoint: "/track/" + trackID, Status: status}
	}

	var p trackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding track %s: %w", trackID, err)
	}

	track := &hsaj.ExternalTrack{
		TrackID:    p.TrackID,
		Artist:     nullString(p.Artist),
		Album:      nullString(p.Album),
		Title:      nullString(p.Title),
		DurationMS: nullInt(p.DurationMS),
	}
	if track.TrackID == "" {
		track.TrackID = trackID
	}
	if p.TrackNumber != nil {
		track.TrackNumber = nullInt(p.TrackNumber)
	} else {
		track.TrackNumber = nullInt(p.TrackNo)
	}
	return track, nil
}

func (c *Client) get(ctx context.Context, u *url.URL) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

var _ hsaj.TrackLookup = (*Client)(nil)
