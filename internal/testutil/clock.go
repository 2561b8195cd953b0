package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock is a settable clock. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC()}
}

// Day0 is the reference instant used by lifecycle tests: 2024-01-01 09:00 UTC.
var Day0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// FixedClock returns a StubClock set to Day0.
func FixedClock() *StubClock {
	return NewStubClock(Day0)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Days returns n whole days as a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// StubIDGenerator returns sequential run ids: "run-1", "run-2", ...
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("run-%d", g.counter)
}
