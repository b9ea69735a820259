// Package testutil provides deterministic clocks and id sequences for
// engine tests.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// Clock provides a thread-safe deterministic wall clock for tests.
//
// Every call to Now advances the clock by one step, so consecutive
// writes get distinct, ordered timestamps without real sleeping.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock creates a clock starting at a fixed instant, advancing one
// second per Now call.
func NewClock() *Clock {
	return NewClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
}

// NewClockAt creates a clock starting at the given instant.
func NewClockAt(start time.Time) *Clock {
	return &Clock{now: start, step: time.Second}
}

// Now returns the current instant and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Current returns the current instant without advancing.
func (c *Clock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// IDSequence produces deterministic record ids for tests.
//
// Real ids are UUIDv7 strings; tests only need uniqueness and a stable
// order, so the sequence yields "id-0001", "id-0002", ...
type IDSequence struct {
	mu  sync.Mutex
	seq int
}

// NewIDSequence creates an id sequence starting at 1.
func NewIDSequence() *IDSequence {
	return &IDSequence{}
}

// Next returns the next id in the sequence.
func (s *IDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("id-%04d", s.seq)
}
