// Package simclock provides the single time source for the simulation.
//
// All scheduler logic reads time through one Clock pinned to a configured
// civil timezone. Components must never compare against independently
// obtained wall-clock values; mixing sources breaks eligibility windows
// around daylight-saving shifts.
package simclock

import (
	"fmt"
	"strings"
	"time"
)

// Clock yields the current instant in one fixed civil timezone.
type Clock struct {
	location *time.Location
	now      func() time.Time
}

// New loads the named timezone and returns a Clock pinned to it.
func New(timezone string) (*Clock, error) {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		return nil, fmt.Errorf("timezone is required")
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Clock{location: location, now: time.Now}, nil
}

// NewWithSource returns a Clock with an injected time source. Tests use it
// to pin the instant while keeping timezone conversion behavior.
func NewWithSource(timezone string, now func() time.Time) (*Clock, error) {
	clock, err := New(timezone)
	if err != nil {
		return nil, err
	}
	if now != nil {
		clock.now = now
	}
	return clock, nil
}

// Now returns the current instant converted into the configured timezone.
func (c *Clock) Now() time.Time {
	if c == nil || c.location == nil {
		return time.Now().UTC()
	}
	source := c.now
	if source == nil {
		source = time.Now
	}
	return source().In(c.location)
}

// Location exposes the configured timezone for calendar-day comparisons.
func (c *Clock) Location() *time.Location {
	if c == nil || c.location == nil {
		return time.UTC
	}
	return c.location
}

// SameCivilDay reports whether two instants fall on the same calendar day
// in the clock's timezone.
func (c *Clock) SameCivilDay(a, b time.Time) bool {
	loc := c.Location()
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
