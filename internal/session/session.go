// Package session answers trading-hours questions for tick timestamps.
package session

import (
	"fmt"
	"time"
)

// Hours describes one trading day: analysis starts at PremarketEnd, new orders are accepted
// until OrdersCutoff, and anything still open at the cutoff is liquidated.
// Both offsets are measured from midnight in Location.
type Hours struct {
	PremarketEnd time.Duration
	OrdersCutoff time.Duration
	Location     *time.Location
}

// Default returns 07:00–15:00 UTC.
func Default() Hours {
	return Hours{PremarketEnd: 7 * time.Hour, OrdersCutoff: 15 * time.Hour, Location: time.UTC}
}

// New parses "HH:MM" clocks in the named location ("" means UTC).
func New(premarketEnd, ordersCutoff, location string) (Hours, error) {
	loc := time.UTC
	if location != "" {
		l, err := time.LoadLocation(location)
		if err != nil {
			return Hours{}, fmt.Errorf("load location: %w", err)
		}
		loc = l
	}
	pre, err := ParseClock(premarketEnd)
	if err != nil {
		return Hours{}, fmt.Errorf("premarket end: %w", err)
	}
	cut, err := ParseClock(ordersCutoff)
	if err != nil {
		return Hours{}, fmt.Errorf("orders cutoff: %w", err)
	}
	if cut <= pre {
		return Hours{}, fmt.Errorf("orders cutoff %s must be after premarket end %s", ordersCutoff, premarketEnd)
	}
	return Hours{PremarketEnd: pre, OrdersCutoff: cut, Location: loc}, nil
}

// ParseClock converts "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (h Hours) sinceMidnight(t time.Time) time.Duration {
	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return local.Sub(midnight)
}

// Premarket reports whether t falls before the analysis window opens.
func (h Hours) Premarket(t time.Time) bool {
	return h.sinceMidnight(t) < h.PremarketEnd
}

// OrdersOpen reports whether new orders may be opened at t.
func (h Hours) OrdersOpen(t time.Time) bool {
	return h.sinceMidnight(t) < h.OrdersCutoff
}

// Cutoff returns the liquidation instant on t's trading day.
func (h Hours) Cutoff(t time.Time) time.Time {
	return t.Add(h.OrdersCutoff - h.sinceMidnight(t))
}
