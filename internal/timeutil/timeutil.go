// Package timeutil holds the wall-clock arithmetic used by the dose engine:
// HH:MM parsing, quiet-hour containment and calendar-day keys.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-day key format used for persisted dates.
const DateLayout = "2006-01-02"

// ParseClock splits an "HH:MM" 24-hour string into hour and minute.
func ParseClock(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// ValidClock reports whether s is a well-formed HH:MM string.
func ValidClock(s string) bool {
	_, _, err := ParseClock(s)
	return err == nil
}

// TimeToMinutes converts "HH:MM" to minutes since midnight. Malformed input
// yields -1.
func TimeToMinutes(s string) int {
	h, m, err := ParseClock(s)
	if err != nil {
		return -1
	}
	return h*60 + m
}

// IsTimeInRange reports whether t lies in [start, end], inclusive on both
// ends. A range whose start is after its end wraps midnight.
func IsTimeInRange(t, start, end string) bool {
	tm := TimeToMinutes(t)
	sm := TimeToMinutes(start)
	em := TimeToMinutes(end)
	if tm < 0 || sm < 0 || em < 0 {
		return false
	}
	if sm > em {
		return tm >= sm || tm <= em
	}
	return tm >= sm && tm <= em
}

// FormatClock renders the HH:MM of t.
func FormatClock(t time.Time) string {
	return t.Format("15:04")
}

// StartOfDay truncates t to local midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DateKey renders the calendar day of t.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDateKey parses a key produced by DateKey in loc.
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, key, loc)
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// On combines the calendar day of day with the HH:MM clock.
func On(day time.Time, clock string) (time.Time, error) {
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}

// NextOccurrence returns today's instant for clock, or tomorrow's when
// today's has already passed (or is exactly now).
func NextOccurrence(now time.Time, clock string) (time.Time, error) {
	at, err := On(now, clock)
	if err != nil {
		return time.Time{}, err
	}
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}
