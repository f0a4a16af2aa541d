// Package window evaluates recurring daily time windows.
//
// A window is a pair of HH:MM bounds. When start is before end the window is
// [start, end) on the same day; when start is after end it wraps past
// midnight as [start, 24:00) ∪ [00:00, end). A set with no valid windows is
// always open.
package window

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidWindow is wrapped by every window parse failure.
var ErrInvalidWindow = errors.New("invalid time window")

// TimeOfDay is a wall-clock time at minute granularity.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (seconds in "HH:MM:SS" are dropped).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the absolute time of t on the calendar day of ref.
func (t TimeOfDay) On(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, 0, 0, ref.Location())
}

// Window is an unparsed window as it appears in configuration.
type Window struct {
	Start string
	End   string
}

// ParseWindowString splits the "HH:MM-HH:MM" form.
func ParseWindowString(s string) (Window, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Window{}, fmt.Errorf("%w: %q (want HH:MM-HH:MM)", ErrInvalidWindow, s)
	}
	return Window{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)}, nil
}

// FromStrings converts "HH:MM-HH:MM" entries, skipping ones without a separator.
func FromStrings(entries []string) ([]Window, []error) {
	var (
		windows []Window
		errs    []error
	)
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		w, err := ParseWindowString(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		windows = append(windows, w)
	}
	return windows, errs
}

func (w Window) String() string {
	return w.Start + "-" + w.End
}

// MarshalJSON writes the ["start","end"] pair form.
func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{w.Start, w.End})
}

// UnmarshalJSON accepts either ["start","end"] or "start-end".
func (w *Window) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("%w: expected 2 bounds, got %d", ErrInvalidWindow, len(pair))
		}
		*w = Window{Start: pair[0], End: pair[1]}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, string(data))
	}
	parsed, err := ParseWindowString(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

type span struct {
	start TimeOfDay
	end   TimeOfDay
}

func (s span) contains(minute int) bool {
	start, end := s.start.minutes(), s.end.minutes()
	if start < end {
		return start <= minute && minute < end
	}
	// wraps past midnight
	return minute >= start || minute < end
}

// Set is a parsed collection of windows.
type Set struct {
	spans []span
}

// AlwaysOpen returns a set that admits every instant.
func AlwaysOpen() Set {
	return Set{}
}

// IsAlwaysOpen reports whether the set has no valid windows.
func (s Set) IsAlwaysOpen() bool {
	return len(s.spans) == 0
}

// Len returns the number of valid windows.
func (s Set) Len() int {
	return len(s.spans)
}

// Parse validates windows. Malformed entries are skipped and reported; if none
// survive the set is always open.
func Parse(windows []Window) (Set, []error) {
	var (
		set  Set
		errs []error
	)
	for _, w := range windows {
		start, err := ParseTimeOfDay(w.Start)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w %s: %v", ErrInvalidWindow, w, err))
			continue
		}
		end, err := ParseTimeOfDay(w.End)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w %s: %v", ErrInvalidWindow, w, err))
			continue
		}
		if start == end {
			errs = append(errs, fmt.Errorf("%w %s: start equals end", ErrInvalidWindow, w))
			continue
		}
		set.spans = append(set.spans, span{start: start, end: end})
	}
	return set, errs
}

// Contains reports whether now's time of day falls inside any window.
func (s Set) Contains(now time.Time) bool {
	if s.IsAlwaysOpen() {
		return true
	}
	minute := now.Hour()*60 + now.Minute()
	for _, sp := range s.spans {
		if sp.contains(minute) {
			return true
		}
	}
	return false
}

// NextStart returns the earliest window start strictly after now. Without
// valid windows it returns the next midnight.
func (s Set) NextStart(now time.Time) time.Time {
	if s.IsAlwaysOpen() {
		return NextMidnight(now)
	}
	var next time.Time
	for _, sp := range s.spans {
		candidate := NextOccurrence(now, sp.start)
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}

// Today returns tod on now's calendar day.
func Today(now time.Time, tod TimeOfDay) time.Time {
	return tod.On(now)
}

// NextOccurrence returns the first instant equal to tod strictly after now.
func NextOccurrence(now time.Time, tod TimeOfDay) time.Time {
	today := tod.On(now)
	if today.After(now) {
		return today
	}
	return tod.On(now.AddDate(0, 0, 1))
}

// NextMidnight returns 00:00 of the calendar day after now.
func NextMidnight(now time.Time) time.Time {
	return TimeOfDay{}.On(now.AddDate(0, 0, 1))
}
