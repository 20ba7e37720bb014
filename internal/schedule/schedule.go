// Package schedule handles "HH:MM" clock values and daily on/off intervals,
// including intervals that wrap past midnight.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinutesPerDay is the length of the daily cycle intervals are placed on.
const MinutesPerDay = 24 * 60

var (
	// ErrInvalidClock is returned for values that are not a 24-hour HH:MM time.
	ErrInvalidClock = errors.New("invalid clock value")
	// ErrZeroLength is returned for an interval whose on and off times are equal.
	ErrZeroLength = errors.New("zero-length interval")
)

// ParseClock parses a 24-hour "HH:MM" value into minutes since midnight.
// A single-digit hour ("7:30") is accepted.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidClock)
	}
	h, okH := digits(hh)
	m, okM := digits(mm)
	if !okH || !okM || h > 23 || m > 59 {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidClock)
	}
	return h*60 + m, nil
}

// digits parses s as an unsigned decimal. Signs and spaces are rejected.
func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	minutes = ((minutes % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ValidClock reports whether s parses as a clock value.
func ValidClock(s string) bool {
	_, err := ParseClock(s)
	return err == nil
}

// Normalize returns s in canonical zero-padded form, or s unchanged if it
// does not parse.
func Normalize(s string) string {
	m, err := ParseClock(s)
	if err != nil {
		return s
	}
	return FormatClock(m)
}

// Interval is a daily window. When Off is earlier than On the window wraps
// past midnight.
type Interval struct {
	On  string `json:"on"`
	Off string `json:"off"`
}

func (iv Interval) String() string {
	return iv.On + "-" + iv.Off
}

type span struct {
	start, end int // [start, end) in minutes
}

// spans splits the interval into one or two non-wrapping half-open ranges.
func (iv Interval) spans() ([]span, error) {
	on, err := ParseClock(iv.On)
	if err != nil {
		return nil, err
	}
	off, err := ParseClock(iv.Off)
	if err != nil {
		return nil, err
	}
	switch {
	case on == off:
		return nil, fmt.Errorf("%s: %w", iv, ErrZeroLength)
	case off < on:
		return []span{{on, MinutesPerDay}, {0, off}}, nil
	default:
		return []span{{on, off}}, nil
	}
}

// Validate checks that both ends parse and the interval is not empty.
func (iv Interval) Validate() error {
	_, err := iv.spans()
	return err
}

// Contains reports whether the minute-of-day m falls inside the interval.
func (iv Interval) Contains(m int) bool {
	spans, err := iv.spans()
	if err != nil {
		return false
	}
	for _, s := range spans {
		if m >= s.start && m < s.end {
			return true
		}
	}
	return false
}

// Active reports whether t's wall-clock time falls inside the interval.
func (iv Interval) Active(t time.Time) bool {
	return iv.Contains(t.Hour()*60 + t.Minute())
}

// Overlaps reports whether a and b share at least one minute. Intervals that
// only touch at an endpoint do not overlap.
func Overlaps(a, b Interval) (bool, error) {
	as, err := a.spans()
	if err != nil {
		return false, err
	}
	bs, err := b.spans()
	if err != nil {
		return false, err
	}
	for _, x := range as {
		for _, y := range bs {
			if max(x.start, y.start) < min(x.end, y.end) {
				return true, nil
			}
		}
	}
	return false, nil
}

// FirstOverlap returns the indices of the first pair of intervals in list
// that overlap. ok is false when the list is pairwise disjoint.
func FirstOverlap(list []Interval) (i, j int, ok bool, err error) {
	for i = 0; i < len(list); i++ {
		for j = i + 1; j < len(list); j++ {
			hit, err := Overlaps(list[i], list[j])
			if err != nil {
				return 0, 0, false, err
			}
			if hit {
				return i, j, true, nil
			}
		}
	}
	return 0, 0, false, nil
}
