package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// DefaultSendTime is 09:00.
var DefaultSendTime = Clock{Hour: 9}

var (
	clockPattern    = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)
	schedulePattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)([+-]\d{1,2}(?::\d{2})?)$`)
)

// ParseClock parses a strict HH:MM string.
func ParseClock(s string) (Clock, error) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, fmt.Errorf("%w: %q (expected HH:MM)", ErrInvalidSendTime, s)
	}
	h, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	return Clock{Hour: h, Minute: minute}, nil
}

// ParseSchedule parses the combined "HH:MM±offset" form, e.g. "21:00+3" or
// "08:30+05:45".
func ParseSchedule(s string) (Clock, Offset, error) {
	m := schedulePattern.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, 0, fmt.Errorf("%w: %q (expected HH:MM±offset)", ErrInvalidSendTime, s)
	}
	h, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	off, err := ParseOffset(m[3])
	if err != nil {
		return Clock{}, 0, err
	}
	return Clock{Hour: h, Minute: minute}, off, nil
}

// String formats the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Matches reports whether t falls in the same hour and minute as c.
func (c Clock) Matches(t time.Time) bool {
	return t.Hour() == c.Hour && t.Minute() == c.Minute
}

// Passed reports whether the minute c has been reached on t's wall clock.
func (c Clock) Passed(t time.Time) bool {
	return t.Hour()*60+t.Minute() >= c.Hour*60+c.Minute
}

// MarshalText implements encoding.TextMarshaler.
func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
