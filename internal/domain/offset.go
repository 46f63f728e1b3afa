package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

// Offset is a signed UTC offset in whole minutes.
type Offset int

// validOffsets lists every real-world offset a subscriber may use, in minutes.
var validOffsets = map[Offset]struct{}{
	-720: {}, -660: {}, -600: {}, -570: {}, -540: {}, -480: {}, -420: {}, -360: {},
	-300: {}, -240: {}, -210: {}, -180: {}, -120: {}, -60: {}, 0: {}, 60: {},
	120: {}, 180: {}, 210: {}, 240: {}, 270: {}, 300: {}, 330: {}, 345: {},
	360: {}, 390: {}, 420: {}, 480: {}, 525: {}, 540: {}, 570: {}, 600: {},
	630: {}, 660: {}, 720: {}, 765: {}, 780: {}, 840: {},
}

var offsetPattern = regexp.MustCompile(`^([+-])(\d{1,2})(?::(\d{2}))?$`)

// DefaultOffset is UTC+03:00.
const DefaultOffset Offset = 180

// ParseOffset parses "+3", "-05", "+05:30" or "-9:30" into an Offset and
// checks it against the table of valid offsets.
func ParseOffset(s string) (Offset, error) {
	m := offsetPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, s)
	}
	hours, _ := strconv.Atoi(m[2])
	minutes := 0
	if m[3] != "" {
		minutes, _ = strconv.Atoi(m[3])
	}
	total := hours*60 + minutes
	if m[1] == "-" {
		total = -total
	}
	o := Offset(total)
	if !o.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, s)
	}
	return o, nil
}

// Valid reports whether o is in the offset table.
func (o Offset) Valid() bool {
	_, ok := validOffsets[o]
	return ok
}

// Minutes returns the offset in minutes.
func (o Offset) Minutes() int {
	return int(o)
}

// String formats the offset as ±HH:MM.
func (o Offset) String() string {
	sign := '+'
	m := int(o)
	if m < 0 {
		sign = '-'
		m = -m
	}
	return fmt.Sprintf("%c%02d:%02d", sign, m/60, m%60)
}

// MarshalText implements encoding.TextMarshaler.
func (o Offset) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Offset) UnmarshalText(b []byte) error {
	parsed, err := ParseOffset(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
