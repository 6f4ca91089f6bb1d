package remote

import (
	"fmt"
	"strings"
	"time"
)

// ModifiedLayout is the wire format of Entry.Modified.
const ModifiedLayout = time.RFC1123Z

// layouts accepted by ModifiedEpoch, most common first. The zone-less layouts
// carry an implicit zone which is taken to be UTC.
var modifiedLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC1123Z, true},
	{time.RFC1123, true},
	{time.RFC3339Nano, true},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02T15:04:05", false},
}

// ParseModified parses a store timestamp and returns it in the local zone.
func ParseModified(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("remote: empty timestamp")
	}
	for _, l := range modifiedLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, time.UTC)
		}
		if err == nil {
			return t.In(time.Local), nil
		}
	}
	return time.Time{}, fmt.Errorf("remote: unrecognised timestamp %q", s)
}

// ModifiedEpoch normalizes a store timestamp to whole POSIX seconds, the unit
// local modification times are compared in.
func ModifiedEpoch(s string) (int64, error) {
	t, err := ParseModified(s)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// FormatModified renders t in the wire format.
func FormatModified(t time.Time) string {
	return t.UTC().Format(ModifiedLayout)
}
