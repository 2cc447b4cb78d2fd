package sqlstore

import (
	"fmt"
	"time"
)

// DateTimeFormat is the layout timestamps are written in when a database stores them as text.
const DateTimeFormat = "2006-01-02 15:04:05.999999"

// dateTimeFormats lists the datetime layouts accepted when scanning text timestamps.
var dateTimeFormats = []string{
	DateTimeFormat,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	time.RFC3339Nano,
}

// Timestamp scans a column that a driver returns as time.Time, string or []byte.
type Timestamp struct {
	Time time.Time
}

// Scan implements sql.Scanner.
func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *Timestamp) parse(s string) error {
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp parses a text datetime in any of the supported layouts.
func ParseTimestamp(s string) (time.Time, error) {
	for _, format := range dateTimeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}
