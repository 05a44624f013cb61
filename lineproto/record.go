package lineproto

import (
	"strconv"
	"time"
)

// Record is a single line-protocol measurement.
type Record struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	// Timestamp is kept as text; empty means the server assigns one.
	Timestamp string
}

// UnixTimestamp returns the timestamp as an integer when it is one.
func (r Record) UnixTimestamp() (int64, bool) {
	if r.Timestamp == "" {
		return 0, false
	}
	ts, err := strconv.ParseInt(r.Timestamp, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// Precision is the unit of an integer timestamp.
type Precision string

// Supported timestamp precisions
const (
	Nanosecond  Precision = "ns"
	Microsecond Precision = "us"
	Millisecond Precision = "ms"
	Second      Precision = "s"
)

// Valid reports whether p is one of the supported precisions.
func (p Precision) Valid() bool {
	switch p {
	case Nanosecond, Microsecond, Millisecond, Second:
		return true
	}
	return false
}

// FormatTimestamp renders t as an integer timestamp at precision p.
// Unknown precisions fall back to nanoseconds.
func FormatTimestamp(t time.Time, p Precision) string {
	var v int64
	switch p {
	case Second:
		v = t.Unix()
	case Millisecond:
		v = t.UnixMilli()
	case Microsecond:
		v = t.UnixMicro()
	default:
		v = t.UnixNano()
	}
	return strconv.FormatInt(v, 10)
}
