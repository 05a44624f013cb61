package lineproto

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/karpov-sv/etp/errors"
)

var (
	keyEscaper    = strings.NewReplacer(`\`, `\\`, " ", `\ `, ",", `\,`, "=", `\=`)
	stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

// Encode renders r as a single line without a trailing newline.
func Encode(r Record) (string, error) {
	if r.Measurement == "" {
		return "", errors.WrapInvalid(fmt.Errorf("%w: empty measurement", errors.ErrInvalidRecord),
			"lineproto", "Encode", "validate record")
	}
	if len(r.Fields) == 0 {
		return "", errors.WrapInvalid(fmt.Errorf("%w: no fields", errors.ErrInvalidRecord),
			"lineproto", "Encode", "validate record")
	}

	var b strings.Builder
	b.WriteString(keyEscaper.Replace(r.Measurement))

	for _, key := range sortedKeys(r.Tags) {
		b.WriteByte(',')
		b.WriteString(keyEscaper.Replace(key))
		b.WriteByte('=')
		b.WriteString(keyEscaper.Replace(r.Tags[key]))
	}

	b.WriteByte(' ')
	for i, key := range sortedKeys(r.Fields) {
		value, err := FormatValue(r.Fields[key])
		if err != nil {
			return "", errors.WrapInvalid(fmt.Errorf("field %q: %w", key, err),
				"lineproto", "Encode", "format field")
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(keyEscaper.Replace(key))
		b.WriteByte('=')
		b.WriteString(value)
	}

	if r.Timestamp != "" {
		b.WriteByte(' ')
		b.WriteString(r.Timestamp)
	}

	return b.String(), nil
}

// Build encodes a record from its parts. timestamp may be nil, any integer
// type, a string, or a time.Time (rendered in nanoseconds).
func Build(measurement string, tags map[string]string, fields map[string]any, timestamp any) (string, error) {
	ts, err := TimestampText(timestamp)
	if err != nil {
		return "", errors.WrapInvalid(err, "lineproto", "Build", "format timestamp")
	}
	return Encode(Record{Measurement: measurement, Tags: tags, Fields: fields, Timestamp: ts})
}

// FormatValue renders a single field value.
func FormatValue(v any) (string, error) {
	switch val := v.(type) {
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.FormatInt(int64(val), 10) + "i", nil
	case int8:
		return strconv.FormatInt(int64(val), 10) + "i", nil
	case int16:
		return strconv.FormatInt(int64(val), 10) + "i", nil
	case int32:
		return strconv.FormatInt(int64(val), 10) + "i", nil
	case int64:
		return strconv.FormatInt(val, 10) + "i", nil
	case uint:
		return strconv.FormatUint(uint64(val), 10) + "i", nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10) + "i", nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10) + "i", nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10) + "i", nil
	case uint64:
		return strconv.FormatUint(val, 10) + "i", nil
	case float32:
		return formatFloat(float64(val), 32)
	case float64:
		return formatFloat(val, 64)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return strconv.FormatInt(i, 10) + "i", nil
		}
		f, err := val.Float64()
		if err != nil {
			return "", fmt.Errorf("%w: number %q", errors.ErrUnsupportedFieldType, val.String())
		}
		return formatFloat(f, 64)
	case string:
		return `"` + stringEscaper.Replace(val) + `"`, nil
	default:
		return "", fmt.Errorf("%w: %T", errors.ErrUnsupportedFieldType, v)
	}
}

func formatFloat(f float64, bitSize int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: non-finite float %v", errors.ErrUnsupportedFieldType, f)
	}
	return strconv.FormatFloat(f, 'g', -1, bitSize), nil
}

// TimestampText converts a timestamp value into its line-protocol text.
func TimestampText(ts any) (string, error) {
	switch v := ts.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case json.Number:
		return v.String(), nil
	case time.Time:
		return FormatTimestamp(v, Nanosecond), nil
	default:
		return "", fmt.Errorf("%w: timestamp of type %T", errors.ErrUnsupportedFieldType, ts)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
