package lineproto

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/karpov-sv/etp/errors"
)

// Decode parses a single line-protocol record.
func Decode(text string) (Record, error) {
	line := strings.TrimSpace(text)
	if line == "" {
		return Record{}, errors.WrapInvalid(errors.ErrEmptyRecord, "lineproto", "Decode", "read record")
	}

	sep := indexSpace(line, true)
	if sep < 0 {
		return Record{}, errors.WrapInvalid(errors.ErrMissingSeparator, "lineproto", "Decode", "split record")
	}
	head, rest := line[:sep], line[sep+1:]

	var record Record
	if err := decodeHead(head, &record); err != nil {
		return Record{}, errors.WrapInvalid(err, "lineproto", "Decode", "parse measurement")
	}

	fieldText := rest
	if ts := lastIndexSpace(rest); ts >= 0 {
		fieldText = rest[:ts]
		record.Timestamp = strings.TrimSpace(rest[ts+1:])
	}

	fields, err := decodeFields(fieldText)
	if err != nil {
		return Record{}, errors.WrapInvalid(err, "lineproto", "Decode", "parse fields")
	}
	record.Fields = fields

	return record, nil
}

func decodeHead(head string, record *Record) error {
	tokens := splitUnescaped(head, ',', false)
	record.Measurement = unescape(tokens[0])
	if record.Measurement == "" {
		return fmt.Errorf("%w: empty measurement", errors.ErrInvalidRecord)
	}

	for _, token := range tokens[1:] {
		eq := indexUnescaped(token, '=', false)
		if eq < 0 {
			return fmt.Errorf("%w: tag %q has no value", errors.ErrInvalidRecord, token)
		}
		if record.Tags == nil {
			record.Tags = make(map[string]string, len(tokens)-1)
		}
		record.Tags[unescape(token[:eq])] = unescape(token[eq+1:])
	}
	return nil
}

func decodeFields(text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: no fields", errors.ErrInvalidRecord)
	}

	tokens := splitUnescaped(text, ',', true)
	fields := make(map[string]any, len(tokens))
	for _, token := range tokens {
		eq := indexUnescaped(token, '=', true)
		if eq < 0 {
			return nil, fmt.Errorf("%w: field %q has no value", errors.ErrInvalidRecord, token)
		}
		key := unescape(token[:eq])
		if key == "" {
			return nil, fmt.Errorf("%w: empty field key", errors.ErrInvalidRecord)
		}
		fields[key] = inferValue(token[eq+1:])
	}
	return fields, nil
}

func inferValue(raw string) any {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return unescape(raw[1 : len(raw)-1])
	}

	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}

	if strings.HasSuffix(raw, "i") {
		if v, err := strconv.ParseInt(raw[:len(raw)-1], 10, 64); err == nil {
			return v
		}
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}

	return unescape(raw)
}

// indexSpace returns the first space that is neither escaped nor quoted.
func indexSpace(s string, honorQuotes bool) int {
	return indexUnescaped(s, ' ', honorQuotes)
}

func lastIndexSpace(s string) int {
	last := -1
	escaped, quoted := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ' ' && !quoted:
			last = i
		}
	}
	return last
}

func indexUnescaped(s string, target byte, honorQuotes bool) int {
	escaped, quoted := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"' && honorQuotes:
			quoted = !quoted
		case c == target && !quoted:
			return i
		}
	}
	return -1
}

func splitUnescaped(s string, sep byte, honorQuotes bool) []string {
	var tokens []string
	for {
		i := indexUnescaped(s, sep, honorQuotes)
		if i < 0 {
			return append(tokens, s)
		}
		tokens = append(tokens, s[:i])
		s = s[i+1:]
	}
}

// unescape drops the backslash in front of every escaped byte. A lone
// trailing backslash is dropped too.
func unescape(s string) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			if i == len(s) {
				break
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
