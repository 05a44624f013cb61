package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/lineproto"
)

// Keyword arguments carried by influx commands
const (
	TagsKey      = "tags"
	FieldsKey    = "fields"
	TimestampKey = "timestamp"
)

func (c *Command) parseSimple(text string) error {
	tokens, err := splitWords(text)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	if !strings.Contains(tokens[0], "=") {
		c.Name = tokens[0]
		tokens = tokens[1:]
	}
	c.addTokens(tokens)
	return nil
}

func (c *Command) parseSMS(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	tokens := slices.DeleteFunc(strings.Split(text, ";"), func(s string) bool { return s == "" })
	if len(tokens) == 0 {
		return
	}
	c.Name = tokens[0]
	c.addTokens(tokens[1:])
}

func (c *Command) addTokens(tokens []string) {
	for _, token := range tokens {
		if key, value, ok := splitKeyValue(token); ok {
			c.addKwarg(key, value)
		} else {
			c.addArg(token)
		}
	}
}

func (c *Command) parseJSON(text string) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after json value", errors.ErrParsingFailed)
	}

	switch v := payload.(type) {
	case map[string]any:
		if name, ok := v["name"]; ok {
			delete(v, "name")
			if !isZeroJSON(name) {
				c.Name = stringify(name)
			}
		}
		if args, ok := v["args"]; ok {
			delete(v, "args")
			switch list := args.(type) {
			case nil:
			case []any:
				for _, item := range list {
					c.Args = append(c.Args, stringify(item))
				}
			default:
				c.Args = []string{stringify(list)}
			}
		}
		c.Kwargs = v
	case []any:
		if len(v) > 0 {
			c.Name = stringify(v[0])
			for _, item := range v[1:] {
				c.Args = append(c.Args, stringify(item))
			}
		}
	default:
		c.Name = stringify(v)
	}
	return nil
}

func (c *Command) parseInflux(text string) error {
	record, err := lineproto.Decode(text)
	if err != nil {
		return err
	}

	c.Name = record.Measurement
	tags := record.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	c.Kwargs[TagsKey] = tags
	c.Kwargs[FieldsKey] = record.Fields
	if record.Timestamp != "" {
		if ts, ok := record.UnixTimestamp(); ok {
			c.Kwargs[TimestampKey] = ts
		} else {
			c.Kwargs[TimestampKey] = record.Timestamp
		}
	}
	return nil
}

// checkTokens rejects a command whose name, positional arguments or keys
// contain a character of reserved, or whose values contain a character of
// reservedValue, since parsing would split or reclassify them.
func (c *Command) checkTokens(reserved, reservedValue string) error {
	bad := func(kind, s, reserved string) error {
		if strings.ContainsAny(s, reserved) {
			return fmt.Errorf("%w: %s %q contains one of %q", errors.ErrUnencodable, kind, s, reserved)
		}
		return nil
	}

	if err := bad("name", c.Name, reserved); err != nil {
		return err
	}
	for _, arg := range c.Args {
		if err := bad("argument", arg, reserved); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(c.Kwargs) {
		if err := bad("key", key, reserved); err != nil {
			return err
		}
		if reservedValue == "" {
			continue
		}
		if err := bad("value of "+key, stringify(c.Kwargs[key]), reservedValue); err != nil {
			return err
		}
	}
	return nil
}

func (c *Command) encodeSimple() string {
	var tokens []string
	if c.Name != "" {
		tokens = append(tokens, quoteWord(c.Name))
	}

	if parts := c.orderedParts(); parts != nil {
		for _, p := range parts {
			if p.kind == argPart {
				tokens = append(tokens, quoteWord(p.value))
			} else {
				tokens = append(tokens, quoteWord(p.key)+"="+quoteWord(p.value))
			}
		}
		return strings.Join(tokens, " ")
	}

	for _, arg := range c.Args {
		tokens = append(tokens, quoteWord(arg))
	}
	for _, key := range sortedKeys(c.Kwargs) {
		tokens = append(tokens, quoteWord(key)+"="+quoteWord(stringify(c.Kwargs[key])))
	}
	return strings.Join(tokens, " ")
}

func (c *Command) encodeSMS() string {
	var tokens []string
	if c.Name != "" {
		tokens = append(tokens, c.Name)
	}

	if parts := c.orderedParts(); parts != nil {
		for _, p := range parts {
			if p.kind == argPart {
				tokens = append(tokens, p.value)
			} else {
				tokens = append(tokens, p.key+"="+p.value)
			}
		}
		return strings.Join(tokens, ";")
	}

	for _, key := range sortedKeys(c.Kwargs) {
		tokens = append(tokens, key+"="+stringify(c.Kwargs[key]))
	}
	tokens = append(tokens, c.Args...)
	return strings.Join(tokens, ";")
}

// encodeJSON writes {"name":..,"args":[..]} followed by the keyword
// arguments in key order. Keyword arguments named "name" or "args" are
// skipped since they would shadow the command itself.
func (c *Command) encodeJSON() (string, error) {
	var buf bytes.Buffer

	args := c.Args
	if args == nil {
		args = []string{}
	}

	buf.WriteString(`{"name":`)
	if err := writeJSON(&buf, c.Name); err != nil {
		return "", err
	}
	buf.WriteString(`,"args":`)
	if err := writeJSON(&buf, args); err != nil {
		return "", err
	}
	for _, key := range sortedKeys(c.Kwargs) {
		if key == "name" || key == "args" {
			continue
		}
		buf.WriteByte(',')
		if err := writeJSON(&buf, key); err != nil {
			return "", err
		}
		buf.WriteByte(':')
		if err := writeJSON(&buf, c.Kwargs[key]); err != nil {
			return "", fmt.Errorf("kwarg %q: %w", key, err)
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

func (c *Command) encodeInflux() (string, error) {
	record, err := c.Record()
	if err != nil {
		return "", err
	}
	return lineproto.Encode(record)
}

// Record converts the command into a line-protocol record: the name is the
// measurement and the tags, fields and timestamp keyword arguments carry
// the rest.
func (c *Command) Record() (lineproto.Record, error) {
	record := lineproto.Record{Measurement: c.Name}

	switch tags := c.Kwargs[TagsKey].(type) {
	case nil:
	case map[string]string:
		record.Tags = tags
	case map[string]any:
		record.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			record.Tags[k] = stringify(v)
		}
	default:
		return lineproto.Record{}, fmt.Errorf("%w: tags of type %T", errors.ErrInvalidRecord, tags)
	}

	switch fields := c.Kwargs[FieldsKey].(type) {
	case nil:
	case map[string]any:
		record.Fields = fields
	default:
		return lineproto.Record{}, fmt.Errorf("%w: fields of type %T", errors.ErrInvalidRecord, fields)
	}

	ts, err := lineproto.TimestampText(c.Kwargs[TimestampKey])
	if err != nil {
		return lineproto.Record{}, err
	}
	record.Timestamp = ts

	return record, nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encoder terminates every value with a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// stringify renders a keyword or JSON value as plain text. Composite JSON
// values become compact JSON.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case map[string]any, []any, map[string]string:
		var buf bytes.Buffer
		if err := writeJSON(&buf, val); err != nil {
			return fmt.Sprint(val)
		}
		return buf.String()
	default:
		return fmt.Sprint(val)
	}
}

func isZeroJSON(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
