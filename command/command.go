package command

import (
	"fmt"
	"strings"

	"github.com/karpov-sv/etp/errors"
)

// Format selects the textual representation of a command.
type Format string

// Supported command formats
const (
	Simple Format = "simple"
	SMS    Format = "sms"
	JSON   Format = "json"
	Influx Format = "influx"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case Simple, SMS, JSON, Influx:
		return true
	}
	return false
}

type partKind uint8

const (
	argPart partKind = iota
	kwPart
)

// part records one positional or keyword token in the order it was parsed.
type part struct {
	kind  partKind
	key   string
	value string
}

// Command is a named instruction with positional and keyword arguments.
type Command struct {
	Name   string
	Args   []string
	Kwargs map[string]any
	// Raw is the text the command was parsed from.
	Raw    string
	Format Format

	parts []part
}

// New builds a command programmatically in the simple format.
func New(name string, args ...string) *Command {
	return &Command{
		Name:   name,
		Args:   append([]string(nil), args...),
		Kwargs: make(map[string]any),
		Format: Simple,
	}
}

// WithKwarg sets a keyword argument and returns the command.
func (c *Command) WithKwarg(key string, value any) *Command {
	if c.Kwargs == nil {
		c.Kwargs = make(map[string]any)
	}
	c.Kwargs[key] = value
	return c
}

// Parse parses text in the given format. An empty format means Simple.
func Parse(text string, format Format) (*Command, error) {
	if format == "" {
		format = Simple
	}
	c := &Command{Format: format}
	if err := c.Parse(text, format); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse resets c and fills it from text. An empty format reuses c.Format.
func (c *Command) Parse(text string, format Format) error {
	if format == "" {
		format = c.Format
	}
	if format == "" {
		format = Simple
	}

	c.Name = ""
	c.Args = nil
	c.Kwargs = make(map[string]any)
	c.Raw = text
	c.Format = format
	c.parts = nil

	var err error
	switch format {
	case Simple:
		err = c.parseSimple(text)
	case SMS:
		c.parseSMS(text)
	case JSON:
		err = c.parseJSON(text)
	case Influx:
		err = c.parseInflux(text)
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownFormat, format),
			"Command", "Parse", "select format")
	}
	if err != nil {
		return errors.WrapInvalid(err, "Command", "Parse", fmt.Sprintf("parse %s command", format))
	}
	return nil
}

// Encode serializes the command. An empty format reuses the parse format.
func (c *Command) Encode(format Format) (string, error) {
	if format == "" {
		format = c.Format
	}
	if format == "" {
		format = Simple
	}

	switch format {
	case Simple:
		if err := c.checkTokens("=", ""); err != nil {
			return "", errors.WrapInvalid(err, "Command", "Encode", "check simple tokens")
		}
		return c.encodeSimple(), nil
	case SMS:
		if err := c.checkTokens("=;", ";"); err != nil {
			return "", errors.WrapInvalid(err, "Command", "Encode", "check sms tokens")
		}
		return c.encodeSMS(), nil
	case JSON:
		s, err := c.encodeJSON()
		if err != nil {
			return "", errors.WrapInvalid(err, "Command", "Encode", "marshal json command")
		}
		return s, nil
	case Influx:
		s, err := c.encodeInflux()
		if err != nil {
			return "", errors.WrapInvalid(err, "Command", "Encode", "build influx record")
		}
		return s, nil
	default:
		return "", errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownFormat, format),
			"Command", "Encode", "select format")
	}
}

// String encodes the command in its own format; encoding errors yield the
// raw text.
func (c *Command) String() string {
	s, err := c.Encode("")
	if err != nil {
		return c.Raw
	}
	return s
}

// Get returns a keyword argument or def when it is absent.
func (c *Command) Get(key string, def any) any {
	if v, ok := c.Kwargs[key]; ok {
		return v
	}
	return def
}

// GetString returns a keyword argument as text or def when it is absent.
func (c *Command) GetString(key, def string) string {
	v, ok := c.Kwargs[key]
	if !ok {
		return def
	}
	return stringify(v)
}

// Has reports whether a keyword argument is present.
func (c *Command) Has(key string) bool {
	_, ok := c.Kwargs[key]
	return ok
}

func (c *Command) addArg(value string) {
	c.Args = append(c.Args, value)
	c.parts = append(c.parts, part{kind: argPart, value: value})
}

func (c *Command) addKwarg(key, value string) {
	c.Kwargs[key] = value
	c.parts = append(c.parts, part{kind: kwPart, key: key, value: value})
}

// orderedParts returns the parsed token order when it still describes the
// current Args and Kwargs, and nil when the command was changed since.
// A repeated key keeps only its last occurrence.
func (c *Command) orderedParts() []part {
	if len(c.parts) == 0 {
		return nil
	}

	out := make([]part, 0, len(c.parts))
	argIdx, kwCount := 0, 0
	for i, p := range c.parts {
		switch p.kind {
		case argPart:
			if argIdx >= len(c.Args) || c.Args[argIdx] != p.value {
				return nil
			}
			argIdx++
		case kwPart:
			if lastKeyIndex(c.parts, p.key) != i {
				continue
			}
			if v, ok := c.Kwargs[p.key].(string); !ok || v != p.value {
				return nil
			}
			kwCount++
		}
		out = append(out, p)
	}
	if argIdx != len(c.Args) || kwCount != len(c.Kwargs) {
		return nil
	}
	return out
}

func lastKeyIndex(parts []part, key string) int {
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].kind == kwPart && parts[i].key == key {
			return i
		}
	}
	return -1
}

func splitKeyValue(token string) (string, string, bool) {
	return strings.Cut(token, "=")
}
