package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/karpov-sv/etp/command"
	"github.com/karpov-sv/etp/daemon"
	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/framer"
	"github.com/karpov-sv/etp/lineproto"
)

// rawFormat passes line protocol through unchanged
const rawFormat = "lp"

// lineWriter is the part of influx.Writer the handler uses
type lineWriter interface {
	WriteString(ctx context.Context, line string) error
}

type ingestHandler struct {
	writer lineWriter
	framer *framer.Framer
	format command.Format
	ack    bool
}

func newIngestHandler(w lineWriter, f *framer.Framer, format string, ack bool) (*ingestHandler, error) {
	h := &ingestHandler{writer: w, framer: f, ack: ack}
	if format != rawFormat {
		h.format = command.Format(format)
		if !h.format.Valid() {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownFormat, format),
				"ingestHandler", "new", "check format")
		}
	}
	return h, nil
}

// HandleIncoming writes every framed record. Records that do not parse are
// skipped; a writer failure ends the connection.
func (h *ingestHandler) HandleIncoming(ctx context.Context, c *daemon.Conn) error {
	scanner := c.Commands(h.framer)
	for scanner.Scan() {
		line, err := h.convert(scanner.Text())
		if err != nil {
			h.reply(c, "error message="+strconv.Quote(err.Error()))
			continue
		}
		if err := h.writer.WriteString(ctx, line); err != nil {
			h.reply(c, "error message="+strconv.Quote(err.Error()))
			return err
		}
		h.reply(c, "ok")
	}
	return scanner.Err()
}

// HandleOutgoing ingests from a dialed source the same way
func (h *ingestHandler) HandleOutgoing(ctx context.Context, c *daemon.Conn) error {
	return h.HandleIncoming(ctx, c)
}

// convert turns one framed record into a line protocol line
func (h *ingestHandler) convert(text string) (string, error) {
	if h.format == "" {
		return text, nil
	}
	cmd, err := command.Parse(text, h.format)
	if err != nil {
		return "", err
	}
	record, err := cmd.Record()
	if err != nil {
		return "", err
	}
	return lineproto.Encode(record)
}

func (h *ingestHandler) reply(c *daemon.Conn, text string) {
	if h.ack {
		_ = c.WriteLine(text)
	}
}
