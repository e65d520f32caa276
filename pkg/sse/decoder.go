package sse

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// Event is one dispatched Server-Sent Event.
type Event struct {
	ID   string
	Type string
	Data string
}

// Decoder reads events from a text/event-stream body.
type Decoder struct {
	reader *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	if r == nil {
		r = strings.NewReader("")
	}
	return &Decoder{reader: bufio.NewReader(r)}
}

// Next blocks until a complete event is read. Comment-only frames such as
// heartbeats are skipped. A stream ending in the middle of an event yields
// io.ErrUnexpectedEOF.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	var (
		event   Event
		data    strings.Builder
		hasData bool
		started bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		line, err := d.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if started || line != "" {
					return Event{}, io.ErrUnexpectedEOF
				}
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !started {
				continue
			}
			event.Data = data.String()
			if event.Type == "" {
				event.Type = "message"
			}
			return event, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		started = true
		field, value := splitField(line)
		switch field {
		case "id":
			event.ID = value
		case "event":
			event.Type = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
}

func splitField(line string) (string, string) {
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}
