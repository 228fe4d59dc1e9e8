package stream

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// RawEvent is one dispatched server-sent event.
type RawEvent struct {
	ID    string
	Event string
	Data  string
	// Retry is the reconnection delay in milliseconds the server asked for, 0 when unset.
	Retry int
}

// Reader parses a text/event-stream body. Lines may end in LF or CRLF; data lines of one
// event are joined with "\n"; comment lines are skipped.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next dispatched event. At end of stream it returns io.EOF; an event
// left without its terminating blank line is discarded.
func (r *Reader) Next() (*RawEvent, error) {
	var ev RawEvent
	var data strings.Builder
	hasData := false

	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		if line == "" {
			if !hasData {
				ev = RawEvent{}
				continue
			}
			ev.Data = data.String()
			return &ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			ev.Event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				ev.ID = value
			}
		case "retry":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				ev.Retry = n
			}
		}
	}
}
