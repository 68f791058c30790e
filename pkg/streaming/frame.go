package streaming

import (
	"bufio"
	"io"
	"strings"

	"mercator-hq/conduit/pkg/providers"
)

// MaxFrameSize bounds a single line of upstream output.
const MaxFrameSize = 4 * 1024 * 1024

// Frame is one complete upstream record.
type Frame struct {
	// Event is the SSE event name, if the record had one.
	Event string

	// Data is the payload. For SSE it is the record's data lines joined
	// with "\n"; for NDJSON it is the line itself.
	Data string
}

// FrameScanner reads complete frames from an upstream body.
//
// Partial input is buffered until a delimiter is seen, so a JSON payload
// split across network reads is never yielded in pieces. An SSE record cut
// off by EOF before its blank line is never yielded: Next returns
// io.ErrUnexpectedEOF instead. The one exception is a bare [DONE] record,
// which is complete on its own. NDJSON accepts a final line without "\n".
type FrameScanner struct {
	scanner *bufio.Scanner
	format  providers.StreamFormat
}

// NewFrameScanner creates a scanner for the given framing.
func NewFrameScanner(r io.Reader, format providers.StreamFormat) *FrameScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return &FrameScanner{scanner: scanner, format: format}
}

// Next returns the next frame, io.EOF at the end of the stream,
// io.ErrUnexpectedEOF for a truncated SSE record, or the underlying read
// error.
func (s *FrameScanner) Next() (Frame, error) {
	if s.format == providers.StreamNDJSON {
		return s.nextLine()
	}
	return s.nextRecord()
}

func (s *FrameScanner) nextLine() (Frame, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		return Frame{Data: line}, nil
	}
	return Frame{}, s.end()
}

// nextRecord accumulates SSE lines until a blank line.
func (s *FrameScanner) nextRecord() (Frame, error) {
	var (
		frame   Frame
		data    []string
		started bool
	)

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if !started {
				continue
			}
			frame.Data = strings.Join(data, "\n")
			return frame, nil
		}
		started = true

		field, value := parseField(line)
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			frame.Event = value
		default:
			// id, retry and comments
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if started {
		frame.Data = strings.Join(data, "\n")
		trimmed := strings.TrimSpace(frame.Data)
		if trimmed == string(Done) && frame.Event == "" {
			return frame, nil
		}
		if trimmed != "" || frame.Event != "" {
			return Frame{}, io.ErrUnexpectedEOF
		}
	}
	return Frame{}, io.EOF
}

func (s *FrameScanner) end() error {
	if err := s.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// parseField splits "field: value". A line starting with ':' is a comment
// and yields an empty field name.
func parseField(line string) (string, string) {
	if strings.HasPrefix(line, ":") {
		return "", ""
	}
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}
