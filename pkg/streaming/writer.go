package streaming

import (
	"bytes"
	"io"
	"net/http"
)

// Done is the canonical end-of-stream sentinel.
var Done = []byte("[DONE]")

// FrameWriter receives normalized frames in order.
type FrameWriter interface {
	WriteFrame(payload []byte) error
}

// FrameWriterFunc adapts a function to FrameWriter.
type FrameWriterFunc func(payload []byte) error

// WriteFrame calls f(payload).
func (f FrameWriterFunc) WriteFrame(payload []byte) error {
	return f(payload)
}

// SSEWriter writes frames as "data: <payload>\n\n" and flushes after each.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w. If w implements http.Flusher every frame is flushed
// immediately.
func NewSSEWriter(w io.Writer) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// SetHeaders sets the response headers of an event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteFrame writes one SSE record. A payload spanning several lines, such
// as a raw upstream record forwarded after a failed transform, is written as
// one data line per payload line so clients reassemble it unchanged.
func (s *SSEWriter) WriteFrame(payload []byte) error {
	if bytes.IndexByte(payload, '\r') >= 0 {
		payload = bytes.ReplaceAll(payload, []byte("\r\n"), []byte("\n"))
		payload = bytes.ReplaceAll(payload, []byte("\r"), []byte("\n"))
	}

	buf := make([]byte, 0, len(payload)+8)
	for {
		line, rest, more := bytes.Cut(payload, []byte("\n"))
		buf = append(buf, "data: "...)
		buf = append(buf, line...)
		buf = append(buf, '\n')
		if !more {
			break
		}
		payload = rest
	}
	buf = append(buf, '\n')

	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
