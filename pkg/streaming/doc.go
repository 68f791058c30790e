// Package streaming normalizes provider streams into the canonical
// chat.completion.chunk SSE stream.
//
// Upstream bytes arrive in arbitrary pieces. FrameScanner buffers them and
// yields only complete frames: SSE records delimited by a blank line, or
// NDJSON lines. The Normalizer runs each frame through the provider's stream
// transform and writes the result to a FrameWriter, flushing every chunk as
// it is produced.
//
// Every stream a Normalizer writes ends with exactly one [DONE] sentinel,
// whether the provider sent one, signalled the end structurally, or simply
// closed the connection between records. A connection closed in the middle
// of an SSE record aborts the stream with an error frame before the
// sentinel. The only exception is a cancelled context: the client is gone
// and nothing more is written.
package streaming
