// Package ollama defines the Ollama local model server provider.
//
// Ollama streams newline-delimited JSON rather than SSE. Each line is a
// complete object; the last one has "done": true and carries the eval
// counts that are reported as usage. Sampling parameters live under
// "options", with max_tokens renamed to num_predict. Streaming is on by
// default upstream, so the definition sends "stream": false unless the
// caller asked for a stream.
package ollama
