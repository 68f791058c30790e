// Package anthropic defines the Anthropic Messages API provider.
//
// Translation rules:
//
//   - System messages are lifted out of "messages" into the top-level
//     "system" field
//   - Tool results (role "tool") become user messages with tool_result blocks
//   - Assistant tool calls become tool_use content blocks
//   - "max_tokens" is required by the API and defaults to 1024
//   - "stop" becomes "stop_sequences"
//
// # Streaming
//
// Anthropic streams typed events. The transform keeps per-stream state:
// message_start carries the id, model and input token count that later
// chunks are stamped with, message_delta carries the stop reason and output
// usage, and message_stop is the structural end of the stream. ping events
// are dropped.
package anthropic
