// Package handlers contains the HTTP handlers of the gateway API.
//
// CompletionsHandler serves the three OpenAI-compatible operations, one
// instance per route:
//
//	POST /v1/chat/completions  providers.OpChatComplete
//	POST /v1/completions       providers.OpComplete
//	POST /v1/embeddings        providers.OpEmbed
//
// PluginsHandler lists the registered guardrail plugins.
package handlers
