// Package openai defines the OpenAI provider and any OpenAI-compatible
// upstream (vLLM, Groq, Together, LM Studio and similar).
//
// It supports:
//
//   - Chat completions (chatComplete)
//   - Legacy text completions (complete)
//   - Embeddings (embed)
//   - Streaming responses (Server-Sent Events terminated by [DONE])
//
// # Basic Usage
//
//	registry, err := providers.NewRegistry(
//	    openai.New(openai.Config{}),
//	    openai.New(openai.Config{Name: "groq", BaseURL: "https://api.groq.com/openai/v1"}),
//	)
//
// The native wire format is the unified format, so the parameter mapping is
// an allow-list with range checks and the response needs no translation
// beyond tagging the provider name.
package openai
