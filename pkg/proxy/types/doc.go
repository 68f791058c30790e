// Package types defines the OpenAI-compatible error envelope returned by
// the gateway for failures it produces itself. Provider errors and
// guardrail rejections carry their own bodies, built by the gateway.
package types
