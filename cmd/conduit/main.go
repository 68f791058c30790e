// Conduit is an AI model gateway: one OpenAI-compatible API in front of
// many providers, with guardrail hooks, rate limiting and response caching.
//
// Usage:
//
//	# Start the gateway with conduit.yaml
//	conduit run
//
//	# Start with a custom configuration file
//	conduit run --config /etc/conduit/conduit.yaml
//
//	# Check a configuration file without starting
//	conduit validate --config conduit.yaml
//
//	# List guardrail plugins, including external manifests
//	conduit plugins --output json
//
//	# Show version information
//	conduit version
package main

import "os"

func main() {
	os.Exit(Execute())
}
