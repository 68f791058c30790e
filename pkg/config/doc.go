// Package config loads gateway configuration from YAML with CONDUIT_*
// environment overrides.
//
// Values are applied in this order, later overriding earlier:
//
//  1. Defaults (defaults.go)
//  2. The YAML file
//  3. Environment variables
//
// The result is validated as a whole and every invalid field is reported
// in one ValidationError.
//
// # Environment Variables
//
//   - CONDUIT_PROXY_LISTEN_ADDRESS overrides proxy.listen_address
//   - CONDUIT_STORAGE_BACKEND overrides storage.backend
//   - CONDUIT_CACHE_MODE overrides cache.mode
//   - CONDUIT_PROVIDERS_OPENAI_BASE_URL overrides providers.openai.base_url
//   - CONDUIT_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Example
//
//	proxy:
//	  listen_address: "0.0.0.0:8787"
//	providers:
//	  groq:
//	    type: openai
//	    base_url: https://api.groq.com/openai/v1
//	storage:
//	  backend: sqlite
//	  sqlite:
//	    path: data/conduit.db
//	cache:
//	  mode: simple
//	  sweep_schedule: "*/15 * * * *"
//	rate_limit:
//	  rules:
//	    - name: per-key
//	      key_source: api_key
//	      capacity: 60
//	      window: 1m
//	hooks:
//	  dir: plugins
//	  before_request:
//	    - plugin: default.modelWhitelist
//	      parameters:
//	        models: [gpt-4o-mini]
//
// A process-wide instance is available through Initialize and GetConfig.
package config
