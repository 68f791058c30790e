// Package metrics exposes the gateway's Prometheus metrics.
//
// A Collector owns a private registry and groups its series by concern:
// requests, upstream providers, the response cache, and the gateway
// pipeline (rate limiting, hooks, streaming). All recording methods are
// safe on a nil or disabled Collector, so callers never branch on whether
// metrics are configured.
//
//	collector := metrics.NewCollector(metrics.Config{Enabled: true}, nil)
//	collector.RecordRequest("openai", "chatComplete", "gpt-4o", "200", time.Second)
//	router.Handle("/metrics", collector.Handler())
package metrics
