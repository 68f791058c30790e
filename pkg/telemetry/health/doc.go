// Package health serves the gateway's liveness, readiness and version
// endpoints.
//
// Readiness aggregates named checks registered by the server, such as the
// storage backend ping and the hook registry. Checks run concurrently, each
// bounded by the checker timeout.
package health
