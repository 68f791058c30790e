// Package hooks runs guardrail plugins before and after the upstream call.
//
// A plugin is registered under "<collection>.<id>" and receives a read-only
// Context, the parameters from its HookConfig and the event being run. It
// returns a Result whose Verdict decides whether the request may proceed.
//
// # Execution
//
// Pipeline.Run executes the configured hooks of one event in order, each
// under its own timeout (DefaultTimeout unless the hook sets one). The
// overall verdict is the AND of all verdicts and the first failing hook is
// the rejection reason.
//
// A plugin that returns an error, panics or times out does not block the
// request: its result is recorded as HookExecutionError with verdict true.
// Hooks marked Enforcing turn such failures into verdict false.
//
// All hooks run so their data can be reported, unless a failing hook is
// marked ShortCircuit, in which case the remaining hooks of that event are
// skipped.
//
// # External plugins
//
// Loader reads YAML manifests from a directory and registers each one as a
// webhook plugin. Watch reloads the directory when files change.
package hooks
