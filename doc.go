// Package staterequest implements a resilient HTTP request orchestrator.
//
// It wraps a thin HTTP transport with policy layers — retry, response
// validation, circuit breaking, response caching, and a serialized
// transactional state buffer — so a caller can issue one logical request
// against an unreliable upstream and get back either a validated response
// or a structured failure report carrying full metrics.
//
// The engine drives five user hooks (preExecutionHook, responseAnalyzer,
// handleErrors, handleSuccessfulAttemptData, finalErrorAnalyzer) through a
// persistence-aware HookRunner, and composes three stateful collaborators:
//
//   - a CircuitBreaker (closed/open/half-open, with request- and
//     attempt-level accounting and durable state)
//   - a Cache (bounded LRU keyed by a canonicalized request fingerprint,
//     honoring HTTP cache-control)
//   - a StableBuffer (a single-writer serialized transaction queue over a
//     shared state map, with logging and replay)
//
// Typical usage:
//
//	engine, err := staterequest.NewEngine(staterequest.RequestOptions{
//	    Hostname: "api.example.com",
//	    Path:     "/v1/widgets",
//	    Attempts: 3,
//	    Wait:     200, // milliseconds
//	})
//	if err != nil {
//	    // handle invalid options
//	}
//	result, err := engine.Execute(ctx)
//
// Caching and circuit breaking are opt-in via WithCache/WithCircuitBreaker
// request options; both may be backed by a process-wide Registry entry
// instead of a per-call instance.
package staterequest
