// Package stage defines the contracts between the orchestrator and the
// generation stages: request and result types for script, voice, and image
// generation plus the adapter interfaces each stage implements.
//
// Adapters are pure: they take a request, call their external service once,
// validate the response shape, and return either the result or an error
// tagged with a services marker. Retries, caching, and run-level decisions
// live elsewhere.
package stage
