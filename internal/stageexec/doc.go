// Package stageexec runs a single external-service call with the retry policy
// shared by every generation stage.
//
// Run applies a per-attempt timeout, retries failures classified as transient
// (services.Retryable) with capped exponential backoff, honours Retry-After
// hints, and converts panics into contract violations. Each attempt is
// reported to the configured Recorder. Whatever happens, the caller receives
// either the value or a *Failure naming the stage, segment, failure kind, and
// attempt count; deciding what that failure means for the run is left to the
// orchestrator.
package stageexec
