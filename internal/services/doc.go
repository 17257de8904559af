// Package services defines shared utilities consumed by the pipeline stages
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, segment indexes, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures as
//     transient, fatal input, contract violation, resource, or rendering.
//   - HTTP status mapping shared by every generative-service client so retry
//     policy stays uniform across script, voice, and image calls.
//
// The orchestrator is the only caller that decides what a classified failure
// means for a run; clients only report the class.
package services
