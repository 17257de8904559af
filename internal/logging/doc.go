// Package logging builds the slog loggers used across reelsmith.
//
// Two output formats are supported: a console format tuned for terminals
// (`ts LEVEL component: [run stage #segment] message key=value`) and JSON for
// log shippers. Run, stage, and segment identifiers travel on the context
// (see package services) and are attached with WithContext. OpenRunLogger lets the
// orchestrator mirror a run's records into a per-run log file.
package logging
