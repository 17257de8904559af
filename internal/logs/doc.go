// Package logs reads per-run JSON log files for `reelsmith runs log` and the
// HTTP API.
//
// Reads are offset based with bounded memory: a negative offset returns the
// last N lines, a non-negative offset resumes where the previous read ended,
// and follow mode polls until new lines arrive or the wait expires.
package logs
