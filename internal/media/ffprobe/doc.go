// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// The voice stage uses it to measure narration clips when the speech service
// omits timing data, and the renderer uses it to verify the finished video.
// Execution goes through a Runner so tests can substitute canned output.
package ffprobe
