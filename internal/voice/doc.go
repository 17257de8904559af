// Package voice implements the voice stage: narration text for one segment
// becomes an encoded audio clip with an authoritative duration.
package voice
