// Package script implements the script stage: it turns a topic into an
// ordered list of narration segments with estimated spoken durations.
//
// Style templates (educational, casual, professional) describe the section
// layout of a video. Templates may be extended or overridden from a YAML file.
// The language model is asked for one segment per scaled section and the
// response is validated before it is handed to the rest of the pipeline:
// a script with no segments, blank narration, or a non-positive estimate is
// a contract violation.
package script
