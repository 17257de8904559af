// Package workflow drives a video run end to end.
//
// The Orchestrator owns RunState and is its only writer. It runs the script
// stage, fans voice and image work out per segment (image for segment i waits
// only on voice for segment i), builds the timeline once every segment has
// reported, and hands the result to the renderer. Every external call goes
// through the artifact store and the stage runner, so a rerun of the same
// topic resumes through cache hits rather than a separate code path.
//
// A fatal failure stops new stage calls. Work already in flight is allowed to
// finish so its results land in the cache, and the run is marked failed once
// it drains.
package workflow
