// Package artifact implements the content-addressed store for intermediate
// pipeline outputs (scripts, narration clips, images, run state).
//
// Keys are hex SHA-256 digests over the canonical JSON of a stage name, the
// stage's input parameters, and optionally a segment index. Entries live at
// <root>/<key[0:2]>/<key>.bin with a JSON sidecar describing the stage, size,
// and digest. Writes are atomic and survive process restarts.
//
// Put is idempotent for equal content and fails with ErrCollision when the
// same key is written with different bytes. Do guarantees at most one
// in-flight generation per key: singleflight inside the process and an
// advisory flock across processes.
package artifact
