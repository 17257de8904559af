// Package imagery implements the image stage. The number of illustrations
// for a segment is derived from the actual narration duration so no single
// still stays on screen longer than images.max_seconds_per_image.
package imagery
