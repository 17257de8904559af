// Package render assembles the final video with ffmpeg.
//
// The Assembler materializes clips and images into a scratch directory,
// concatenates narration into one AAC track, feeds the images through the
// concat demuxer with the exact placement durations, and encodes an H.264 mp4
// at the configured size and frame rate. Captions and a title overlay are
// optional. Any ffmpeg failure is a rendering error: the same inputs would
// fail the same way, so callers must not retry it.
package render
