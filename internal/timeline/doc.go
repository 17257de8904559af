// Package timeline schedules images against narration.
//
// Build walks segments in index order with a running cursor. A segment's
// actual clip duration is split evenly across its images, quantized to whole
// milliseconds, and the last image absorbs the remainder so the segment's
// placements sum to the clip duration exactly. After construction the cursor
// must equal the total narration length; any drift is a contract violation
// and is never corrected silently.
package timeline
