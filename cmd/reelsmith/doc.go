// Command reelsmith turns a topic into a narrated tutorial video and manages
// the runs, cache, and HTTP API around that pipeline.
package main
