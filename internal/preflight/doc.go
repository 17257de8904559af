// Package preflight provides readiness checks for the binaries, directories,
// credentials, and external services reelsmith depends on.
//
// These checks run in two contexts:
//   - `reelsmith generate` calls RunAll before starting a run so a missing
//     ffmpeg or a full disk fails fast instead of after paid API calls.
//   - `reelsmith doctor` prints every result, including live service probes
//     via CheckService.
package preflight
