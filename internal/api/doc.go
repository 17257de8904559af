// Package api serves the HTTP interface used by `reelsmith serve`: run
// submission, the run ledger, and per-run logs.
//
// Runs are started asynchronously: POST /api/runs answers 202 with the run ID
// and the run continues on the server's context, so a client disconnect never
// abandons paid work. Everything under /api except /api/health requires the
// bearer token from api.token when one is configured.
package api
