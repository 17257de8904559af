// Package runs persists run history in SQLite.
//
// The ledger has two tables: runs (one row per pipeline run, with its
// current status and, for failed runs, the stage and segment that failed)
// and attempts (every external call attempt made by the stage runner).
// Store implements stageexec.Recorder.
//
// A process that executes a run claims it with a lock file under
// <state_dir>/locks. MarkInterrupted fails any non-terminal run whose claim
// is no longer held, which is how runs abandoned by a crashed process are
// cleaned up.
package runs
