package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"reelsmith/internal/config"
	"reelsmith/internal/stageexec"
)

// ErrClaimed is returned by Claim when another process holds the run.
var ErrClaimed = errors.New("run is claimed by another process")

// ErrAmbiguous is returned by Find when a prefix matches several runs.
var ErrAmbiguous = errors.New("run id prefix is ambiguous")

// Store manages run persistence backed by SQLite.
type Store struct {
	db      *sql.DB
	path    string
	lockDir string
	now     func() time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const runColumns = "id, topic, style, fingerprint, status, failed_stage, failed_segment, error_kind, error_message, output_path, segment_count, total_seconds, created_at, updated_at"

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the run ledger in the state directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.LedgerPath())
}

// OpenPath opens the ledger at an explicit database path. Run claims live in
// a locks directory next to it.
func OpenPath(dbPath string) (*Store, error) {
	lockDir := filepath.Join(filepath.Dir(dbPath), "locks")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, lockDir: lockDir, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) timestamp() time.Time { return s.now().UTC() }

// Create inserts a new run. CreatedAt and UpdatedAt are set by the store.
func (s *Store) Create(ctx context.Context, run *Run) error {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	if run.Status == "" {
		run.Status = StatusPending
	}
	now := s.timestamp()
	run.CreatedAt = now
	run.UpdatedAt = now
	_, err := s.exec(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Topic, nullableString(run.Style), run.Fingerprint, string(run.Status),
		nullableString(run.FailedStage), nullableSegment(run.FailedSegment),
		nullableString(run.ErrorKind), nullableString(run.ErrorMessage), nullableString(run.OutputPath),
		run.SegmentCount, run.TotalSeconds,
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Update persists every mutable column of run.
func (s *Store) Update(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	run.UpdatedAt = s.timestamp()
	res, err := s.exec(ctx,
		`UPDATE runs
         SET status = ?, style = ?, failed_stage = ?, failed_segment = ?, error_kind = ?,
             error_message = ?, output_path = ?, segment_count = ?, total_seconds = ?, updated_at = ?
         WHERE id = ?`,
		string(run.Status), nullableString(run.Style), nullableString(run.FailedStage),
		nullableSegment(run.FailedSegment), nullableString(run.ErrorKind),
		nullableString(run.ErrorMessage), nullableString(run.OutputPath),
		run.SegmentCount, run.TotalSeconds, formatTime(run.UpdatedAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: not found", run.ID)
	}
	return nil
}

// Get fetches a run by id. It returns nil, nil when the run does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Find resolves a full id or a unique id prefix.
func (s *Store) Find(ctx context.Context, idOrPrefix string) (*Run, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return nil, nil
	}
	if run, err := s.Get(ctx, idOrPrefix); run != nil || err != nil {
		return run, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id LIKE ? ESCAPE '\' ORDER BY created_at DESC LIMIT 2`,
		escapeLike(idOrPrefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}
	defer rows.Close()
	matches, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguous, idOrPrefix)
	}
}

// LatestByFingerprint returns the most recent run with the given fingerprint.
func (s *Store) LatestByFingerprint(ctx context.Context, fingerprint string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE fingerprint = ? ORDER BY created_at DESC LIMIT 1`, fingerprint)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run by fingerprint: %w", err)
	}
	return run, nil
}

// ListOptions filters List.
type ListOptions struct {
	Limit    int
	Statuses []Status
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := make([]any, 0, len(opts.Statuses)+1)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// RecordAttempt implements stageexec.Recorder.
func (s *Store) RecordAttempt(ctx context.Context, a stageexec.Attempt) error {
	_, err := s.exec(ctx,
		`INSERT INTO attempts (run_id, stage, segment_index, artifact_key, attempt, outcome, error_kind, error_message, started_at, duration_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Stage, nullableSegment(a.Segment), nullableString(a.Key), a.Number, string(a.Outcome),
		nullableString(string(a.ErrorKind)), nullableString(a.Error),
		formatTime(a.StartedAt), a.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Attempts returns the attempts recorded for a run in call order.
func (s *Store) Attempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, segment_index, artifact_key, attempt, outcome, error_kind, error_message, started_at, duration_ms
         FROM attempts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a          Attempt
			segment    sql.NullInt64
			key        sql.NullString
			errorKind  sql.NullString
			errorMsg   sql.NullString
			startedRaw string
			durationMS int64
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.Stage, &segment, &key, &a.Number, &a.Outcome,
			&errorKind, &errorMsg, &startedRaw, &durationMS); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Segment = segmentValue(segment)
		a.Key = key.String
		a.ErrorKind = errorKind.String
		a.Error = errorMsg.String
		a.StartedAt = parseTime(startedRaw)
		a.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

// Claim marks the run as owned by this process until release is called.
func (s *Store) Claim(id string) (release func(), err error) {
	lock := flock.New(s.claimPath(id))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("claim run %s: %w", id, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrClaimed, id)
	}
	return func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}, nil
}

func (s *Store) claimPath(id string) string {
	return filepath.Join(s.lockDir, filepath.Base(id)+".lock")
}

// MarkInterrupted fails every non-terminal run whose claim is not held by a
// live process and returns how many runs were changed.
func (s *Store) MarkInterrupted(ctx context.Context) (int, error) {
	active, err := s.List(ctx, ListOptions{Statuses: []Status{
		StatusPending, StatusScriptGenerating, StatusVoiceGenerating, StatusImageGenerating, StatusAssembling,
	}})
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range active {
		run := &active[i]
		release, err := s.Claim(run.ID)
		if errors.Is(err, ErrClaimed) {
			continue
		}
		if err != nil {
			return changed, err
		}
		// The owner may have finished between List and Claim.
		current, err := s.Get(ctx, run.ID)
		if err != nil || current == nil || current.Status.Terminal() {
			release()
			if err != nil {
				return changed, err
			}
			continue
		}
		run = current
		run.FailedStage = stageForStatus(run.Status)
		run.FailedSegment = -1
		run.Status = StatusFailed
		run.ErrorKind = "interrupted"
		run.ErrorMessage = "process exited before the run finished"
		updateErr := s.Update(ctx, run)
		release()
		if updateErr != nil {
			return changed, updateErr
		}
		changed++
	}
	return changed, nil
}

func stageForStatus(status Status) string {
	switch status {
	case StatusScriptGenerating:
		return "script"
	case StatusVoiceGenerating:
		return "voice"
	case StatusImageGenerating:
		return "image"
	case StatusAssembling:
		return "assembly"
	default:
		return ""
	}
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run           Run
		style         sql.NullString
		status        string
		failedStage   sql.NullString
		failedSegment sql.NullInt64
		errorKind     sql.NullString
		errorMessage  sql.NullString
		outputPath    sql.NullString
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(&run.ID, &run.Topic, &style, &run.Fingerprint, &status, &failedStage, &failedSegment,
		&errorKind, &errorMessage, &outputPath, &run.SegmentCount, &run.TotalSeconds, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	run.Style = style.String
	run.Status = Status(status)
	run.FailedStage = failedStage.String
	run.FailedSegment = segmentValue(failedSegment)
	run.ErrorKind = errorKind.String
	run.ErrorMessage = errorMessage.String
	run.OutputPath = outputPath.String
	run.CreatedAt = parseTime(createdRaw)
	run.UpdatedAt = parseTime(updatedRaw)
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]Run, error) {
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableSegment(index int) any {
	if index < 0 {
		return nil
	}
	return index
}

func segmentValue(v sql.NullInt64) int {
	if !v.Valid {
		return -1
	}
	return int(v.Int64)
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func escapeLike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}
