package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

const (
	defaultMaxAttempts = 3
	defaultMaxDelay    = 30 * time.Second
)

// Outcome labels a recorded attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeRetry   Outcome = "retry"
	OutcomeFailed  Outcome = "failed"
)

// Call identifies the external call being wrapped.
type Call struct {
	RunID   string
	Stage   string
	Segment int // -1 when the call is not bound to a segment
	Key     string
	// Timeout overrides the runner default for this call.
	Timeout time.Duration
}

// Attempt is one recorded try of a Call.
type Attempt struct {
	RunID     string
	Stage     string
	Segment   int
	Key       string
	Number    int
	Outcome   Outcome
	ErrorKind services.Kind
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Recorder persists attempts for observability.
type Recorder interface {
	RecordAttempt(context.Context, Attempt) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(context.Context, Attempt) error

func (f RecorderFunc) RecordAttempt(ctx context.Context, a Attempt) error { return f(ctx, a) }

// Failure is the typed result of a call that did not succeed.
type Failure struct {
	Stage    string
	Segment  int
	Kind     services.Kind
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	where := f.Stage
	if f.Segment >= 0 {
		where = fmt.Sprintf("%s segment %d", f.Stage, f.Segment)
	}
	return fmt.Sprintf("%s failed after %d attempt(s) (%s): %v", where, f.Attempts, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts a Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

// Runner wraps external calls with a per-attempt timeout and capped
// exponential backoff. It never decides run-level consequences.
type Runner struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
	Recorder    Recorder
	Logger      *slog.Logger
	// Sleep waits between attempts; tests replace it.
	Sleep func(context.Context, time.Duration) error
	// now is replaceable for tests within the package.
	now func() time.Time
}

// Run executes fn under r's policy. On success it returns fn's value; on
// failure the error is always a *Failure.
func Run[T any](ctx context.Context, r *Runner, call Call, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if r == nil {
		r = &Runner{}
	}
	attempts := r.maxAttempts()
	logger := logging.WithContext(ctx, r.logger())

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, r.fail(call, services.KindCanceled, attempt-1, err)
		}
		started := r.clock()
		value, err := invoke(ctx, r.timeoutFor(call), call, fn)
		elapsed := r.clock().Sub(started)

		if err == nil {
			r.record(ctx, logger, call, attempt, OutcomeSuccess, nil, started, elapsed)
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			r.record(ctx, logger, call, attempt, OutcomeFailed, err, started, elapsed)
			return zero, r.fail(call, services.KindCanceled, attempt, err)
		}
		if !services.Retryable(err) || attempt == attempts {
			r.record(ctx, logger, call, attempt, OutcomeFailed, err, started, elapsed)
			kind := services.KindOf(err)
			if kind == services.KindUnknown {
				kind = services.KindFatalInput
			}
			return zero, r.fail(call, kind, attempt, err)
		}

		r.record(ctx, logger, call, attempt, OutcomeRetry, err, started, elapsed)
		delay := r.delayFor(attempt, err)
		logger.Info("stage call retrying",
			logging.String(logging.FieldEventType, "stage_retry"),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return zero, r.fail(call, services.KindCanceled, attempt, err)
		}
	}
	return zero, r.fail(call, services.KindOf(lastErr), attempts, lastErr)
}

// invoke runs one attempt with the per-attempt timeout, converting panics into
// contract violations and attempt deadlines into timeouts.
func invoke[T any](ctx context.Context, timeout time.Duration, call Call, fn func(context.Context) (T, error)) (value T, err error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			err = services.Wrap(services.ErrContractViolation, call.Stage, "call",
				fmt.Sprintf("panic: %v", recovered), errors.New(string(debug.Stack())))
		}
	}()
	value, err = fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		if services.KindOf(err) != services.KindTransient {
			err = services.Wrap(services.ErrTimeout, call.Stage, "call", fmt.Sprintf("attempt exceeded %s", timeout), err)
		}
	}
	return value, err
}

func (r *Runner) fail(call Call, kind services.Kind, attempts int, err error) *Failure {
	return &Failure{Stage: call.Stage, Segment: call.Segment, Kind: kind, Attempts: attempts, Err: err}
}

func (r *Runner) record(ctx context.Context, logger *slog.Logger, call Call, number int, outcome Outcome, err error, started time.Time, elapsed time.Duration) {
	attempt := Attempt{
		RunID:     call.RunID,
		Stage:     call.Stage,
		Segment:   call.Segment,
		Key:       call.Key,
		Number:    number,
		Outcome:   outcome,
		StartedAt: started.UTC(),
		Duration:  elapsed,
	}
	if err != nil {
		attempt.ErrorKind = services.KindOf(err)
		attempt.Error = err.Error()
	}
	logger.Debug("stage attempt recorded",
		logging.Int("attempt", number),
		logging.String("outcome", string(outcome)),
		logging.Duration("attempt_duration", elapsed),
	)
	if r.Recorder == nil {
		return
	}
	// Recording uses a context detached from cancellation so a canceled run
	// still records its last attempt.
	if recErr := r.Recorder.RecordAttempt(context.WithoutCancel(ctx), attempt); recErr != nil {
		logging.WarnWithContext(logger, "attempt not recorded", "attempt_record_failed",
			logging.Error(recErr),
			logging.String(logging.FieldImpact, "run history is missing an attempt"),
		)
	}
}

// delayFor returns base*2^(attempt-1) capped at MaxDelay, or the server's
// Retry-After hint when one was given.
func (r *Runner) delayFor(attempt int, err error) time.Duration {
	maxDelay := r.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if hint := services.RetryAfterHint(err); hint > 0 {
		return min(hint, maxDelay)
	}
	delay := max(r.BaseDelay, 0)
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	return min(delay, maxDelay)
}

func (r *Runner) timeoutFor(call Call) time.Duration {
	if call.Timeout > 0 {
		return call.Timeout
	}
	return r.Timeout
}

func (r *Runner) maxAttempts() int {
	if r.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return r.MaxAttempts
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return logging.NewNop()
	}
	return r.Logger
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Runner) sleep(ctx context.Context, delay time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, delay)
	}
	return SleepContext(ctx, delay)
}

// SleepContext waits for delay or until ctx is done.
func SleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
