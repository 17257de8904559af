package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelsmith/internal/artifact"
	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
	"reelsmith/internal/render"
	"reelsmith/internal/runs"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
	"reelsmith/internal/stageexec"
)

// Renderer turns a finished timeline into a video file.
type Renderer interface {
	Render(context.Context, render.Request) (string, error)
}

// Stages bundles the adapters a run calls out to.
type Stages struct {
	Script   stage.ScriptWriter
	Voice    stage.VoiceSynthesizer
	Images   stage.ImageGenerator
	Renderer Renderer
}

// Orchestrator runs topics through the pipeline.
type Orchestrator struct {
	cfg      *config.Config
	store    *artifact.Store
	stages   Stages
	ledger   *runs.Store
	notifier notifications.Service
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
	newID    func() string
	now      func() time.Time
}

// Option configures optional Orchestrator behavior.
type Option func(*Orchestrator)

// WithLedger records runs and attempts in the SQLite ledger.
func WithLedger(ledger *runs.Store) Option {
	return func(o *Orchestrator) { o.ledger = ledger }
}

// WithNotifier overrides the notifier built from config.
func WithNotifier(n notifications.Service) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSleep replaces the backoff wait between attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithIDGenerator replaces uuid run IDs.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New constructs an Orchestrator. Every stage adapter is required.
func New(cfg *config.Config, store *artifact.Store, stages Stages, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "init", "config is required", nil)
	}
	if store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "init", "artifact store is required", nil)
	}
	var missing []string
	if stages.Script == nil {
		missing = append(missing, stage.NameScript)
	}
	if stages.Voice == nil {
		missing = append(missing, stage.NameVoice)
	}
	if stages.Images == nil {
		missing = append(missing, stage.NameImage)
	}
	if stages.Renderer == nil {
		missing = append(missing, stage.NameAssembly)
	}
	if len(missing) > 0 {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "init", "missing stage adapters: "+strings.Join(missing, ", "), nil)
	}

	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		stages:   stages,
		notifier: notifications.NewService(cfg),
		logger:   logging.NewNop(),
		sleep:    stageexec.SleepContext,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "workflow")
	return o, nil
}

// NewRunID returns an ID for a run that has not started yet.
func (o *Orchestrator) NewRunID() string { return o.newID() }

// Request describes one video run.
type Request struct {
	// RunID is optional; callers that must hand out the ID before the run
	// starts (the HTTP API) set it.
	RunID         string
	Topic         string
	Style         string
	TargetSeconds float64
	Language      string
}

// Result summarizes a finished run.
type Result struct {
	RunID         string        `json:"run_id"`
	Status        runs.Status   `json:"status"`
	Topic         string        `json:"topic"`
	Title         string        `json:"title,omitempty"`
	OutputPath    string        `json:"output_path,omitempty"`
	Segments      int           `json:"segments"`
	TotalSeconds  float64       `json:"total_seconds"`
	CachedOutputs int           `json:"cached_outputs"`
	ResumedFrom   string        `json:"resumed_from,omitempty"`
	Failure       *RunFailure   `json:"failure,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
}

func (o *Orchestrator) scriptRequest(req Request) stage.ScriptRequest {
	out := stage.ScriptRequest{
		Topic:         strings.TrimSpace(req.Topic),
		TargetSeconds: req.TargetSeconds,
		Style:         strings.ToLower(strings.TrimSpace(req.Style)),
		Language:      strings.TrimSpace(req.Language),
	}
	if out.TargetSeconds <= 0 {
		out.TargetSeconds = o.cfg.Script.TargetDurationSeconds
	}
	if out.Style == "" {
		out.Style = o.cfg.Script.Style
	}
	if out.Language == "" {
		out.Language = o.cfg.Script.Language
	}
	return out
}

// Run executes one topic to completion. A failed run returns the partial
// Result together with a *RunFailure naming the stage and segment.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	scriptReq := o.scriptRequest(req)
	if scriptReq.Topic == "" {
		return Result{}, services.Wrap(services.ErrFatalInput, "workflow", "run", "topic is required", nil)
	}
	fingerprint, err := runKey(scriptReq, o.stages)
	if err != nil {
		return Result{}, err
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = o.newID()
	}

	ctx = services.WithRunID(ctx, runID)
	logger, closer := o.runLogger(runID)
	defer closer.Close()

	r := &run{
		o:       o,
		id:      runID,
		req:     scriptReq,
		key:     fingerprint,
		state:   newRunState(runID, scriptReq.Topic, fingerprint),
		logger:  logging.WithContext(ctx, logger),
		started: o.now(),
	}
	r.runner = &stageexec.Runner{
		MaxAttempts: o.cfg.Retry.MaxAttempts,
		BaseDelay:   o.cfg.RetryBaseDelay(),
		MaxDelay:    o.cfg.RetryMaxDelay(),
		Logger:      r.logger,
		Sleep:       o.sleep,
	}
	if o.ledger != nil {
		r.runner.Recorder = o.ledger
	}

	release := r.begin(ctx)
	defer release()

	failure := r.execute(ctx)
	return r.finish(ctx, failure)
}

func (o *Orchestrator) runLogger(runID string) (*slog.Logger, io.Closer) {
	logger, closer, err := logging.OpenRunLogger(o.logger, o.cfg.Paths.StateDir, runID, o.cfg.Logging.Level)
	if err != nil {
		o.logger.Warn("run log unavailable; continuing with shared log",
			logging.String(logging.FieldRunID, runID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "run_log_unavailable"),
			logging.String(logging.FieldImpact, "no per-run log file"),
		)
	}
	return logger, closer
}

// failureFrom types err for the run report. Failures raised by the stage
// runner carry their own stage, segment, and attempt count.
func failureFrom(stageName string, segment int, err error) *RunFailure {
	if err == nil {
		return nil
	}
	var existing *RunFailure
	if errors.As(err, &existing) {
		return existing
	}
	out := &RunFailure{Stage: stageName, Segment: segment, Kind: services.KindOf(err), Err: err}
	if f, ok := stageexec.AsFailure(err); ok {
		out.Stage = f.Stage
		out.Segment = f.Segment
		out.Kind = f.Kind
		out.Attempts = f.Attempts
	}
	if out.Kind == services.KindUnknown && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		out.Kind = services.KindCanceled
	}
	details := services.Details(err)
	out.Message = details.Message
	if details.Cause != nil && !strings.Contains(out.Message, details.Cause.Error()) {
		out.Message += ": " + details.Cause.Error()
	}
	return out
}
