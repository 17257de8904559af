package workflow

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"reelsmith/internal/artifact"
	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
	"reelsmith/internal/render"
	"reelsmith/internal/runs"
	"reelsmith/internal/script"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
	"reelsmith/internal/stageexec"
	"reelsmith/internal/timeline"
)

// run carries one execution. Only the goroutine that called Orchestrator.Run
// touches state; segment workers report through a channel.
type run struct {
	o       *Orchestrator
	id      string
	req     stage.ScriptRequest
	key     artifact.Key
	state   *RunState
	record  *runs.Run
	logger  *slog.Logger
	runner  *stageexec.Runner
	started time.Time
	resumed string

	// aborted stops new segment tasks once a fatal failure has been seen.
	aborted atomic.Bool
}

// begin registers the run in the ledger, claims it, and looks for state left
// by an earlier attempt at the same topic.
func (r *run) begin(ctx context.Context) func() {
	r.resume(ctx)

	release := func() {}
	if ledger := r.o.ledger; ledger != nil {
		r.record = &runs.Run{
			ID:            r.id,
			Topic:         r.req.Topic,
			Style:         r.req.Style,
			Fingerprint:   r.key.String(),
			Status:        runs.StatusPending,
			FailedSegment: -1,
		}
		if err := ledger.Create(context.WithoutCancel(ctx), r.record); err != nil {
			r.logger.Warn("run ledger insert failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "ledger_write_failed"),
				logging.String(logging.FieldImpact, "run will not appear in run history"),
			)
			r.record = nil
		} else if unlock, err := ledger.Claim(r.id); err != nil {
			r.logger.Warn("run claim failed", logging.Error(err))
		} else {
			release = unlock
		}
	}

	r.logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("topic", r.req.Topic),
		logging.String("style", r.req.Style),
		logging.Float64("target_seconds", r.req.TargetSeconds),
		logging.String("fingerprint", r.key.Short()),
	)
	r.notify(ctx, notifications.EventRunStarted, notifications.Payload{"topic": r.req.Topic})
	return release
}

func (r *run) resume(ctx context.Context) {
	var prior RunState
	found, err := r.o.store.GetJSON(ctx, r.key, &prior)
	if err != nil {
		r.logger.Warn("previous run state unreadable", logging.Error(err))
		return
	}
	if !found && r.o.ledger != nil {
		if latest, err := r.o.ledger.LatestByFingerprint(ctx, r.key.String()); err == nil && latest != nil {
			r.resumed = latest.ID
			r.logger.Info("previous run found in ledger",
				logging.String("previous_run_id", latest.ID),
				logging.String("previous_status", string(latest.Status)),
			)
		}
		return
	}
	if !found {
		return
	}
	r.resumed = prior.RunID
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_resume"),
		logging.String("previous_run_id", prior.RunID),
		logging.String("previous_status", string(prior.Status)),
		logging.Int("completed_outputs", len(prior.Outputs)),
	}
	if prior.Failure != nil {
		attrs = append(attrs, logging.String("previous_failure", prior.Failure.Where()))
	}
	r.logger.Info("resuming from cached artifacts", logging.Args(attrs...)...)
}

// advance moves the run to the next status and mirrors it to the ledger.
func (r *run) advance(ctx context.Context, to runs.Status) *RunFailure {
	from := r.state.Status
	if err := r.state.transition(to, r.o.now()); err != nil {
		return &RunFailure{Stage: "workflow", Segment: -1, Kind: services.KindContractViolation, Message: err.Error(), Err: err}
	}
	r.logger.Debug("run status changed",
		logging.String("from", string(from)),
		logging.String("to", string(to)),
	)
	r.syncLedger(ctx)
	return nil
}

func (r *run) syncLedger(ctx context.Context) {
	if r.record == nil {
		return
	}
	r.record.Status = r.state.Status
	r.record.OutputPath = r.state.OutputPath
	if r.state.Script != nil {
		r.record.SegmentCount = len(r.state.Script.Segments)
	}
	if f := r.state.Failure; f != nil {
		r.record.FailedStage = f.Stage
		r.record.FailedSegment = f.Segment
		r.record.ErrorKind = string(f.Kind)
		r.record.ErrorMessage = f.Message
	}
	// The ledger write must land even when the run was canceled.
	if err := r.o.ledger.Update(context.WithoutCancel(ctx), r.record); err != nil {
		r.logger.Warn("run ledger update failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "ledger_write_failed"),
			logging.String(logging.FieldImpact, "run history shows a stale status"),
		)
	}
}

func (r *run) execute(ctx context.Context) *RunFailure {
	if f := r.advance(ctx, runs.StatusScriptGenerating); f != nil {
		return f
	}
	sc, f := r.writeScript(ctx)
	if f != nil {
		return f
	}
	r.state.Script = &sc

	if f := r.advance(ctx, runs.StatusVoiceGenerating); f != nil {
		return f
	}
	if f := r.generateSegments(ctx, sc.Segments); f != nil {
		return f
	}

	if f := r.advance(ctx, runs.StatusAssembling); f != nil {
		return f
	}
	tl, f := r.buildTimeline(sc.Segments)
	if f != nil {
		return f
	}
	if r.record != nil {
		r.record.TotalSeconds = tl.TotalSeconds
	}
	path, f := r.render(ctx, sc, tl)
	if f != nil {
		return f
	}
	r.state.OutputPath = path
	return r.advance(ctx, runs.StatusSucceeded)
}

func (r *run) writeScript(ctx context.Context) (stage.Script, *RunFailure) {
	ctx = services.WithStage(ctx, stage.NameScript)
	writer := r.o.stages.Script
	key, err := scriptKey(r.req, writer.Profile())
	if err != nil {
		return stage.Script{}, failureFrom(stage.NameScript, -1, err)
	}
	call := stageexec.Call{
		RunID:   r.id,
		Stage:   stage.NameScript,
		Segment: -1,
		Key:     key.String(),
		Timeout: seconds(r.o.cfg.Script.TimeoutSeconds),
	}
	sc, hit, err := cached(ctx, r, key, call, nil, func(ctx context.Context) (stage.Script, error) {
		out, err := writer.WriteScript(ctx, r.req)
		if err != nil {
			return out, err
		}
		return out, script.Validate(out)
	})
	if err != nil {
		return stage.Script{}, failureFrom(stage.NameScript, -1, err)
	}
	r.state.record(stage.NameScript, -1, key, hit)
	r.logger.Info("script ready",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String(logging.FieldStage, stage.NameScript),
		logging.String("title", sc.Title),
		logging.Int("segments", len(sc.Segments)),
		logging.Float64("estimated_seconds", sc.EstimatedSeconds()),
		logging.Bool("cached", hit),
	)
	return sc, nil
}

func (r *run) buildTimeline(segments []stage.Segment) (timeline.Timeline, *RunFailure) {
	clips := make([]stage.AudioClip, len(segments))
	images := make([][]stage.ImageAsset, len(segments))
	for i, seg := range segments {
		clips[i] = r.state.clips[seg.Index]
		images[i] = r.state.images[seg.Index]
	}
	tl, err := timeline.Build(segments, clips, images)
	if err != nil {
		return timeline.Timeline{}, failureFrom(stage.NameTimeline, -1, err)
	}
	r.logger.Info("timeline built",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String(logging.FieldStage, stage.NameTimeline),
		logging.Int("placements", len(tl.Placements)),
		logging.Float64("total_seconds", tl.TotalSeconds),
	)
	return tl, nil
}

// render is attempted once: re-encoding identical input will not change the
// outcome.
func (r *run) render(ctx context.Context, sc stage.Script, tl timeline.Timeline) (string, *RunFailure) {
	ctx = services.WithStage(ctx, stage.NameAssembly)
	runner := *r.runner
	runner.MaxAttempts = 1
	call := stageexec.Call{RunID: r.id, Stage: stage.NameAssembly, Segment: -1}
	req := render.Request{RunID: r.id, Title: sc.Title, Topic: r.req.Topic, Timeline: tl}
	path, err := stageexec.Run(ctx, &runner, call, func(ctx context.Context) (string, error) {
		return r.o.stages.Renderer.Render(ctx, req)
	})
	if err != nil {
		return "", failureFrom(stage.NameAssembly, -1, err)
	}
	return path, nil
}

func (r *run) finish(ctx context.Context, failure *RunFailure) (Result, error) {
	result := Result{
		RunID:       r.id,
		Topic:       r.req.Topic,
		ResumedFrom: r.resumed,
	}
	if sc := r.state.Script; sc != nil {
		result.Title = sc.Title
		result.Segments = len(sc.Segments)
	}
	if r.record != nil {
		result.TotalSeconds = r.record.TotalSeconds
	}

	// Terminal bookkeeping must survive a canceled parent.
	ctx = context.WithoutCancel(ctx)
	if failure != nil {
		r.state.Failure = failure
		if !r.state.Status.Terminal() {
			_ = r.state.transition(runs.StatusFailed, r.o.now())
		}
		r.syncLedger(ctx)
	}
	r.persist(ctx)

	result.Status = r.state.Status
	result.OutputPath = r.state.OutputPath
	result.CachedOutputs = r.state.CachedOutputs()
	result.Failure = failure
	result.Elapsed = r.o.now().Sub(r.started)

	if failure != nil {
		details := services.Details(failure.Err)
		r.logger.Error("run failed",
			logging.String(logging.FieldEventType, "run_failed"),
			logging.String(logging.FieldStage, failure.Stage),
			logging.Int(logging.FieldSegmentIndex, failure.Segment),
			logging.String(logging.FieldErrorKind, string(failure.Kind)),
			logging.String(logging.FieldErrorHint, hintFor(failure.Kind)),
			logging.Int("attempts", failure.Attempts),
			logging.String("error_operation", details.Operation),
			logging.String("error_message", failure.Message),
			logging.Int("cached_outputs", result.CachedOutputs),
		)
		r.notify(ctx, notifications.EventRunFailed, notifications.Payload{
			"topic":   r.req.Topic,
			"stage":   failure.Stage,
			"segment": failure.Segment,
			"error":   failure.Message,
		})
		return result, failure
	}

	r.logger.Info("run succeeded",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("output", result.OutputPath),
		logging.Float64("total_seconds", result.TotalSeconds),
		logging.Int("cached_outputs", result.CachedOutputs),
		logging.Duration("elapsed", result.Elapsed),
	)
	r.notify(ctx, notifications.EventRunSucceeded, notifications.Payload{
		"title":    result.Title,
		"topic":    r.req.Topic,
		"output":   result.OutputPath,
		"duration": result.Elapsed,
	})
	return result, nil
}

// persist stores RunState under the run fingerprint so the next attempt at
// this topic can report what was already done.
func (r *run) persist(ctx context.Context) {
	r.state.UpdatedAt = r.o.now()
	if err := r.o.store.Overwrite(ctx, r.key, stageRun, r.state); err != nil {
		r.logger.Warn("run state not persisted",
			logging.Error(err),
			logging.String(logging.FieldEventType, "run_state_persist_failed"),
			logging.String(logging.FieldImpact, "a rerun cannot report the previous failure"),
		)
	}
}

func (r *run) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := r.o.notifier.Publish(ctx, event, payload); err != nil {
		r.logger.Warn("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

func hintFor(kind services.Kind) string {
	switch kind {
	case services.KindTransient:
		return "service kept failing; rerun the same topic to resume from cache"
	case services.KindFatalInput:
		return "check credentials, quota, and the topic text"
	case services.KindContractViolation:
		return "a stage returned unusable output; rerun or change the model"
	case services.KindResource:
		return "check disk space and directory permissions"
	case services.KindRendering:
		return "inspect the run log for ffmpeg output"
	case services.KindConfiguration:
		return "run reelsmith doctor"
	case services.KindCanceled:
		return "run was canceled; rerun to resume"
	default:
		return ""
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
