package workflow

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"reelsmith/internal/artifact"
	"reelsmith/internal/logging"
	"reelsmith/internal/runs"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
	"reelsmith/internal/stageexec"
)

type segmentResult struct {
	stage  string
	index  int
	key    artifact.Key
	hit    bool
	clip   stage.AudioClip
	images []stage.ImageAsset
	err    error
}

// cached serves call from the artifact store, running it through the stage
// runner only on a miss. slots bounds concurrent calls to one service.
func cached[T any](ctx context.Context, r *run, key artifact.Key, call stageexec.Call, slots chan struct{}, fn func(context.Context) (T, error)) (T, bool, error) {
	return artifact.DoJSON(ctx, r.o.store, key, call.Stage, func(ctx context.Context) (T, error) {
		if slots != nil {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			}
			defer func() { <-slots }()
		}
		return stageexec.Run(ctx, r.runner, call, fn)
	})
}

// generateSegments runs voice then image for every segment with bounded
// fan-out and collects results here, on the caller's goroutine. A failing
// task raises r.aborted before reporting, so no segment task starts after a
// failure; tasks already running finish both calls so their results are cached.
func (r *run) generateSegments(ctx context.Context, segments []stage.Segment) *RunFailure {
	conc := r.o.cfg.Concurrency
	voiceSlots := make(chan struct{}, max(1, conc.VoiceSlots))
	imageSlots := make(chan struct{}, max(1, conc.ImageSlots))
	results := make(chan segmentResult, 2*len(segments))

	var g errgroup.Group
	g.SetLimit(max(1, conc.Segments))
	go func() {
		defer close(results)
		for _, seg := range segments {
			seg := seg
			if r.aborted.Load() {
				break
			}
			g.Go(func() error {
				// g.Go may have blocked on the limit while another task failed.
				if r.aborted.Load() {
					return nil
				}
				r.processSegment(ctx, seg, voiceSlots, imageSlots, results)
				return nil
			})
		}
		_ = g.Wait()
	}()

	var failure *RunFailure
	voiced := 0
	for res := range results {
		logger := r.logger.With(
			logging.String(logging.FieldStage, res.stage),
			logging.Int(logging.FieldSegmentIndex, res.index),
		)
		if res.err != nil {
			f := failureFrom(res.stage, res.index, res.err)
			if failure == nil {
				failure = f
				r.aborted.Store(true)
				logger.Error("segment stage failed; draining in-flight work",
					logging.String(logging.FieldEventType, "stage_failure"),
					logging.String(logging.FieldErrorKind, string(f.Kind)),
					logging.Int("attempts", f.Attempts),
					logging.Error(res.err),
				)
			} else {
				logger.Warn("additional segment failure while draining",
					logging.String(logging.FieldErrorKind, string(f.Kind)),
					logging.Error(res.err),
				)
			}
			continue
		}

		r.state.record(res.stage, res.index, res.key, res.hit)
		switch res.stage {
		case stage.NameVoice:
			r.state.clips[res.index] = res.clip
			voiced++
			logger.Info("narration ready",
				logging.Float64("actual_seconds", res.clip.DurationSeconds),
				logging.Bool("cached", res.hit),
			)
			if voiced == len(segments) && failure == nil {
				if f := r.advance(ctx, runs.StatusImageGenerating); f != nil {
					failure = f
					r.aborted.Store(true)
				}
			}
		case stage.NameImage:
			r.state.images[res.index] = res.images
			logger.Info("images ready",
				logging.Int("images", len(res.images)),
				logging.Bool("cached", res.hit),
			)
		}
	}
	if failure != nil {
		return failure
	}
	for _, seg := range segments {
		if _, ok := r.state.clips[seg.Index]; !ok {
			return &RunFailure{Stage: stage.NameVoice, Segment: seg.Index, Kind: services.KindContractViolation, Message: "segment finished without narration"}
		}
		if len(r.state.images[seg.Index]) == 0 {
			return &RunFailure{Stage: stage.NameImage, Segment: seg.Index, Kind: services.KindContractViolation, Message: "segment finished without images"}
		}
	}
	return nil
}

func (r *run) processSegment(ctx context.Context, seg stage.Segment, voiceSlots, imageSlots chan struct{}, results chan<- segmentResult) {
	ctx = services.WithSegment(ctx, seg.Index)

	clip, res := r.voice(ctx, seg, voiceSlots)
	if res.err != nil {
		r.aborted.Store(true)
		results <- res
		return
	}
	results <- res
	res = r.images(ctx, seg, clip, imageSlots)
	if res.err != nil {
		r.aborted.Store(true)
	}
	results <- res
}

// forSegment re-stamps a stage failure with the caller's segment. Segments
// sharing a key share one generation, whose Failure names whichever segment
// started it.
func forSegment(err error, index int) error {
	f, ok := stageexec.AsFailure(err)
	if !ok || f.Segment == index || error(f) != err {
		return err
	}
	restamped := *f
	restamped.Segment = index
	return &restamped
}

func (r *run) voice(ctx context.Context, seg stage.Segment, slots chan struct{}) (stage.AudioClip, segmentResult) {
	ctx = services.WithStage(ctx, stage.NameVoice)
	out := segmentResult{stage: stage.NameVoice, index: seg.Index}
	synth := r.o.stages.Voice
	req := stage.VoiceRequest{SegmentIndex: seg.Index, Text: seg.Text}
	key, err := voiceKey(req, synth.Profile())
	if err != nil {
		out.err = err
		return stage.AudioClip{}, out
	}
	out.key = key
	call := stageexec.Call{
		RunID:   r.id,
		Stage:   stage.NameVoice,
		Segment: seg.Index,
		Key:     key.String(),
		Timeout: seconds(r.o.cfg.Voice.TimeoutSeconds),
	}
	clip, hit, err := cached(ctx, r, key, call, slots, func(ctx context.Context) (stage.AudioClip, error) {
		clip, err := synth.Synthesize(ctx, req)
		if err != nil {
			return clip, err
		}
		if len(clip.Data) == 0 {
			return clip, services.Wrap(services.ErrContractViolation, stage.NameVoice, "synthesize", "empty audio clip", nil)
		}
		if !(clip.DurationSeconds > 0) || math.IsInf(clip.DurationSeconds, 0) {
			return clip, services.Wrap(services.ErrContractViolation, stage.NameVoice, "synthesize", "clip duration must be positive", nil)
		}
		return clip, nil
	})
	if err != nil {
		out.err = forSegment(err, seg.Index)
		return stage.AudioClip{}, out
	}
	// A cached clip may have been produced for another segment with the same text.
	clip.SegmentIndex = seg.Index
	out.hit = hit
	out.clip = clip
	return clip, out
}

// images sizes the request from the clip's actual duration; the script
// estimate is advisory only.
func (r *run) images(ctx context.Context, seg stage.Segment, clip stage.AudioClip, slots chan struct{}) segmentResult {
	ctx = services.WithStage(ctx, stage.NameImage)
	out := segmentResult{stage: stage.NameImage, index: seg.Index}
	gen := r.o.stages.Images
	req := stage.ImageRequest{
		SegmentIndex:  seg.Index,
		Text:          seg.Text,
		Visual:        seg.Visual,
		TargetSeconds: clip.DurationSeconds,
		Count:         gen.ImageCount(clip.DurationSeconds),
	}
	key, err := imageKey(req, gen.Profile())
	if err != nil {
		out.err = err
		return out
	}
	out.key = key
	call := stageexec.Call{
		RunID:   r.id,
		Stage:   stage.NameImage,
		Segment: seg.Index,
		Key:     key.String(),
		Timeout: seconds(r.o.cfg.Images.TimeoutSeconds),
	}
	assets, hit, err := cached(ctx, r, key, call, slots, func(ctx context.Context) ([]stage.ImageAsset, error) {
		assets, err := gen.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(assets) == 0 {
			return nil, services.Wrap(services.ErrContractViolation, stage.NameImage, "generate", "no images returned", nil)
		}
		return assets, nil
	})
	if err != nil {
		out.err = forSegment(err, seg.Index)
		return out
	}
	for i := range assets {
		assets[i].SegmentIndex = seg.Index
	}
	out.hit = hit
	out.images = assets
	return out
}
