package workflow

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"reelsmith/internal/artifact"
	"reelsmith/internal/runs"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

// ErrIllegalTransition is returned when a status change skips or reverses
// the run lifecycle.
var ErrIllegalTransition = errors.New("illegal run transition")

var transitions = map[runs.Status][]runs.Status{
	runs.StatusPending:          {runs.StatusScriptGenerating},
	runs.StatusScriptGenerating: {runs.StatusVoiceGenerating},
	runs.StatusVoiceGenerating:  {runs.StatusImageGenerating},
	runs.StatusImageGenerating:  {runs.StatusAssembling},
	runs.StatusAssembling:       {runs.StatusSucceeded},
}

// CanTransition reports whether a run may move from one status to another.
// Failed is reachable from every non-terminal status.
func CanTransition(from, to runs.Status) bool {
	if from.Terminal() {
		return false
	}
	if to == runs.StatusFailed {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// Output records one completed stage output.
type Output struct {
	Stage   string `json:"stage"`
	Segment int    `json:"segment_index"`
	Key     string `json:"key"`
	Cached  bool   `json:"cached"`
}

// RunFailure is the typed end of a failed run. Segment is -1 for stages that
// are not bound to a segment.
type RunFailure struct {
	Stage    string        `json:"stage"`
	Segment  int           `json:"segment_index"`
	Kind     services.Kind `json:"kind"`
	Attempts int           `json:"attempts,omitempty"`
	Message  string        `json:"message"`

	Err error `json:"-"`
}

func (f *RunFailure) Error() string {
	return fmt.Sprintf("run failed at %s (%s): %s", f.Where(), f.Kind, f.Message)
}

func (f *RunFailure) Unwrap() error { return f.Err }

// Where names the failing stage and segment.
func (f *RunFailure) Where() string {
	if f.Segment >= 0 {
		return fmt.Sprintf("%s segment %d", f.Stage, f.Segment)
	}
	return f.Stage
}

// RunState is the orchestrator's view of a run. Clips and images stay in
// memory; the persisted form references them by artifact key.
type RunState struct {
	RunID       string        `json:"run_id"`
	Topic       string        `json:"topic"`
	Fingerprint string        `json:"fingerprint"`
	Status      runs.Status   `json:"status"`
	Script      *stage.Script `json:"script,omitempty"`
	Outputs     []Output      `json:"outputs"`
	Failure     *RunFailure   `json:"failure,omitempty"`
	OutputPath  string        `json:"output_path,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`

	clips  map[int]stage.AudioClip
	images map[int][]stage.ImageAsset
}

func newRunState(runID, topic string, fingerprint artifact.Key) *RunState {
	return &RunState{
		RunID:       runID,
		Topic:       topic,
		Fingerprint: fingerprint.String(),
		Status:      runs.StatusPending,
		clips:       make(map[int]stage.AudioClip),
		images:      make(map[int][]stage.ImageAsset),
	}
}

func (s *RunState) transition(to runs.Status, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}

func (s *RunState) record(stageName string, segment int, key artifact.Key, cached bool) {
	s.Outputs = append(s.Outputs, Output{Stage: stageName, Segment: segment, Key: key.String(), Cached: cached})
}

// Completed reports whether stageName finished for segment.
func (s *RunState) Completed(stageName string, segment int) bool {
	return slices.ContainsFunc(s.Outputs, func(o Output) bool {
		return o.Stage == stageName && o.Segment == segment
	})
}

// CachedOutputs counts outputs served from the artifact store.
func (s *RunState) CachedOutputs() int {
	n := 0
	for _, o := range s.Outputs {
		if o.Cached {
			n++
		}
	}
	return n
}
