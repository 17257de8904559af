package api

import (
	"time"

	"reelsmith/internal/runs"
)

// CreateRunRequest is the body of POST /api/runs.
type CreateRunRequest struct {
	Topic           string  `json:"topic"`
	Style           string  `json:"style,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Language        string  `json:"language,omitempty"`
}

// CreateRunResponse acknowledges an accepted run.
type CreateRunResponse struct {
	RunID  string      `json:"run_id"`
	Status runs.Status `json:"status"`
	URL    string      `json:"url"`
}

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse answers GET /api/health.
type HealthResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	ActiveRuns int       `json:"active_runs"`
	Timestamp  time.Time `json:"timestamp"`
}

// RunView is the JSON form of a ledger run.
type RunView struct {
	ID            string        `json:"id"`
	Topic         string        `json:"topic"`
	Style         string        `json:"style,omitempty"`
	Status        runs.Status   `json:"status"`
	FailedStage   string        `json:"failed_stage,omitempty"`
	FailedSegment *int          `json:"failed_segment,omitempty"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	OutputPath    string        `json:"output_path,omitempty"`
	SegmentCount  int           `json:"segment_count"`
	TotalSeconds  float64       `json:"total_seconds"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Attempts      []AttemptView `json:"attempts,omitempty"`
}

// AttemptView is the JSON form of a recorded stage attempt.
type AttemptView struct {
	Stage      string    `json:"stage"`
	Segment    *int      `json:"segment,omitempty"`
	Number     int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// RunListResponse answers GET /api/runs.
type RunListResponse struct {
	Runs []RunView `json:"runs"`
}

// RunLogResponse answers GET /api/runs/:id/log. Offset resumes the next read.
type RunLogResponse struct {
	RunID  string   `json:"run_id"`
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// FromRun converts a ledger row.
func FromRun(run runs.Run) RunView {
	return RunView{
		ID:            run.ID,
		Topic:         run.Topic,
		Style:         run.Style,
		Status:        run.Status,
		FailedStage:   run.FailedStage,
		FailedSegment: segmentPtr(run.FailedSegment),
		ErrorKind:     run.ErrorKind,
		ErrorMessage:  run.ErrorMessage,
		OutputPath:    run.OutputPath,
		SegmentCount:  run.SegmentCount,
		TotalSeconds:  run.TotalSeconds,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	}
}

// FromAttempt converts a ledger attempt row.
func FromAttempt(a runs.Attempt) AttemptView {
	return AttemptView{
		Stage:      a.Stage,
		Segment:    segmentPtr(a.Segment),
		Number:     a.Number,
		Outcome:    a.Outcome,
		ErrorKind:  a.ErrorKind,
		Error:      a.Error,
		StartedAt:  a.StartedAt,
		DurationMS: a.Duration.Milliseconds(),
	}
}

func segmentPtr(index int) *int {
	if index < 0 {
		return nil
	}
	return &index
}
