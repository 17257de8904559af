package runs

import "time"

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending          Status = "pending"
	StatusScriptGenerating Status = "script_generating"
	StatusVoiceGenerating  Status = "voice_generating"
	StatusImageGenerating  Status = "image_generating"
	StatusAssembling       Status = "assembling"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Run is one row of the runs table.
type Run struct {
	ID          string
	Topic       string
	Style       string
	Fingerprint string
	Status      Status
	FailedStage string
	// FailedSegment is -1 when the failure is not tied to a segment.
	FailedSegment int
	ErrorKind     string
	ErrorMessage  string
	OutputPath    string
	SegmentCount  int
	TotalSeconds  float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Attempt is one row of the attempts table.
type Attempt struct {
	ID        int64
	RunID     string
	Stage     string
	Segment   int
	Key       string
	Number    int
	Outcome   string
	ErrorKind string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}
