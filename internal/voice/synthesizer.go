package voice

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/media/ffprobe"
	"reelsmith/internal/services"
	"reelsmith/internal/services/elevenlabs"
	"reelsmith/internal/stage"
)

type speaker interface {
	Synthesize(ctx context.Context, text, voiceID string) (elevenlabs.Speech, error)
}

// Synthesizer is the voice stage adapter.
type Synthesizer struct {
	client        speaker
	voiceID       string
	modelID       string
	outputFormat  string
	stability     float64
	similarity    float64
	maxChars      int
	ffprobeBinary string
	probe         ffprobe.Runner
	logger        *slog.Logger
}

// Option customizes a Synthesizer.
type Option func(*Synthesizer)

// WithProbeRunner replaces the ffprobe runner used to measure clips that
// arrive without timing data.
func WithProbeRunner(run ffprobe.Runner) Option {
	return func(s *Synthesizer) {
		if run != nil {
			s.probe = run
		}
	}
}

// NewSynthesizer wraps a speech client.
func NewSynthesizer(cfg *config.Config, client speaker, logger *slog.Logger, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		client:        client,
		voiceID:       cfg.Voice.VoiceID,
		modelID:       cfg.Voice.ModelID,
		outputFormat:  cfg.Voice.OutputFormat,
		stability:     cfg.Voice.Stability,
		similarity:    cfg.Voice.SimilarityBoost,
		maxChars:      cfg.Voice.MaxChars,
		ffprobeBinary: cfg.Render.FFprobeBinary,
		probe:         ffprobe.ExecRunner,
		logger:        logging.NewComponentLogger(logger, "voice"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig wires the ElevenLabs client.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) *Synthesizer {
	client := elevenlabs.NewClient(elevenlabs.Config{
		APIKey:          cfg.Voice.APIKey,
		BaseURL:         cfg.Voice.BaseURL,
		VoiceID:         cfg.Voice.VoiceID,
		ModelID:         cfg.Voice.ModelID,
		OutputFormat:    cfg.Voice.OutputFormat,
		Stability:       cfg.Voice.Stability,
		SimilarityBoost: cfg.Voice.SimilarityBoost,
		TimeoutSeconds:  cfg.Voice.TimeoutSeconds,
	})
	return NewSynthesizer(cfg, client, logger, opts...)
}

// Profile implements stage.VoiceSynthesizer.
func (s *Synthesizer) Profile() stage.Profile {
	return stage.Profile{
		"voice_id":         s.voiceID,
		"model_id":         s.modelID,
		"output_format":    s.outputFormat,
		"stability":        strconv.FormatFloat(s.stability, 'f', -1, 64),
		"similarity_boost": strconv.FormatFloat(s.similarity, 'f', -1, 64),
		"max_chars":        strconv.Itoa(s.maxChars),
	}
}

// VoiceID is the default voice used when a request names none.
func (s *Synthesizer) VoiceID() string { return s.voiceID }

// HealthCheck lists voices as a credential probe.
func (s *Synthesizer) HealthCheck(ctx context.Context) stage.Health {
	lister, ok := s.client.(interface {
		Voices(context.Context) ([]elevenlabs.Voice, error)
	})
	if !ok {
		return stage.Healthy(stage.NameVoice)
	}
	if _, err := lister.Voices(ctx); err != nil {
		return stage.Unhealthy(stage.NameVoice, err.Error())
	}
	return stage.Healthy(stage.NameVoice)
}

// Synthesize implements stage.VoiceSynthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req stage.VoiceRequest) (stage.AudioClip, error) {
	text := PrepareText(req.Text, s.maxChars)
	if text == "" {
		return stage.AudioClip{}, services.Wrap(services.ErrFatalInput, stage.NameVoice, "prepare", "segment has no narration", nil)
	}
	voiceID := strings.TrimSpace(req.VoiceID)
	if voiceID == "" {
		voiceID = s.voiceID
	}

	speech, err := s.client.Synthesize(ctx, text, voiceID)
	if err != nil {
		return stage.AudioClip{}, err
	}

	duration := speech.DurationSeconds
	if duration <= 0 {
		result, err := ffprobe.InspectBytes(ctx, s.probe, s.ffprobeBinary, speech.Audio, speech.Format)
		if err != nil {
			return stage.AudioClip{}, services.Wrap(services.ErrResource, stage.NameVoice, "probe", "measure clip duration", err)
		}
		duration = result.DurationSeconds()
		logging.WithContext(ctx, s.logger).Debug("clip duration measured with ffprobe",
			logging.Float64("duration_seconds", duration),
		)
	}
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return stage.AudioClip{}, services.Wrap(services.ErrContractViolation, stage.NameVoice, "validate",
			"clip duration must be positive", nil)
	}

	return stage.AudioClip{
		SegmentIndex:    req.SegmentIndex,
		Format:          speech.Format,
		Data:            speech.Audio,
		DurationSeconds: duration,
	}, nil
}
