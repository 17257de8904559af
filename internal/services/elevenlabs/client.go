// Package elevenlabs wraps the ElevenLabs text-to-speech API.
//
// Synthesis uses the with-timestamps endpoint so the response carries the
// character alignment alongside the audio; the clip duration is the end time
// of the last aligned character.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reelsmith/internal/services"
)

const (
	defaultBaseURL      = "https://api.elevenlabs.io/v1"
	defaultModelID      = "eleven_multilingual_v2"
	defaultOutputFormat = "mp3_44100_128"
	defaultHTTPTimeout  = 90 * time.Second
	serviceName         = "elevenlabs"
)

// Config holds the account and voice settings.
type Config struct {
	APIKey          string
	BaseURL         string
	VoiceID         string
	ModelID         string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
	TimeoutSeconds  int
}

// Speech is a synthesized clip.
type Speech struct {
	Audio []byte
	// Format is the container extension of Audio (for example "mp3").
	Format string
	// DurationSeconds is zero when the service returned no alignment.
	DurationSeconds float64
}

// Client issues synthesis requests.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client, filling in service defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = defaultModelID
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = defaultOutputFormat
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type alignment struct {
	Characters []string  `json:"characters"`
	StartTimes []float64 `json:"character_start_times_seconds"`
	EndTimes   []float64 `json:"character_end_times_seconds"`
}

type ttsResponse struct {
	AudioBase64         string     `json:"audio_base64"`
	Alignment           *alignment `json:"alignment"`
	NormalizedAlignment *alignment `json:"normalized_alignment"`
}

// Synthesize converts text to speech with the given voice. An empty voiceID
// uses the configured default.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) (Speech, error) {
	var empty Speech
	text = strings.TrimSpace(text)
	if text == "" {
		return empty, services.Wrap(services.ErrFatalInput, serviceName, "synthesize", "text required", nil)
	}
	if c.cfg.APIKey == "" {
		return empty, services.Wrap(services.ErrConfiguration, serviceName, "synthesize", "api key required", nil)
	}
	if voiceID = strings.TrimSpace(voiceID); voiceID == "" {
		voiceID = strings.TrimSpace(c.cfg.VoiceID)
	}
	if voiceID == "" {
		return empty, services.Wrap(services.ErrConfiguration, serviceName, "synthesize", "voice id required", nil)
	}

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: c.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       c.cfg.Stability,
			SimilarityBoost: c.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return empty, services.Wrap(services.ErrFatalInput, serviceName, "synthesize", "encode body", err)
	}
	endpoint := fmt.Sprintf("%s/text-to-speech/%s/with-timestamps?output_format=%s",
		c.cfg.BaseURL, url.PathEscape(voiceID), url.QueryEscape(c.cfg.OutputFormat))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return empty, services.Wrap(services.ErrConfiguration, serviceName, "synthesize", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, services.ClassifyHTTP(serviceName, "synthesize", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, services.ClassifyHTTP(serviceName, "synthesize", fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return empty, services.ClassifyHTTP(serviceName, "synthesize", services.NewStatusError(serviceName, resp, payload))
	}

	var decoded ttsResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return empty, services.Wrap(services.ErrTransient, serviceName, "synthesize", "decode response", err)
	}
	audio, err := base64.StdEncoding.DecodeString(decoded.AudioBase64)
	if err != nil {
		return empty, services.Wrap(services.ErrTransient, serviceName, "synthesize", "decode audio", err)
	}
	if len(audio) == 0 {
		return empty, services.Wrap(services.ErrTransient, serviceName, "synthesize", "empty audio", nil)
	}
	align := decoded.Alignment
	if align == nil {
		align = decoded.NormalizedAlignment
	}
	return Speech{
		Audio:           audio,
		Format:          formatExtension(c.cfg.OutputFormat),
		DurationSeconds: alignmentDuration(align),
	}, nil
}

// Voice describes an available voice.
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Voices lists the voices available to the account. Used as a credential probe.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	if c.cfg.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "voices", "api key required", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/voices", nil)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "voices", "build request", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.ClassifyHTTP(serviceName, "voices", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.ClassifyHTTP(serviceName, "voices", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, services.ClassifyHTTP(serviceName, "voices", services.NewStatusError(serviceName, resp, payload))
	}
	var result struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, services.Wrap(services.ErrTransient, serviceName, "voices", "decode response", err)
	}
	return result.Voices, nil
}

func alignmentDuration(a *alignment) float64 {
	if a == nil {
		return 0
	}
	var last float64
	for _, end := range a.EndTimes {
		if end > last {
			last = end
		}
	}
	return last
}

func formatExtension(outputFormat string) string {
	prefix, _, _ := strings.Cut(strings.ToLower(outputFormat), "_")
	switch prefix {
	case "mp3", "opus", "wav":
		return prefix
	case "pcm":
		return "pcm"
	default:
		return "mp3"
	}
}
