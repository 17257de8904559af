package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	CacheDir  string `toml:"cache_dir"`
	StateDir  string `toml:"state_dir"`
}

// Script configures the script-writing language model.
type Script struct {
	APIKey                string  `toml:"api_key"`
	BaseURL               string  `toml:"base_url"`
	Model                 string  `toml:"model"`
	Referer               string  `toml:"referer"`
	Title                 string  `toml:"title"`
	Temperature           float64 `toml:"temperature"`
	TimeoutSeconds        int     `toml:"timeout_seconds"`
	Style                 string  `toml:"style"`
	TargetDurationSeconds float64 `toml:"target_duration_seconds"`
	Language              string  `toml:"language"`
	TemplatesPath         string  `toml:"templates_path"`
	WordsPerSecond        float64 `toml:"words_per_second"`
}

// Voice configures narration synthesis.
type Voice struct {
	APIKey          string  `toml:"api_key"`
	BaseURL         string  `toml:"base_url"`
	VoiceID         string  `toml:"voice_id"`
	ModelID         string  `toml:"model_id"`
	OutputFormat    string  `toml:"output_format"`
	Stability       float64 `toml:"stability"`
	SimilarityBoost float64 `toml:"similarity_boost"`
	MaxChars        int     `toml:"max_chars"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
}

// Images configures illustrative image generation.
type Images struct {
	APIKey              string  `toml:"api_key"`
	BaseURL             string  `toml:"base_url"`
	Model               string  `toml:"model"`
	Width               int     `toml:"width"`
	Height              int     `toml:"height"`
	MaxSecondsPerImage  float64 `toml:"max_seconds_per_image"`
	MaxImagesPerSegment int     `toml:"max_images_per_segment"`
	Steps               int     `toml:"steps"`
	GuidanceScale       float64 `toml:"guidance_scale"`
	NegativePrompt      string  `toml:"negative_prompt"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
}

// Render configures the ffmpeg rendering backend.
type Render struct {
	FFmpegBinary  string  `toml:"ffmpeg_binary"`
	FFprobeBinary string  `toml:"ffprobe_binary"`
	FPS           int     `toml:"fps"`
	Width         int     `toml:"width"`
	Height        int     `toml:"height"`
	TitleSeconds  float64 `toml:"title_seconds"`
	BurnCaptions  bool    `toml:"burn_captions"`
	CRF           int     `toml:"crf"`
	Preset        string  `toml:"preset"`
	FontFile      string  `toml:"font_file"`
}

// Retry configures the stage runner retry policy.
type Retry struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMS int `toml:"base_delay_ms"`
	MaxDelayMS  int `toml:"max_delay_ms"`
}

// Concurrency bounds per-segment fan-out and per-service parallelism.
type Concurrency struct {
	Segments   int `toml:"segments"`
	VoiceSlots int `toml:"voice_slots"`
	ImageSlots int `toml:"image_slots"`
}

// API configures the HTTP API served by `reelsmith serve`.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnSuccess      bool   `toml:"on_success"`
	OnFailure      bool   `toml:"on_failure"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   bool   `toml:"file"`
}

// Config encapsulates all configuration values for reelsmith.
//
// Configuration sections by subsystem:
//   - Paths: output, artifact cache, and state directories
//   - Script, Voice, Images: external generative services
//   - Render: ffmpeg rendering backend
//   - Retry, Concurrency: stage runner policy and fan-out bounds
//   - API: HTTP API bind address and token
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Script        Script        `toml:"script"`
	Voice         Voice         `toml:"voice"`
	Images        Images        `toml:"images"`
	Render        Render        `toml:"render"`
	Retry         Retry         `toml:"retry"`
	Concurrency   Concurrency   `toml:"concurrency"`
	API           API           `toml:"api"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelsmith.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the output, cache, and state directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.CacheDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath is the SQLite run ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "runs.db")
}

// LockPath is the lock file guarding a single `serve` instance.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "reelsmith.lock")
}

// LogPath is the file log target when logging.file is enabled.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.StateDir, "reelsmith.log")
}

// RetryBaseDelay returns the configured backoff base.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns the configured backoff ceiling.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	masked.Script.APIKey = mask(masked.Script.APIKey)
	masked.Voice.APIKey = mask(masked.Voice.APIKey)
	masked.Images.APIKey = mask(masked.Images.APIKey)
	masked.API.Token = mask(masked.API.Token)
	return toml.Marshal(masked)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
