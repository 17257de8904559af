package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. Credentials are checked
// separately by ValidateCredentials so read-only commands work without them.
func (c *Config) Validate() error {
	if err := c.validateScript(); err != nil {
		return err
	}
	if err := c.validateVoice(); err != nil {
		return err
	}
	if err := c.validateImages(); err != nil {
		return err
	}
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateConcurrency(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

// ValidateCredentials reports the first missing external-service credential.
func (c *Config) ValidateCredentials() error {
	configPath, err := DefaultConfigPath()
	if err != nil {
		configPath = defaultConfigPath
	}
	switch {
	case c.Script.APIKey == "":
		return fmt.Errorf("script.api_key is required. Set OPENROUTER_API_KEY env var or edit %s (create with 'reelsmith config init')", configPath)
	case c.Voice.APIKey == "":
		return fmt.Errorf("voice.api_key is required. Set ELEVENLABS_API_KEY env var or edit %s", configPath)
	case c.Images.APIKey == "":
		return fmt.Errorf("images.api_key is required. Set REPLICATE_API_TOKEN env var or edit %s", configPath)
	}
	return nil
}

func (c *Config) validateScript() error {
	if c.Script.TimeoutSeconds <= 0 {
		return errors.New("script.timeout_seconds must be positive")
	}
	if c.Script.TargetDurationSeconds <= 0 {
		return errors.New("script.target_duration_seconds must be positive")
	}
	if c.Script.WordsPerSecond <= 0 {
		return errors.New("script.words_per_second must be positive")
	}
	if c.Script.Temperature < 0 || c.Script.Temperature > 2 {
		return errors.New("script.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateVoice() error {
	if c.Voice.Stability < 0 || c.Voice.Stability > 1 {
		return errors.New("voice.stability must be between 0 and 1")
	}
	if c.Voice.SimilarityBoost < 0 || c.Voice.SimilarityBoost > 1 {
		return errors.New("voice.similarity_boost must be between 0 and 1")
	}
	if c.Voice.MaxChars < 0 {
		return errors.New("voice.max_chars must be non-negative")
	}
	if c.Voice.TimeoutSeconds <= 0 {
		return errors.New("voice.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateImages() error {
	if c.Images.Width <= 0 || c.Images.Height <= 0 {
		return errors.New("images.width and images.height must be positive")
	}
	if c.Images.MaxSecondsPerImage <= 0 {
		return errors.New("images.max_seconds_per_image must be positive")
	}
	if c.Images.MaxImagesPerSegment < 1 {
		return errors.New("images.max_images_per_segment must be at least 1")
	}
	if c.Images.Steps <= 0 {
		return errors.New("images.steps must be positive")
	}
	if c.Images.TimeoutSeconds <= 0 {
		return errors.New("images.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRender() error {
	if c.Render.FPS <= 0 {
		return errors.New("render.fps must be positive")
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return errors.New("render.width and render.height must be positive")
	}
	if c.Render.Width%2 != 0 || c.Render.Height%2 != 0 {
		return errors.New("render.width and render.height must be even for yuv420p output")
	}
	if c.Render.TitleSeconds < 0 {
		return errors.New("render.title_seconds must be non-negative")
	}
	if c.Render.CRF < 0 || c.Render.CRF > 51 {
		return errors.New("render.crf must be between 0 and 51")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelayMS < 0 {
		return errors.New("retry.base_delay_ms must be non-negative")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be at least retry.base_delay_ms")
	}
	return nil
}

func (c *Config) validateConcurrency() error {
	if c.Concurrency.Segments < 1 {
		return errors.New("concurrency.segments must be at least 1")
	}
	if c.Concurrency.VoiceSlots < 1 {
		return errors.New("concurrency.voice_slots must be at least 1")
	}
	if c.Concurrency.ImageSlots < 1 {
		return errors.New("concurrency.image_slots must be at least 1")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}
