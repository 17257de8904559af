package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeScript(); err != nil {
		return err
	}
	c.normalizeVoice()
	c.normalizeImages()
	c.normalizeRender()
	c.normalizeAPI()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeScript() error {
	c.Script.APIKey = envFallback(c.Script.APIKey, "OPENROUTER_API_KEY")
	c.Script.BaseURL = strings.TrimSpace(c.Script.BaseURL)
	if c.Script.BaseURL == "" {
		c.Script.BaseURL = defaultScriptBaseURL
	}
	c.Script.Model = strings.TrimSpace(c.Script.Model)
	if c.Script.Model == "" {
		c.Script.Model = defaultScriptModel
	}
	c.Script.Style = strings.ToLower(strings.TrimSpace(c.Script.Style))
	if c.Script.Style == "" {
		c.Script.Style = defaultScriptStyle
	}
	c.Script.Language = strings.ToLower(strings.TrimSpace(c.Script.Language))
	if c.Script.Language == "" {
		c.Script.Language = defaultScriptLanguage
	}
	if strings.TrimSpace(c.Script.TemplatesPath) != "" {
		expanded, err := expandPath(c.Script.TemplatesPath)
		if err != nil {
			return fmt.Errorf("script.templates_path: %w", err)
		}
		c.Script.TemplatesPath = expanded
	}
	return nil
}

func (c *Config) normalizeVoice() {
	c.Voice.APIKey = envFallback(c.Voice.APIKey, "ELEVENLABS_API_KEY")
	c.Voice.BaseURL = strings.TrimSpace(c.Voice.BaseURL)
	if c.Voice.BaseURL == "" {
		c.Voice.BaseURL = defaultVoiceBaseURL
	}
	c.Voice.VoiceID = strings.TrimSpace(c.Voice.VoiceID)
	if c.Voice.VoiceID == "" {
		c.Voice.VoiceID = defaultVoiceID
	}
	c.Voice.ModelID = strings.TrimSpace(c.Voice.ModelID)
	if c.Voice.ModelID == "" {
		c.Voice.ModelID = defaultVoiceModel
	}
	c.Voice.OutputFormat = strings.TrimSpace(c.Voice.OutputFormat)
	if c.Voice.OutputFormat == "" {
		c.Voice.OutputFormat = defaultVoiceFormat
	}
}

func (c *Config) normalizeImages() {
	c.Images.APIKey = envFallback(c.Images.APIKey, "REPLICATE_API_TOKEN")
	c.Images.BaseURL = strings.TrimSpace(c.Images.BaseURL)
	if c.Images.BaseURL == "" {
		c.Images.BaseURL = defaultImagesBaseURL
	}
	c.Images.Model = strings.TrimSpace(c.Images.Model)
	if c.Images.Model == "" {
		c.Images.Model = defaultImagesModel
	}
	c.Images.NegativePrompt = strings.TrimSpace(c.Images.NegativePrompt)
}

func (c *Config) normalizeRender() {
	c.Render.FFmpegBinary = strings.TrimSpace(c.Render.FFmpegBinary)
	if c.Render.FFmpegBinary == "" {
		c.Render.FFmpegBinary = "ffmpeg"
	}
	c.Render.FFprobeBinary = strings.TrimSpace(c.Render.FFprobeBinary)
	if c.Render.FFprobeBinary == "" {
		c.Render.FFprobeBinary = "ffprobe"
	}
	c.Render.Preset = strings.TrimSpace(c.Render.Preset)
	if c.Render.Preset == "" {
		c.Render.Preset = defaultRenderPreset
	}
	c.Render.FontFile = strings.TrimSpace(c.Render.FontFile)
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(envFallback(c.API.Token, "REELSMITH_API_TOKEN"))
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(envFallback(c.Notifications.NtfyTopic, "NTFY_TOPIC"))
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func envFallback(value, key string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	if env, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(env)
	}
	return ""
}
