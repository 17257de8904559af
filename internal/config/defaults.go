package config

const (
	defaultConfigPath = "~/.config/reelsmith/config.toml"

	defaultOutputDir = "~/Videos/reelsmith"
	defaultCacheDir  = "~/.cache/reelsmith/artifacts"
	defaultStateDir  = "~/.local/share/reelsmith"

	defaultScriptBaseURL  = "https://openrouter.ai/api/v1/chat/completions"
	defaultScriptModel    = "google/gemini-2.5-flash"
	defaultScriptReferer  = "https://github.com/reelsmith/reelsmith"
	defaultScriptTitle    = "reelsmith"
	defaultScriptStyle    = "educational"
	defaultScriptLanguage = "en"

	defaultVoiceBaseURL = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"
	defaultVoiceModel   = "eleven_multilingual_v2"
	defaultVoiceFormat  = "mp3_44100_128"

	defaultImagesBaseURL  = "https://api.replicate.com/v1"
	defaultImagesModel    = "stability-ai/stable-diffusion:27b93a2413e7f36cd83da926f3656280b2931564ff050bf9575f1fdf9bcd7478"
	defaultNegativePrompt = "blurry, low quality, distorted, ugly, bad anatomy"

	defaultRenderPreset = "medium"

	defaultAPIBind = "127.0.0.1:7490"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			CacheDir:  defaultCacheDir,
			StateDir:  defaultStateDir,
		},
		Script: Script{
			BaseURL:               defaultScriptBaseURL,
			Model:                 defaultScriptModel,
			Referer:               defaultScriptReferer,
			Title:                 defaultScriptTitle,
			Temperature:           0.7,
			TimeoutSeconds:        60,
			Style:                 defaultScriptStyle,
			TargetDurationSeconds: 30,
			Language:              defaultScriptLanguage,
			WordsPerSecond:        2.5,
		},
		Voice: Voice{
			BaseURL:         defaultVoiceBaseURL,
			VoiceID:         defaultVoiceID,
			ModelID:         defaultVoiceModel,
			OutputFormat:    defaultVoiceFormat,
			Stability:       0.5,
			SimilarityBoost: 0.75,
			MaxChars:        500,
			TimeoutSeconds:  90,
		},
		Images: Images{
			BaseURL:             defaultImagesBaseURL,
			Model:               defaultImagesModel,
			Width:               768,
			Height:              768,
			MaxSecondsPerImage:  4,
			MaxImagesPerSegment: 4,
			Steps:               20,
			GuidanceScale:       7.5,
			NegativePrompt:      defaultNegativePrompt,
			TimeoutSeconds:      120,
		},
		Render: Render{
			FFmpegBinary:  "ffmpeg",
			FFprobeBinary: "ffprobe",
			FPS:           24,
			Width:         1280,
			Height:        720,
			TitleSeconds:  3,
			CRF:           23,
			Preset:        defaultRenderPreset,
		},
		Retry: Retry{
			MaxAttempts: 4,
			BaseDelayMS: 1000,
			MaxDelayMS:  20000,
		},
		Concurrency: Concurrency{
			Segments:   4,
			VoiceSlots: 2,
			ImageSlots: 2,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			OnSuccess:      true,
			OnFailure:      true,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
