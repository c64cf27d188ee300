package config

const (
	defaultConfigPath           = "~/.config/narrasync/config.toml"
	defaultDataDir              = "~/.local/share/narrasync"
	defaultLogDir               = "~/.local/share/narrasync/logs"
	defaultAPIBind              = "127.0.0.1:7488"
	defaultVoiceBaseURL         = "http://127.0.0.1:8020/v1/voice"
	defaultVoiceTimeoutSeconds  = 120
	defaultVoiceRetryAttempts   = 3
	defaultWordsPerMinute       = 150
	defaultResyncThresholdMs    = 500
	defaultMaxConcurrentRegen   = 3
	maxConcurrentRegenLimit     = 16
	defaultCaptionWordsPerChunk = 4
	defaultCaptionFPS           = 30
	defaultNtfyRequestTimeout   = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Voice: Voice{
			BaseURL:        defaultVoiceBaseURL,
			TimeoutSeconds: defaultVoiceTimeoutSeconds,
			RetryAttempts:  defaultVoiceRetryAttempts,
		},
		Timeline: Timeline{
			WordsPerMinute:    defaultWordsPerMinute,
			ResyncThresholdMs: defaultResyncThresholdMs,
		},
		Regeneration: Regeneration{
			MaxConcurrent: defaultMaxConcurrentRegen,
		},
		Captions: Captions{
			MaxWordsPerChunk: defaultCaptionWordsPerChunk,
			DefaultFPS:       defaultCaptionFPS,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNtfyRequestTimeout,
			RegenerationFailed: true,
			ProjectSynced:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
