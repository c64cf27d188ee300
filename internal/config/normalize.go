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
	c.normalizeVoice()
	c.normalizeTimeline()
	c.normalizeRegeneration()
	c.normalizeCaptions()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("NARRASYNC_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeVoice() {
	c.Voice.APIKey = strings.TrimSpace(c.Voice.APIKey)
	if c.Voice.APIKey == "" {
		if value, ok := os.LookupEnv("NARRASYNC_VOICE_API_KEY"); ok {
			c.Voice.APIKey = strings.TrimSpace(value)
		}
	}
	c.Voice.BaseURL = strings.TrimSpace(c.Voice.BaseURL)
	if c.Voice.BaseURL == "" {
		if value, ok := os.LookupEnv("NARRASYNC_VOICE_URL"); ok && strings.TrimSpace(value) != "" {
			c.Voice.BaseURL = strings.TrimSpace(value)
		} else {
			c.Voice.BaseURL = defaultVoiceBaseURL
		}
	}
	c.Voice.Model = strings.TrimSpace(c.Voice.Model)
	c.Voice.VoiceID = strings.TrimSpace(c.Voice.VoiceID)
	if c.Voice.TimeoutSeconds <= 0 {
		c.Voice.TimeoutSeconds = defaultVoiceTimeoutSeconds
	}
	if c.Voice.RetryAttempts <= 0 {
		c.Voice.RetryAttempts = defaultVoiceRetryAttempts
	}
}

func (c *Config) normalizeTimeline() {
	if c.Timeline.WordsPerMinute == 0 {
		c.Timeline.WordsPerMinute = defaultWordsPerMinute
	}
	if c.Timeline.ResyncThresholdMs == 0 {
		c.Timeline.ResyncThresholdMs = defaultResyncThresholdMs
	}
}

func (c *Config) normalizeRegeneration() {
	if c.Regeneration.MaxConcurrent == 0 {
		c.Regeneration.MaxConcurrent = defaultMaxConcurrentRegen
	}
}

func (c *Config) normalizeCaptions() {
	if c.Captions.MaxWordsPerChunk == 0 {
		c.Captions.MaxWordsPerChunk = defaultCaptionWordsPerChunk
	}
	if c.Captions.DefaultFPS == 0 {
		c.Captions.DefaultFPS = defaultCaptionFPS
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
