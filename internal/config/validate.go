package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateVoice(); err != nil {
		return err
	}
	if err := c.validateTimeline(); err != nil {
		return err
	}
	if err := c.validateRegeneration(); err != nil {
		return err
	}
	if err := c.validateCaptions(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateVoice() error {
	parsed, err := url.Parse(c.Voice.BaseURL)
	if err != nil {
		return fmt.Errorf("voice.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("voice.base_url must use http or https, got %q", c.Voice.BaseURL)
	}
	return nil
}

func (c *Config) validateTimeline() error {
	if c.Timeline.WordsPerMinute < 0 {
		return errors.New("timeline.words_per_minute must be positive")
	}
	if c.Timeline.ResyncThresholdMs < 0 {
		return errors.New("timeline.resync_threshold_ms must be zero or positive")
	}
	return nil
}

func (c *Config) validateRegeneration() error {
	if c.Regeneration.MaxConcurrent < 1 || c.Regeneration.MaxConcurrent > maxConcurrentRegenLimit {
		return fmt.Errorf("regeneration.max_concurrent must be between 1 and %d", maxConcurrentRegenLimit)
	}
	return nil
}

func (c *Config) validateCaptions() error {
	if c.Captions.MaxWordsPerChunk < 1 {
		return errors.New("captions.max_words_per_chunk must be at least 1")
	}
	if c.Captions.DefaultFPS < 1 {
		return errors.New("captions.default_fps must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
