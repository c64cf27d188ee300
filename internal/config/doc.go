// Package config loads, normalizes, and validates narrasync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a local .env file, and honours
// environment fallbacks such as NARRASYNC_VOICE_API_KEY. The Config type
// centralizes every knob the daemon and CLI need, from data directories to the
// timeline estimation rate and drift threshold.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
