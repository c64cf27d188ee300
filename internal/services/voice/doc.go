// Package voice talks to the speech synthesis provider that turns segment
// text into narration audio plus word-level timings.
//
// The provider is addressed over HTTP: the client posts the text, voice, and
// model and accepts either millisecond word timings or a WhisperX-style
// alignment payload (segments with per-word seconds). Transient failures
// (408, 429, 5xx, network timeouts) are retried with exponential backoff;
// everything else surfaces as a generation failure.
package voice
