// Package captions resolves which caption and which words are highlighted at
// a playback instant, and projects segments into caption chunks for
// rendering surfaces.
//
// All timestamps are integer milliseconds. Word timings are relative to the
// start of their segment; segment windows are absolute [start, end). When
// windows overlap the earliest segment in order wins. Nothing in this
// package returns an error: missing or malformed data degrades to no caption
// or a plain text caption.
package captions
