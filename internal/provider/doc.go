// Package provider defines the media extraction contract and its two
// implementations: a native YouTube client and a yt-dlp driver.
//
// Providers never choose what the user sees. They report every rendition as a
// MediaFormat and the selection helpers in this package (SelectFormat,
// SelectAudio, FormatSelector) apply one set of rules to both backends.
package provider
