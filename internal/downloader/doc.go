// Package downloader is the fetch and transcode stage of a job.
//
// Video jobs never touch disk: they settle on an upstream locator that the
// stream layer relays later. Audio jobs download the best audio rendition into
// the staging directory and transcode it to MP3 with ffmpeg. Progress is one
// percentage per job (fetch 0-90, transcode 90-100).
package downloader
