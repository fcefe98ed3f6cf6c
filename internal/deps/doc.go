// Package deps probes the external binaries (ffmpeg, yt-dlp) the server
// shells out to. Results feed the check command and the /system-info
// endpoint.
package deps
