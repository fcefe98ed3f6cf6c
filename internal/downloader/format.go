package downloader

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatETA renders d as mm:ss, or hh:mm:ss past an hour. Unknown is "".
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	total := int(d.Round(time.Second).Seconds())
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatSpeed renders a byte rate such as "1.2 MB/s".
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(bytesPerSecond)) + "/s"
}

// maxHeight maps a video tier to its height ceiling; "best" has none.
func maxHeight(quality string) int {
	h, err := strconv.Atoi(quality)
	if err != nil {
		return 0
	}
	return h
}

// audioBitrate returns the ffmpeg -b:a value for an audio tier.
func audioBitrate(kbps int) string {
	return strconv.Itoa(kbps) + "k"
}
