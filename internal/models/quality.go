package models

// VideoQualities lists the accepted video tiers, best first.
var VideoQualities = []string{"best", "1080", "720", "480", "360", "240"}

// AudioQualities maps audio tiers to MP3 bitrates in kbps.
var AudioQualities = map[string]int{
	"high":   320,
	"medium": 192,
	"low":    128,
}

// AudioQualityOrder is AudioQualities keys in display order.
var AudioQualityOrder = []string{"high", "medium", "low"}

const (
	DefaultVideoQuality = "best"
	DefaultAudioQuality = "high"
)

// ValidQuality reports whether q is a known tier for format f.
func ValidQuality(f Format, q string) bool {
	switch f {
	case FormatVideo:
		for _, v := range VideoQualities {
			if v == q {
				return true
			}
		}
	case FormatAudio:
		_, ok := AudioQualities[q]
		return ok
	}
	return false
}
