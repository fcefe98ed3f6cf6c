package resolver

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxFilenameBytes = 200
	fallbackFilename = "video"
)

var (
	illegalChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
	nonASCIIRuns   = regexp.MustCompile(`[^\x00-\x7F]+`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
	underscoreRuns = regexp.MustCompile(`_+`)
	stripCombining = runes.Remove(runes.In(unicode.Mn))
)

// Sanitize makes name safe for file systems and HTTP header values. The
// result is ASCII, has no path separators or shell-hostile characters, no
// whitespace, no repeated underscores, and is at most 200 bytes with the
// extension preserved. Empty results become "video".
func Sanitize(name string) string {
	name = foldAccents(name)
	name = illegalChars.ReplaceAllString(name, "_")
	name = nonASCIIRuns.ReplaceAllString(name, "_")
	name = whitespaceRuns.ReplaceAllString(name, "_")
	name = underscoreRuns.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_.")

	if len(name) > maxFilenameBytes {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameBytes {
			ext = ""
		}
		base := strings.TrimRight(name[:maxFilenameBytes-len(ext)], "_.")
		name = base + ext
	}
	if name == "" {
		return fallbackFilename
	}
	return name
}

// foldAccents decomposes name and drops combining marks, so "Café" becomes
// "Cafe" instead of "Caf_".
func foldAccents(name string) string {
	t := transform.Chain(norm.NFD, stripCombining, norm.NFC)
	out, _, err := transform.String(t, name)
	if err != nil {
		return name
	}
	return out
}
