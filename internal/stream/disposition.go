package stream

import (
	"strings"
)

const fallbackName = "download"

// ContentDisposition builds an attachment header carrying an ASCII filename
// for old clients and the UTF-8 original in RFC 5987 form.
func ContentDisposition(ascii, original string) string {
	ascii = strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, ascii)
	if ascii == "" {
		ascii = fallbackName
	}
	if original == "" {
		original = ascii
	}
	return `attachment; filename="` + ascii + `"; filename*=UTF-8''` + encodeRFC5987(original)
}

func encodeRFC5987(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
