package export

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxFilenameLength = 80

// Filename turns an event title into a download name such as
// "summer-market.ics". Accents are folded and anything outside [a-z0-9] is
// collapsed into single dashes.
func Filename(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFKD.String(strings.ToLower(title)) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
		if b.Len() >= maxFilenameLength {
			break
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "calendar"
	}
	return slug + ".ics"
}
