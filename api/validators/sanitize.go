package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims input, drops control characters and cuts the result
// to maxLen bytes when maxLen > 0. Used for header values forwarded to the
// gateway.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	if maxLen > 0 && len(cleaned) > maxLen {
		return cleaned[:maxLen]
	}
	return cleaned
}
