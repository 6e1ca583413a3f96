package transcription

import "strings"

var placeholderCredentials = []string{
	"your_deepgram_api_key_here",
	"your_api_key_here",
	"changeme",
}

// IsPlaceholder reports whether credential is empty or a well-known
// placeholder left in a sample configuration.
func IsPlaceholder(credential string) bool {
	c := strings.TrimSpace(credential)
	if c == "" {
		return true
	}
	for _, p := range placeholderCredentials {
		if strings.EqualFold(c, p) {
			return true
		}
	}
	return false
}
