package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var namePolicy = bluemonday.StrictPolicy()

// SanitizeDisplayName strips all HTML from a user supplied display name.
func SanitizeDisplayName(input string) string {
	return strings.TrimSpace(namePolicy.Sanitize(input))
}
