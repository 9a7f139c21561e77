package errors

import (
	"strings"
	"unicode"
)

// maxEndpointLen bounds endpoint paths; upstream APIs never need more.
const maxEndpointLen = 2048

// ValidateEndpoint validates an endpoint path before it is joined with a
// client's base URL.
//
// The rules are conservative:
//   - No empty endpoints
//   - No control characters or null bytes
//   - No path traversal (..) or backslashes
//   - No absolute URLs; the base URL decides the host
//   - No query string; parameters are passed separately so they take part
//     in cache keys
func ValidateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return New(ErrCodeInvalidEndpoint, "endpoint cannot be empty")
	}

	if len(endpoint) > maxEndpointLen {
		return New(ErrCodeInvalidEndpoint, "endpoint too long (max %d characters)", maxEndpointLen)
	}

	for _, r := range endpoint {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidEndpoint, "endpoint contains invalid control characters")
		}
	}

	if strings.Contains(endpoint, "://") || strings.HasPrefix(endpoint, "//") {
		return New(ErrCodeInvalidEndpoint, "endpoint must be a path, not a URL: %q", endpoint)
	}

	for _, pattern := range []string{"..", "\\", "?", "#"} {
		if strings.Contains(endpoint, pattern) {
			return New(ErrCodeInvalidEndpoint, "endpoint contains invalid characters: %q", pattern)
		}
	}

	return nil
}
