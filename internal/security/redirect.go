package security

import (
	"strings"
)

// SafeRedirect sanitizes a client-supplied post-login redirect target. Only
// same-origin relative paths survive; anything that could leave the site
// (absolute URLs, protocol-relative "//host" forms, scheme smuggling) falls
// back to "/". This keeps the OAuth callback from being used as an open
// redirector.
func SafeRedirect(raw string) string {
	if raw == "" {
		return "/"
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "/"
	}
	if strings.ContainsAny(raw, "\\\r\n") {
		return "/"
	}
	// "/\evil.com" is treated as protocol-relative by some browsers
	if strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	return raw
}
