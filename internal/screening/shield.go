package screening

import (
	"net/url"
	"regexp"
	"strings"
)

// shieldPatterns match common injection and traversal payloads in the request
// path, query string, or decoded body values. Heuristic by design: the shield
// is a coarse backstop, not a WAF.
var shieldPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"sql-injection", regexp.MustCompile(`(?i)(\bunion\b.+\bselect\b|\bselect\b.+\bfrom\b.+\bwhere\b|\bdrop\s+table\b|\binsert\s+into\b|\bor\s+1\s*=\s*1\b|--\s*$|';)`)},
	{"path-traversal", regexp.MustCompile(`(\.\./|\.\.\\|%2e%2e%2f)`)},
	{"script-injection", regexp.MustCompile(`(?i)(<script\b|javascript:|\bon(error|load|click)\s*=)`)},
	{"template-injection", regexp.MustCompile(`(\{\{.*\}\}|\$\{.*\})`)},
	{"null-byte", regexp.MustCompile(`(%00|\x00)`)},
}

// detectAttack scans the request surface and returns the name of the first
// matching pattern, or "".
func detectAttack(path, rawQuery string, body map[string]any) string {
	surfaces := []string{path}
	if rawQuery != "" {
		surfaces = append(surfaces, rawQuery)
		if unescaped, err := url.QueryUnescape(rawQuery); err == nil {
			surfaces = append(surfaces, unescaped)
		}
	}
	for _, v := range body {
		if s, ok := v.(string); ok {
			surfaces = append(surfaces, s)
		}
	}

	for _, p := range shieldPatterns {
		for _, s := range surfaces {
			if p.re.MatchString(strings.ToLower(s)) {
				return p.name
			}
		}
	}
	return ""
}
