package screening

import (
	"net/http"
	"strings"
)

// botSignatures are User-Agent substrings of known automated clients. Matching
// is case-insensitive. Verified crawlers can be exempted via the allow list in
// BotConfig (match by signature name).
var botSignatures = []struct {
	name    string
	pattern string
}{
	{"curl", "curl/"},
	{"wget", "wget/"},
	{"python-requests", "python-requests"},
	{"python-urllib", "python-urllib"},
	{"go-http-client", "go-http-client"},
	{"java-http", "java/"},
	{"okhttp", "okhttp"},
	{"scrapy", "scrapy"},
	{"phantomjs", "phantomjs"},
	{"headless-chrome", "headlesschrome"},
	{"selenium", "selenium"},
	{"googlebot", "googlebot"},
	{"bingbot", "bingbot"},
	{"generic-bot", "bot/"},
	{"generic-spider", "spider"},
	{"generic-crawler", "crawler"},
}

// detectBot returns the matched signature name, or "" when the request looks
// like a browser. A missing User-Agent counts as a bot: no mainstream browser
// omits it, and screening protects endpoints browsers talk to.
func detectBot(cfg BotConfig, headers http.Header) string {
	ua := strings.ToLower(strings.TrimSpace(headers.Get("User-Agent")))
	if ua == "" {
		return "missing-user-agent"
	}

	for _, sig := range botSignatures {
		if !strings.Contains(ua, sig.pattern) {
			continue
		}
		if allowed(cfg.Allow, sig.name) {
			return ""
		}
		return sig.name
	}
	return ""
}

func allowed(allow []string, name string) bool {
	for _, a := range allow {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}
