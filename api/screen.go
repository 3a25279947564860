package api

import (
	"regexp"
	"strings"
)

// injectionPatterns flag submitted secrets that look like SQL or script
// payloads. This is a coarse heuristic layered in front of the credential
// check; it is not, and must not be treated as, protection for any data
// access path. Parameterised queries remain the control there.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b[\s\S]*\bselect\b`),
	regexp.MustCompile(`(?i)\b(select|delete)\b[\s\S]+\bfrom\b`),
	regexp.MustCompile(`(?i)\binsert\s+into\b`),
	regexp.MustCompile(`(?i)\bdrop\s+(table|database)\b`),
	regexp.MustCompile(`(?i)\bexec(ute)?\s*\(|\bxp_cmdshell\b`),
	regexp.MustCompile(`(?i)'\s*(or|and)\s+['\w]+\s*=\s*['\w]+`),
	regexp.MustCompile(`['";]\s*--`),
	regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed|svg)\b`),
	regexp.MustCompile(`(?i)<[^>]*\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`\x00`),
}

func looksLikeInjection(s string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// blockedAgentSignatures are lowercase substrings of user agents sent by
// generic HTTP tools, scanners and crawlers. They are refused on admin
// paths only.
var blockedAgentSignatures = []string{
	"curl/",
	"wget/",
	"python-requests",
	"python-urllib",
	"aiohttp",
	"go-http-client",
	"libwww-perl",
	"java/",
	"okhttp",
	"apache-httpclient",
	"scrapy",
	"httpie",
	"postmanruntime",
	"nikto",
	"sqlmap",
	"nmap",
	"masscan",
	"zgrab",
	"headlesschrome",
	"phantomjs",
	"bot",
	"crawler",
	"spider",
}

// isBlockedAgent reports whether ua matches the denylist. An empty user
// agent counts as a tool.
func isBlockedAgent(ua string) bool {
	ua = strings.ToLower(strings.TrimSpace(ua))
	if ua == "" {
		return true
	}
	for _, sig := range blockedAgentSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}
