package decision

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"
)

var urlPattern = regexp.MustCompile(`http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\(\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)

// Matched against the start of the lowercased host
var maliciousDomainPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^.*\.tk$`),
	regexp.MustCompile(`^.*\.ml$`),
	regexp.MustCompile(`^.*\.ga$`),
	regexp.MustCompile(`^.*\.cf$`),
	regexp.MustCompile(`^bit\.ly`),
	regexp.MustCompile(`^tinyurl\.com`),
	regexp.MustCompile(`^discord-nitro.*`),
	regexp.MustCompile(`^discordapp-nitro.*`),
	regexp.MustCompile(`^steam-community.*`),
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`discord\.gg/[a-zA-Z0-9]+`),
	regexp.MustCompile(`bit\.ly/[a-zA-Z0-9]+`),
	regexp.MustCompile(`tinyurl\.com/[a-zA-Z0-9]+`),
	regexp.MustCompile(`[a-zA-Z0-9]+\.tk`),
	regexp.MustCompile(`[a-zA-Z0-9]+\.ml`),
}

var suspiciousWords = []string{"free", "nitro", "gift", "hack", "cheat", "generator", "discord.gg"}

// ExtractURLs returns the distinct URLs of content in order of appearance
func ExtractURLs(content string) []string {
	matches := urlPattern.FindAllString(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		urls = append(urls, m)
	}
	return urls
}

// URLHost returns the lowercased host of rawURL without port
func URLHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// MaliciousDomain reports whether the host of rawURL matches a known bad pattern
func MaliciousDomain(rawURL string) (string, bool) {
	host := URLHost(rawURL)
	if host == "" {
		return "", false
	}
	for _, p := range maliciousDomainPatterns {
		if p.MatchString(host) {
			return host, true
		}
	}
	return host, false
}

// SuspiciousPattern returns the first suspicious pattern found in content
func SuspiciousPattern(content string) (string, bool) {
	for _, p := range suspiciousPatterns {
		if p.MatchString(content) {
			return p.String(), true
		}
	}
	return "", false
}

// ThreatScore rates a message 0..1 from account age, bait keywords, links and shouting
func ThreatScore(content string, accountAge time.Duration) float64 {
	score := 0.0

	switch {
	case accountAge < 7*24*time.Hour:
		score += 0.3
	case accountAge < 30*24*time.Hour:
		score += 0.1
	}

	lower := strings.ToLower(content)
	for _, word := range suspiciousWords {
		if strings.Contains(lower, word) {
			score += 0.1
		}
	}

	score += float64(len(urlPattern.FindAllString(content, -1))) * 0.2

	if runes := []rune(content); len(runes) > 10 {
		upper := 0
		for _, r := range runes {
			if unicode.IsUpper(r) {
				upper++
			}
		}
		if float64(upper)/float64(len(runes)) > 0.5 {
			score += 0.2
		}
	}

	if score > 1.0 {
		return 1.0
	}
	return score
}

// FileExtension returns ".ext" for the text after the last dot, lowercased, or "".
func FileExtension(filename string) string {
	ext := path.Ext(strings.ToLower(filename))
	if ext == "." {
		return ""
	}
	return ext
}

// ExtensionIn reports whether filename's extension is listed in exts
func ExtensionIn(filename string, exts []string) bool {
	ext := FileExtension(filename)
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}
