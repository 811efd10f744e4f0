package crawler

import (
	"net/url"
	"strings"

	"trawler/internal/scrapeutil"
)

// Hard-coded substrings that mark non-content URLs. Matched against the
// lowercased absolute URL.
var skipSubstrings = []string{
	"/login", "/logout", "/register", "/signup", "/admin",
	".pdf", ".doc", ".docx", ".zip", ".exe", ".dmg",
	"mailto:", "tel:", "javascript:",
	"/feed", "/rss", "/api/", "/ajax/",
}

// resolveLink turns a discovered href into an absolute URL against the
// page it was found on. Pure fragments resolve to "".
func resolveLink(pageURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String()
}

// validLink decides whether an absolute URL should join the next BFS
// level: http(s) scheme, unvisited, same registered domain when the
// restriction is on, no user exclude substring, and none of the
// hard-coded skip substrings.
func validLink(absURL, baseDomain string, sameDomainOnly bool, excludePatterns []string, visited map[string]struct{}) bool {
	if absURL == "" {
		return false
	}
	if _, seen := visited[absURL]; seen {
		return false
	}

	u, err := url.Parse(absURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	if sameDomainOnly && scrapeutil.RegisteredDomain(absURL) != baseDomain {
		return false
	}

	// User excludes are case-sensitive substring matches.
	for _, pattern := range excludePatterns {
		if pattern != "" && strings.Contains(absURL, pattern) {
			return false
		}
	}

	lower := strings.ToLower(absURL)
	for _, skip := range skipSubstrings {
		if strings.Contains(lower, skip) {
			return false
		}
	}

	return true
}
