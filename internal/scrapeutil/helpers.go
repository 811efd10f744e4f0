package scrapeutil

import (
	"crypto/sha1"
	"encoding/hex"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"trawler/internal/model"
)

// Tracking parameters stripped during canonicalization, in addition to
// every key with the "utm_" prefix.
var ignoredQueryParams = map[string]struct{}{
	"ref":      {},
	"referrer": {},
	"session":  {},
	"fbclid":   {},
	"gclid":    {},
	"yclid":    {},
	"mc_cid":   {},
	"mc_eid":   {},
}

// Canonicalize normalizes a URL for fingerprinting: lowercases the host,
// drops the fragment and tracking parameters, turns an empty path into "/"
// and removes non-root trailing slashes. Remaining query parameters keep
// their original order and case. A URL that cannot be parsed is returned
// unchanged.
func Canonicalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = filterQuery(u.RawQuery)

	path := u.Path
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	u.Path = path
	u.RawPath = ""

	return u.String()
}

// filterQuery rebuilds a raw query string without tracking parameters,
// preserving pair order and blank values.
func filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	kept := make([]string, 0, 4)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if i := strings.Index(pair, "="); i >= 0 {
			key = pair[:i]
		}
		decoded, err := url.QueryUnescape(key)
		if err != nil {
			decoded = key
		}
		if strings.HasPrefix(decoded, "utm_") {
			continue
		}
		if _, ok := ignoredQueryParams[decoded]; ok {
			continue
		}
		kept = append(kept, pair)
	}

	return strings.Join(kept, "&")
}

// Fingerprint derives the stable result ID for a request path with query:
// a sha1 hex digest over the canonicalized form. Safe as a file name and
// as a key in the distributed store. Requests differing only in tracking
// parameters, fragment, host casing, or trailing slash collide by design.
func Fingerprint(pathWithQuery string) string {
	sum := sha1.Sum([]byte(Canonicalize(pathWithQuery)))
	return hex.EncodeToString(sum[:])
}

// FingerprintRequest derives the result ID for a full request path with
// query. On top of Canonicalize, the url parameter's value (the crawl
// seed) is itself canonicalized, so requests that differ only in the
// seed's tracking parameters, fragment, host casing, or trailing slash
// collapse onto one fingerprint.
func FingerprintRequest(pathWithQuery string) string {
	u, err := url.Parse(pathWithQuery)
	if err != nil {
		return Fingerprint(pathWithQuery)
	}
	u.RawQuery = rewriteSeedParam(u.RawQuery)
	return Fingerprint(u.String())
}

// rewriteSeedParam replaces the value of every url= pair with its
// canonical form, keeping all other pairs untouched.
func rewriteSeedParam(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	for i, pair := range pairs {
		eq := strings.Index(pair, "=")
		if eq < 0 {
			continue
		}
		key, err := url.QueryUnescape(pair[:eq])
		if err != nil || key != "url" {
			continue
		}
		value, err := url.QueryUnescape(pair[eq+1:])
		if err != nil {
			continue
		}
		pairs[i] = pair[:eq+1] + url.QueryEscape(Canonicalize(value))
	}
	return strings.Join(pairs, "&")
}

// RegisteredDomain returns the eTLD+1 of a URL's host ("blog.example.co.uk"
// -> "example.co.uk"). IP hosts are returned as is. Falls back to the
// lowercased host when the public suffix list cannot resolve it, and to ""
// for unparseable URLs.
func RegisteredDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// SocialMetaTags collects og:* and twitter:* meta properties from a full
// page's HTML, keyed without their prefixes.
func SocialMetaTags(pageHTML string) model.SocialMeta {
	meta := model.SocialMeta{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return meta
	}

	og := make(map[string]string)
	twitter := make(map[string]string)

	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		content, hasContent := sel.Attr("content")
		if !hasContent {
			return
		}
		if prop, ok := sel.Attr("property"); ok && strings.HasPrefix(prop, "og:") {
			if key := prop[len("og:"):]; key != "" {
				og[key] = content
			}
		}
		if name, ok := sel.Attr("name"); ok && strings.HasPrefix(name, "twitter:") {
			if key := name[len("twitter:"):]; key != "" {
				twitter[key] = content
			}
		}
	})

	if len(og) > 0 {
		meta.OG = og
	}
	if len(twitter) > 0 {
		meta.Twitter = twitter
	}
	return meta
}

const acceptableLinkTextLen = 40

// ImproveLinkText reduces a link's multi-line anchor text to its longest
// line, stopping early once the line is long enough to be descriptive.
func ImproveLinkText(text string) string {
	best := ""
	for _, line := range strings.Split(text, "\n") {
		if len(line) > len(best) {
			best = line
		}
		if len(best) > acceptableLinkTextLen {
			break
		}
	}
	return best
}

// ImproveTextContent strips blank lines and per-line whitespace from the
// extractor's plain-text output.
func ImproveTextContent(text string) string {
	lines := make([]string, 0, 16)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// TextLength is the page-record length metric: characters of text content
// not counting newlines.
func TextLength(text string) int {
	return utf8.RuneCountInString(text) - strings.Count(text, "\n")
}
