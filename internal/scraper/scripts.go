package scraper

import (
	_ "embed"
	"fmt"
)

//go:embed scripts/article.js
var articleScriptTemplate string

//go:embed scripts/links.js
var linksScript string

// Defaults for the readability extractor, matching the upstream library.
const (
	DefaultMaxElemsToParse = 0 // 0 means no limit
	DefaultNbTopCandidates = 5
	DefaultCharThreshold   = 500
)

// ArticleScript renders the article-extractor blob with its tuning
// parameters interpolated. The blob is evaluated in the page and returns
// either an ArticleRecord or an {err: [...]} record.
func ArticleScript(maxElemsToParse, nbTopCandidates, charThreshold int) string {
	if nbTopCandidates <= 0 {
		nbTopCandidates = DefaultNbTopCandidates
	}
	if charThreshold <= 0 {
		charThreshold = DefaultCharThreshold
	}
	return fmt.Sprintf(articleScriptTemplate, maxElemsToParse, nbTopCandidates, charThreshold)
}

// LinksScript returns the link-extractor blob, which yields a list of
// {url, text} records.
func LinksScript() string {
	return linksScript
}
