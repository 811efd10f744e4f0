package formats

import (
	"fmt"
	"regexp"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"trawler/internal/model"
)

var (
	tripleBlankRe = regexp.MustCompile(`\n\s*\n\s*\n`)
	spaceRunRe    = regexp.MustCompile(`[ \t]+`)
)

// HTMLToMarkdown converts readable article HTML into Markdown. Script and
// style subtrees are removed before conversion; afterwards runs of blank
// lines are collapsed to one empty line, runs of spaces and tabs to a
// single space, and the result is trimmed. Plain text wrapped in a
// paragraph tag comes back unchanged.
func HTMLToMarkdown(htmlContent string) string {
	if htmlContent == "" {
		return ""
	}

	cleaned := htmlContent
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent)); err == nil {
		doc.Find("script, style").Remove()
		if body, err := doc.Find("body").Html(); err == nil {
			cleaned = body
		}
	}

	converter := htmlmd.NewConverter("", true, &htmlmd.Options{EmDelimiter: "*"})
	markdown, err := converter.ConvertString(cleaned)
	if err != nil {
		// Conversion failure degrades to the tag-stripped text rather
		// than dropping the page.
		if doc, derr := goquery.NewDocumentFromReader(strings.NewReader(cleaned)); derr == nil {
			markdown = doc.Text()
		} else {
			markdown = cleaned
		}
	}

	markdown = tripleBlankRe.ReplaceAllString(markdown, "\n\n")
	markdown = spaceRunRe.ReplaceAllString(markdown, " ")
	return strings.TrimSpace(markdown)
}

// ConsolidatedMarkdown renders a crawl result as one Markdown document:
// header block, table of contents, then every page grouped by level.
func ConsolidatedMarkdown(result *model.CrawlResult) string {
	var b []string

	b = append(b, fmt.Sprintf("# Deep Scraping Results: %s", result.Domain))
	b = append(b, fmt.Sprintf("**Base URL:** %s", result.BaseURL))
	b = append(b, fmt.Sprintf("**Date:** %s", result.Date))
	b = append(b, fmt.Sprintf("**Total Pages:** %d", result.TotalPages))
	b = append(b, fmt.Sprintf("**Levels:** %d", len(result.Levels)))
	b = append(b, "\n---\n")

	b = append(b, "## Table of Contents")
	counter := 1
	for _, level := range result.Levels {
		for _, page := range level.Pages {
			title := page.Title
			if title == "" {
				title = fmt.Sprintf("Page %d", counter)
			}
			b = append(b, fmt.Sprintf("%d. %s", counter, title))
			counter++
		}
	}
	b = append(b, "\n---\n")

	for _, level := range result.Levels {
		b = append(b, fmt.Sprintf("## Level %d", level.Level))
		b = append(b, fmt.Sprintf("*%d pages at this level*\n", len(level.Pages)))

		for _, page := range level.Pages {
			title := page.Title
			if title == "" {
				title = "Untitled Page"
			}
			b = append(b, fmt.Sprintf("### %s", title))
			b = append(b, fmt.Sprintf("**URL:** %s", page.URL))
			if page.Byline != "" {
				b = append(b, fmt.Sprintf("**Author:** %s", page.Byline))
			}
			if page.Excerpt != "" {
				b = append(b, fmt.Sprintf("*%s*", page.Excerpt))
			}
			b = append(b, "")
			if page.ContentMarkdown != "" {
				b = append(b, page.ContentMarkdown)
			}
			b = append(b, "\n---\n")
		}
	}

	return strings.Join(b, "\n")
}
