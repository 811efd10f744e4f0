package formats

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trawler/internal/model"
)

func TestHTMLToMarkdownPlainText(t *testing.T) {
	// A markdown-free string wrapped in a paragraph must come back as-is.
	got := HTMLToMarkdown("<p>just some ordinary words</p>")
	assert.Equal(t, "just some ordinary words", got)
}

func TestHTMLToMarkdownElements(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<h1>Title</h1>", "# Title"},
		{"<h3>Sub</h3>", "### Sub"},
		{`<a href="https://x.example/p">go</a>`, "[go](https://x.example/p)"},
		{"<strong>bold</strong>", "**bold**"},
		{"<em>it</em>", "*it*"},
		{"<code>x()</code>", "`x()`"},
		{"<blockquote>quoted</blockquote>", "> quoted"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTMLToMarkdown(tc.in), "input %q", tc.in)
	}
}

func TestHTMLToMarkdownLists(t *testing.T) {
	got := HTMLToMarkdown("<ul><li>one</li><li>two</li></ul>")
	assert.Contains(t, got, "- one")
	assert.Contains(t, got, "- two")

	ordered := HTMLToMarkdown("<ol><li>first</li><li>second</li></ol>")
	assert.Contains(t, ordered, "1. first")
	assert.Contains(t, ordered, "2. second")
}

func TestHTMLToMarkdownStripsScriptsAndStyles(t *testing.T) {
	in := `<div><script>alert("no")</script><style>p{color:red}</style><p>kept</p></div>`
	got := HTMLToMarkdown(in)
	assert.Equal(t, "kept", got)
}

func TestHTMLToMarkdownCollapsesWhitespace(t *testing.T) {
	got := HTMLToMarkdown("<p>a</p><p>b</p><p>c</p>")
	assert.NotContains(t, got, "\n\n\n")
	assert.False(t, strings.Contains(got, "  "), "runs of spaces must collapse: %q", got)
}

func TestHTMLToMarkdownEmpty(t *testing.T) {
	assert.Equal(t, "", HTMLToMarkdown(""))
}

func TestConsolidatedMarkdown(t *testing.T) {
	result := &model.CrawlResult{
		ID:         "abc",
		BaseURL:    "https://a.example/",
		Domain:     "a.example",
		Date:       "2025-01-02T03:04:05Z",
		TotalPages: 2,
		Levels: []model.Level{
			{
				Level: 0,
				Pages: []model.Page{{
					URL:             "https://a.example/",
					Title:           "Home",
					Byline:          "Jo Author",
					Excerpt:         "intro",
					ContentMarkdown: "# Home\n\nwelcome",
				}},
			},
			{
				Level: 1,
				Pages: []model.Page{{
					URL:             "https://a.example/about",
					ContentMarkdown: "about text",
				}},
			},
		},
	}

	md := ConsolidatedMarkdown(result)

	require.True(t, strings.HasPrefix(md, "# Deep Scraping Results: a.example"))
	assert.Contains(t, md, "**Base URL:** https://a.example/")
	assert.Contains(t, md, "**Total Pages:** 2")
	assert.Contains(t, md, "## Table of Contents")
	assert.Contains(t, md, "1. Home")
	// Untitled pages get a numbered placeholder in the TOC.
	assert.Contains(t, md, "2. Page 2")
	assert.Contains(t, md, "## Level 0")
	assert.Contains(t, md, "## Level 1")
	assert.Contains(t, md, "**Author:** Jo Author")
	assert.Contains(t, md, "### Untitled Page")
	assert.Contains(t, md, "about text")
}
