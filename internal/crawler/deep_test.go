package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trawler/internal/model"
	"trawler/internal/scraper"
)

// fakePage is a canned rendered page for the fake renderer.
type fakePage struct {
	finalURL string
	html     string
	article  any // ArticleRecord-shaped map or {err: [...]} map
	links    []scraper.LinkRecord
}

type fakeRenderer struct {
	pages      map[string]*fakePage
	failures   map[string]error
	rendered   []string
	linksEvals int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		pages:    make(map[string]*fakePage),
		failures: make(map[string]error),
	}
}

func (r *fakeRenderer) Render(_ context.Context, url string, _ scraper.RenderOptions, _ []string) (scraper.Page, error) {
	if err, ok := r.failures[url]; ok {
		r.rendered = append(r.rendered, url)
		return nil, err
	}
	page, ok := r.pages[url]
	if !ok {
		page = &fakePage{article: map[string]any{"err": []string{"no such page"}}}
	}
	r.rendered = append(r.rendered, url)
	return &fakeRenderedPage{renderer: r, url: url, page: page}, nil
}

type fakeRenderedPage struct {
	renderer *fakeRenderer
	url      string
	page     *fakePage
}

func (p *fakeRenderedPage) URL() string {
	if p.page.finalURL != "" {
		return p.page.finalURL
	}
	return p.url
}

func (p *fakeRenderedPage) HTML() (string, error) {
	if p.page.html == "" {
		return "<html><body></body></html>", nil
	}
	return p.page.html, nil
}

func (p *fakeRenderedPage) Eval(script string) (json.RawMessage, error) {
	if strings.Contains(script, "querySelectorAll") {
		p.renderer.linksEvals++
		return json.Marshal(p.page.links)
	}
	return json.Marshal(p.page.article)
}

func (p *fakeRenderedPage) Screenshot() ([]byte, error) {
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (p *fakeRenderedPage) Close() error { return nil }

func article(title string) map[string]any {
	return map[string]any{
		"title":       title,
		"content":     "<p>" + title + " body</p>",
		"textContent": title + " body",
		"lang":        "en",
	}
}

func links(urls ...string) []scraper.LinkRecord {
	records := make([]scraper.LinkRecord, 0, len(urls))
	for _, u := range urls {
		records = append(records, scraper.LinkRecord{URL: u, Text: "link to " + u})
	}
	return records
}

func newTestCrawler(r scraper.Renderer) *Crawler {
	return New(Options{
		Renderer:       r,
		DefaultTimeout: time.Second,
		Logger:         zerolog.Nop(),
	})
}

func baseRequest(url string, depth, fanout int) model.CrawlRequest {
	return model.CrawlRequest{
		URL: url,
		DeepScrape: model.DeepScrapeParams{
			Depth:                depth,
			MaxURLsPerLevel:      fanout,
			SameDomainOnly:       true,
			DelayBetweenRequests: 0.001,
		},
	}
}

func TestDepthGating(t *testing.T) {
	r := newFakeRenderer()
	r.pages["https://a.example/"] = &fakePage{
		article: article("Home"),
		links: links(
			"https://a.example/p1",
			"https://a.example/p2",
			"https://a.example/p3",
			"https://a.example/p4",
			"https://a.example/p5",
		),
	}
	for i := 1; i <= 5; i++ {
		r.pages[fmt.Sprintf("https://a.example/p%d", i)] = &fakePage{
			article: article(fmt.Sprintf("P%d", i)),
		}
	}

	result, _, err := newTestCrawler(r).Run(context.Background(), baseRequest("https://a.example/", 2, 3), nil)
	require.NoError(t, err)

	// 1 seed + 3 level-1 pages; the fan-out cap truncates the batch.
	assert.Len(t, r.rendered, 4)
	assert.Equal(t, 4, result.TotalPages)
	require.Len(t, result.Levels, 2)

	// Level-1 batch holds the first 3 valid links in encounter order.
	level1 := result.Levels[1]
	require.Len(t, level1.Pages, 3)
	assert.Equal(t, "https://a.example/p1", level1.Pages[0].URL)
	assert.Equal(t, "https://a.example/p2", level1.Pages[1].URL)
	assert.Equal(t, "https://a.example/p3", level1.Pages[2].URL)
}

func TestDepthOneNeverExtractsLinks(t *testing.T) {
	r := newFakeRenderer()
	r.pages["https://a.example/"] = &fakePage{
		article: article("Home"),
		links:   links("https://a.example/p1"),
	}

	result, _, err := newTestCrawler(r).Run(context.Background(), baseRequest("https://a.example/", 1, 10), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example/"}, r.rendered)
	assert.Zero(t, r.linksEvals, "link extraction must not run when depth=1")
	assert.Equal(t, 1, result.TotalPages)
}

func TestPartialFailure(t *testing.T) {
	r := newFakeRenderer()
	var level1 []string
	for i := 0; i < 10; i++ {
		u := fmt.Sprintf("https://a.example/page%d", i)
		level1 = append(level1, u)
		if i == 3 || i == 7 {
			r.failures[u] = scraper.ErrNavigation
		} else {
			r.pages[u] = &fakePage{article: article(fmt.Sprintf("Page %d", i))}
		}
	}
	r.pages["https://a.example/"] = &fakePage{article: article("Home"), links: links(level1...)}

	result, _, err := newTestCrawler(r).Run(context.Background(), baseRequest("https://a.example/", 2, 10), nil)
	require.NoError(t, err, "render failures must not propagate")

	require.Len(t, result.Levels, 2)
	assert.Len(t, result.Levels[1].Pages, 8)
	assert.Equal(t, 9, result.TotalPages)
}

func TestNoURLRenderedTwice(t *testing.T) {
	r := newFakeRenderer()
	// Every page links back to the seed and to each other.
	all := links("https://a.example/", "https://a.example/x", "https://a.example/y")
	r.pages["https://a.example/"] = &fakePage{article: article("Home"), links: all}
	r.pages["https://a.example/x"] = &fakePage{article: article("X"), links: all}
	r.pages["https://a.example/y"] = &fakePage{article: article("Y"), links: all}

	_, _, err := newTestCrawler(r).Run(context.Background(), baseRequest("https://a.example/", 4, 10), nil)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, u := range r.rendered {
		seen[u]++
	}
	for u, n := range seen {
		assert.Equal(t, 1, n, "url %s rendered %d times", u, n)
	}
}

func TestExtractionErrIsSoft(t *testing.T) {
	r := newFakeRenderer()
	// The seed is unparseable as an article, yet its links must still
	// feed the next level.
	r.pages["https://a.example/"] = &fakePage{
		article: map[string]any{"err": []string{"not an article"}},
		links:   links("https://a.example/p1"),
	}
	r.pages["https://a.example/p1"] = &fakePage{article: article("P1")}

	result, _, err := newTestCrawler(r).Run(context.Background(), baseRequest("https://a.example/", 2, 10), nil)
	require.NoError(t, err)

	require.Len(t, result.Levels, 1)
	assert.Equal(t, 1, result.Levels[0].Level)
	assert.Equal(t, "P1", result.Levels[0].Pages[0].Title)
	assert.Equal(t, 1, result.TotalPages)
}

func TestLinkFiltering(t *testing.T) {
	r := newFakeRenderer()
	r.pages["https://a.example/"] = &fakePage{
		article: article("Home"),
		links: append(links(
			"https://other.example/x",       // cross-domain
			"https://a.example/admin/panel", // hard-coded skip
			"https://a.example/file.pdf",    // extension skip
			"mailto:someone@a.example",      // scheme skip
			"https://a.example/private/p",   // user exclude
			"https://a.example/ok",
		), scraper.LinkRecord{URL: "#section", Text: "pure fragment"}),
	}
	r.pages["https://a.example/ok"] = &fakePage{article: article("OK")}

	req := baseRequest("https://a.example/", 2, 10)
	req.DeepScrape.ExcludePatterns = []string{"/private"}

	result, _, err := newTestCrawler(r).Run(context.Background(), req, nil)
	require.NoError(t, err)

	require.Len(t, result.Levels, 2)
	require.Len(t, result.Levels[1].Pages, 1)
	assert.Equal(t, "https://a.example/ok", result.Levels[1].Pages[0].URL)
}

func TestExcludePatternsAreCaseSensitive(t *testing.T) {
	r := newFakeRenderer()
	r.pages["https://a.example/"] = &fakePage{
		article: article("Home"),
		links:   links("https://a.example/Docs/x"),
	}
	r.pages["https://a.example/Docs/x"] = &fakePage{article: article("Docs")}

	req := baseRequest("https://a.example/", 2, 10)
	req.DeepScrape.ExcludePatterns = []string{"/docs"} // lowercase: no match

	result, _, err := newTestCrawler(r).Run(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, result.Levels, 2)
}

func TestRelativeLinksResolve(t *testing.T) {
	r := newFakeRenderer()
	r.pages["https://a.example/blog/"] = &fakePage{
		article: article("Blog"),
		links:   []scraper.LinkRecord{{URL: "post-1", Text: "post"}, {URL: "/about", Text: "about"}},
	}
	r.pages["https://a.example/blog/post-1"] = &fakePage{article: article("Post 1")}
	r.pages["https://a.example/about"] = &fakePage{article: article("About")}

	result, _, err := newTestCrawler(r).Run(context.Background(), baseRequest("https://a.example/blog/", 2, 10), nil)
	require.NoError(t, err)

	require.Len(t, result.Levels, 2)
	urls := []string{result.Levels[1].Pages[0].URL, result.Levels[1].Pages[1].URL}
	assert.Equal(t, []string{"https://a.example/blog/post-1", "https://a.example/about"}, urls)
}

func TestProgressMonotonicAndTerminal(t *testing.T) {
	r := newFakeRenderer()
	r.pages["https://a.example/"] = &fakePage{
		article: article("Home"),
		links:   links("https://a.example/p1", "https://a.example/p2"),
	}
	r.pages["https://a.example/p1"] = &fakePage{article: article("P1")}
	r.pages["https://a.example/p2"] = &fakePage{article: article("P2")}

	var snapshots []model.Progress
	_, _, err := newTestCrawler(r).Run(context.Background(), baseRequest("https://a.example/", 2, 10), func(p model.Progress) {
		snapshots = append(snapshots, p)
	})
	require.NoError(t, err)

	// At least one snapshot per rendered page plus one per level.
	require.GreaterOrEqual(t, len(snapshots), 3+2)

	last := 0.0
	for i, p := range snapshots {
		require.GreaterOrEqual(t, p.Percent, last, "snapshot %d regressed", i)
		last = p.Percent
	}
	assert.Equal(t, 100.0, snapshots[len(snapshots)-1].Percent)
}

func TestParentIndexes(t *testing.T) {
	r := newFakeRenderer()
	r.pages["https://a.example/"] = &fakePage{
		article: article("Home"),
		links:   links("https://a.example/p1", "https://a.example/p2"),
	}
	r.pages["https://a.example/p1"] = &fakePage{article: article("P1")}
	r.pages["https://a.example/p2"] = &fakePage{article: article("P2")}

	result, _, err := newTestCrawler(r).Run(context.Background(), baseRequest("https://a.example/", 2, 10), nil)
	require.NoError(t, err)

	assert.Equal(t, -1, result.Levels[0].Pages[0].ParentIndex)
	for _, p := range result.Levels[1].Pages {
		assert.Equal(t, 0, p.ParentIndex, "level-1 pages descend from the seed at flat index 0")
	}
}

func TestScreenshotOnlyForBasePage(t *testing.T) {
	r := newFakeRenderer()
	r.pages["https://a.example/"] = &fakePage{article: article("Home"), links: links("https://a.example/p1")}
	r.pages["https://a.example/p1"] = &fakePage{article: article("P1")}

	req := baseRequest("https://a.example/", 2, 10)
	req.Common.Screenshot = true

	_, shot, err := newTestCrawler(r).Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, shot)

	// Without the flag there is no screenshot.
	req.Common.Screenshot = false
	_, shot, err = newTestCrawler(r).Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Empty(t, shot)
}

func TestLinksCappedPerPage(t *testing.T) {
	var many []string
	for i := 0; i < 30; i++ {
		many = append(many, fmt.Sprintf("https://a.example/n%d", i))
	}
	r := newFakeRenderer()
	r.pages["https://a.example/"] = &fakePage{article: article("Home"), links: links(many...)}
	for _, u := range many {
		r.pages[u] = &fakePage{article: article(u)}
	}

	result, _, err := newTestCrawler(r).Run(context.Background(), baseRequest("https://a.example/", 2, 50), nil)
	require.NoError(t, err)

	// 20-link-per-page cap applies before the fan-out cap.
	require.Len(t, result.Levels, 2)
	assert.Len(t, result.Levels[1].Pages, 20)
}

func TestCanceledContextStopsCrawl(t *testing.T) {
	r := newFakeRenderer()
	r.pages["https://a.example/"] = &fakePage{article: article("Home")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestCrawler(r).Run(ctx, baseRequest("https://a.example/", 2, 10), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveLink(t *testing.T) {
	assert.Equal(t, "https://a.example/x", resolveLink("https://a.example/", "/x"))
	assert.Equal(t, "https://a.example/x", resolveLink("https://a.example/", "https://a.example/x#frag"))
	assert.Equal(t, "", resolveLink("https://a.example/", "#top"))
	assert.Equal(t, "", resolveLink("https://a.example/", "  "))
}

func TestValidLink(t *testing.T) {
	visited := map[string]struct{}{"https://a.example/seen": {}}

	assert.True(t, validLink("https://a.example/new", "a.example", true, nil, visited))
	assert.False(t, validLink("https://a.example/seen", "a.example", true, nil, visited))
	assert.False(t, validLink("ftp://a.example/file", "a.example", false, nil, visited))
	assert.False(t, validLink("https://b.example/x", "a.example", true, nil, visited))
	assert.True(t, validLink("https://b.example/x", "a.example", false, nil, visited))
	assert.False(t, validLink("https://a.example/Login", "a.example", true, nil, visited), "skip match is on the lowercased URL")
	assert.False(t, validLink("https://a.example/report.PDF", "a.example", true, nil, visited))
	assert.False(t, validLink("https://a.example/x", "a.example", true, []string{"/x"}, visited))
	assert.False(t, validLink("", "a.example", true, nil, visited))
}

func TestRenderFailureDoesNotAbort(t *testing.T) {
	r := newFakeRenderer()
	r.failures["https://a.example/"] = errors.New("boom")

	result, _, err := newTestCrawler(r).Run(context.Background(), baseRequest("https://a.example/", 2, 10), nil)
	require.NoError(t, err)
	assert.Zero(t, result.TotalPages)
	assert.Empty(t, result.Levels)
}
