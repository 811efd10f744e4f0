package crawler

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	robotstxt "github.com/temoto/robotstxt"

	"trawler/internal/formats"
	"trawler/internal/metrics"
	"trawler/internal/model"
	"trawler/internal/scraper"
	"trawler/internal/scrapeutil"
)

// maxLinksPerPage caps how many discovered links a single page may
// contribute to the next level.
const maxLinksPerPage = 20

// ProgressFunc receives a fresh snapshot after every rendered page and at
// the end of every level.
type ProgressFunc func(model.Progress)

// Options configures a Crawler.
type Options struct {
	Renderer       scraper.Renderer
	InitScripts    []string
	DefaultTimeout time.Duration
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	RespectRobots  bool
	HTTPClient     *http.Client
	Logger         zerolog.Logger
}

// Crawler runs breadth-first deep crawls: level by level from a seed URL,
// rendering each page, extracting the readable article and the links that
// feed the next level.
type Crawler struct {
	renderer       scraper.Renderer
	initScripts    []string
	defaultTimeout time.Duration
	viewportWidth  int
	viewportHeight int
	userAgent      string
	respectRobots  bool
	httpClient     *http.Client
	logger         zerolog.Logger
}

func New(opts Options) *Crawler {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 60 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Crawler{
		renderer:       opts.Renderer,
		initScripts:    opts.InitScripts,
		defaultTimeout: opts.DefaultTimeout,
		viewportWidth:  opts.ViewportWidth,
		viewportHeight: opts.ViewportHeight,
		userAgent:      opts.UserAgent,
		respectRobots:  opts.RespectRobots,
		httpClient:     opts.HTTPClient,
		logger:         opts.Logger,
	}
}

type queueItem struct {
	url         string
	depth       int
	parentIndex int
}

// Run executes one crawl and returns the aggregated result plus the
// base-page screenshot when one was requested. Per-page failures are
// logged and skipped; the crawl itself only fails on a canceled context.
// The caller assigns the result ID, query map, and URIs.
func (c *Crawler) Run(ctx context.Context, req model.CrawlRequest, progressFn ProgressFunc) (*model.CrawlResult, []byte, error) {
	req.ApplyDefaults()
	ds := req.DeepScrape

	baseDomain := scrapeutil.RegisteredDomain(req.URL)
	c.logger.Info().
		Str("url", req.URL).
		Int("depth", ds.Depth).
		Int("max_urls_per_level", ds.MaxURLsPerLevel).
		Msg("starting deep scrape")

	var robotsData *robotstxt.RobotsData
	if c.respectRobots {
		if seed, err := url.Parse(req.URL); err == nil {
			robotsData, _ = fetchRobots(ctx, c.httpClient, seed, c.userAgent)
		}
	}

	renderOpts := c.renderOptions(req)
	articleScript := scraper.ArticleScript(
		req.Readability.MaxElemsToParse,
		req.Readability.NbTopCandidates,
		req.Readability.CharThreshold,
	)

	visited := make(map[string]struct{})
	queue := []queueItem{{url: req.URL, depth: 0, parentIndex: -1}}

	var (
		allPages       []model.Page
		levels         []model.Level
		baseScreenshot []byte
	)
	currentLevel := 0
	maxPercent := 0.0

	emit := func(p model.Progress) {
		if progressFn == nil {
			return
		}
		// Percent never regresses, even when truncated fan-out makes a
		// later batch smaller than the formula assumed.
		if p.Percent < maxPercent {
			p.Percent = maxPercent
		} else {
			maxPercent = p.Percent
		}
		progressFn(p)
	}

	for len(queue) > 0 && currentLevel < ds.Depth {
		var batch []queueItem
		for len(queue) > 0 && queue[0].depth == currentLevel {
			item := queue[0]
			queue = queue[1:]
			if _, seen := visited[item.url]; seen {
				continue
			}
			visited[item.url] = struct{}{}
			batch = append(batch, item)
		}
		if len(batch) == 0 {
			break
		}
		if len(batch) > ds.MaxURLsPerLevel {
			batch = batch[:ds.MaxURLsPerLevel]
		}

		c.logger.Info().Int("level", currentLevel).Int("urls", len(batch)).Msg("processing level")

		levelData := model.Level{Level: currentLevel}

		for i, item := range batch {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}

			func() {
				page, err := c.renderer.Render(ctx, item.url, renderOpts, c.initScripts)
				if err != nil {
					c.logger.Error().Err(err).Str("url", item.url).Msg("render failed")
					metrics.RecordPage("render_failed")
					return
				}
				defer page.Close()

				pageURL := page.URL()
				if pageURL == "" {
					pageURL = item.url
				}

				pageHTML, err := page.HTML()
				if err != nil {
					c.logger.Error().Err(err).Str("url", item.url).Msg("page returned no content")
					return
				}

				if currentLevel == 0 && i == 0 && req.Common.Screenshot {
					if shot, err := page.Screenshot(); err != nil {
						c.logger.Warn().Err(err).Str("url", item.url).Msg("screenshot failed")
					} else {
						baseScreenshot = shot
					}
				}

				var article *scraper.ArticleRecord
				if raw, err := page.Eval(articleScript); err != nil {
					c.logger.Error().Err(err).Str("url", item.url).Msg("article extractor failed")
				} else if article, err = scraper.DecodeArticle(raw); err != nil {
					c.logger.Error().Err(err).Str("url", item.url).Msg("article record undecodable")
				} else if article.Failed() {
					c.logger.Debug().Strs("err", errStrings(article)).Str("url", item.url).Msg("page not parseable as article")
					metrics.RecordPage("unparseable")
				}

				// Don't extract links on the last level to be rendered.
				if currentLevel+1 < ds.Depth {
					if raw, err := page.Eval(scraper.LinksScript()); err != nil {
						c.logger.Error().Err(err).Str("url", item.url).Msg("link extractor failed")
					} else {
						links := scraper.DecodeLinks(raw)
						if len(links) > maxLinksPerPage {
							links = links[:maxLinksPerPage]
						}
						for _, link := range links {
							abs := resolveLink(item.url, link.URL)
							if !validLink(abs, baseDomain, ds.SameDomainOnly, ds.ExcludePatterns, visited) {
								continue
							}
							if !robotsAllowed(robotsData, c.userAgent, abs) {
								continue
							}
							queue = append(queue, queueItem{
								url:         abs,
								depth:       currentLevel + 1,
								parentIndex: len(allPages),
							})
						}
					}
				}

				if !article.Failed() {
					record := model.Page{
						URL:             pageURL,
						Title:           article.Title,
						Content:         article.Content,
						ContentMarkdown: formats.HTMLToMarkdown(article.Content),
						TextContent:     article.TextContent,
						Byline:          article.Byline,
						Excerpt:         article.Excerpt,
						Length:          scrapeutil.TextLength(article.TextContent),
						Lang:            article.Lang,
						ParentIndex:     item.parentIndex,
						Level:           currentLevel,
						Meta:            scrapeutil.SocialMetaTags(pageHTML),
					}
					if req.Common.FullContent {
						record.FullContent = pageHTML
					}
					levelData.Pages = append(levelData.Pages, record)
					allPages = append(allPages, record)
					metrics.RecordPage("ok")
				}

				emit(model.Progress{
					CurrentLevel: currentLevel,
					CurrentPage:  i + 1,
					PagesInLevel: len(batch),
					TotalLevels:  ds.Depth,
					TotalPages:   len(allPages),
					LastURL:      item.url,
					Percent:      pagePercent(currentLevel, i, len(batch), ds.Depth),
				})

				if ds.DelayBetweenRequests > 0 {
					sleepCtx(ctx, time.Duration(ds.DelayBetweenRequests*float64(time.Second)))
				}
			}()
		}

		if len(levelData.Pages) > 0 {
			levels = append(levels, levelData)
		}

		emit(model.Progress{
			CurrentLevel: currentLevel + 1,
			TotalLevels:  ds.Depth,
			TotalPages:   len(allPages),
			Percent:      levelPercent(currentLevel, ds.Depth),
		})
		currentLevel++
	}

	result := &model.CrawlResult{
		BaseURL:    req.URL,
		Domain:     baseDomain,
		Date:       time.Now().UTC().Format(time.RFC3339),
		TotalPages: len(allPages),
		Levels:     levels,
	}

	c.logger.Info().Int("total_pages", result.TotalPages).Msg("deep scrape completed")
	return result, baseScreenshot, nil
}

func (c *Crawler) renderOptions(req model.CrawlRequest) scraper.RenderOptions {
	opts := scraper.RenderOptions{
		Timeout:        c.defaultTimeout,
		WaitUntil:      req.Browser.WaitUntil,
		ViewportWidth:  c.viewportWidth,
		ViewportHeight: c.viewportHeight,
		UserAgent:      c.userAgent,
		Proxy:          req.Browser.Proxy,
		ExtraHeaders:   req.Browser.ExtraHeaders,
	}
	if req.Browser.TimeoutMs > 0 {
		opts.Timeout = time.Duration(req.Browser.TimeoutMs) * time.Millisecond
	}
	if req.Browser.ViewportWidth > 0 {
		opts.ViewportWidth = req.Browser.ViewportWidth
	}
	if req.Browser.ViewportHeight > 0 {
		opts.ViewportHeight = req.Browser.ViewportHeight
	}
	if req.Browser.UserAgent != "" {
		opts.UserAgent = req.Browser.UserAgent
	}
	for _, cookie := range req.Browser.Cookies {
		opts.Cookies = append(opts.Cookies, scraper.Cookie{
			Name:   cookie.Name,
			Value:  cookie.Value,
			Domain: cookie.Domain,
			Path:   cookie.Path,
		})
	}
	return opts
}

// pagePercent implements the per-page progress formula, rounded to two
// decimals.
func pagePercent(level, pageIndex, pagesInLevel, depth int) float64 {
	if pagesInLevel == 0 || depth == 0 {
		return 0
	}
	v := 100 * (float64(level) + float64(pageIndex+1)/float64(pagesInLevel)) / float64(depth)
	return math.Round(v*100) / 100
}

// levelPercent is the end-of-level variant of the formula.
func levelPercent(level, depth int) float64 {
	if depth == 0 {
		return 0
	}
	return math.Round(100*float64(level+1)/float64(depth)*100) / 100
}

func errStrings(a *scraper.ArticleRecord) []string {
	if a == nil {
		return nil
	}
	return a.Err
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
