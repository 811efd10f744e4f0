package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"github.com/ysmood/gson"
)

// RodRenderer renders pages with a real browser (via rod) so JS-heavy
// sites and the in-page extractor scripts work. It manages one shared
// local headless Chromium instance, launched lazily on first use; each
// render gets its own page, owned exclusively by that render and disposed
// on Close.
type RodRenderer struct {
	mu      sync.Mutex
	browser *rod.Browser
	cleanup func()
	logger  zerolog.Logger
}

func NewRodRenderer(logger zerolog.Logger) *RodRenderer {
	return &RodRenderer{logger: logger}
}

// sharedBrowser launches the process-wide browser on first touch.
func (r *RodRenderer) sharedBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	browser, kill, err := launchBrowser("")
	if err != nil {
		return nil, err
	}
	r.browser = browser
	r.cleanup = kill
	r.logger.Info().Msg("headless browser launched")
	return browser, nil
}

// Close shuts the shared browser down. Only called at process exit.
func (r *RodRenderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		_ = r.browser.Close()
		r.browser = nil
	}
	if r.cleanup != nil {
		r.cleanup()
		r.cleanup = nil
	}
}

func (r *RodRenderer) Render(ctx context.Context, rawURL string, opts RenderOptions, initScripts []string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}

	var (
		browser    *rod.Browser
		ownBrowser bool
		kill       func()
	)
	if opts.Proxy != "" {
		// A proxy applies to the whole browser process, so proxied
		// renders get a dedicated instance.
		browser, kill, err = launchBrowser(opts.Proxy)
		ownBrowser = true
	} else {
		browser, err = r.sharedBrowser()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNavigation, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		if ownBrowser {
			_ = browser.Close()
			kill()
		}
		return nil, fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	page = page.Context(ctx).Timeout(timeout)

	rp := &rodPage{page: page}
	if ownBrowser {
		rp.ownedBrowser = browser
		rp.killBrowser = kill
	}

	if err := preparePage(page, opts, initScripts); err != nil {
		_ = rp.Close()
		return nil, err
	}

	if err := page.Navigate(u.String()); err != nil {
		_ = rp.Close()
		return nil, fmt.Errorf("%w: %v", ErrNavigation, err)
	}

	switch opts.WaitUntil {
	case "domcontentloaded":
		if err := page.WaitDOMStable(300*time.Millisecond, 0); err != nil {
			_ = rp.Close()
			return nil, fmt.Errorf("%w: %v", ErrNavigation, err)
		}
	default:
		if err := page.WaitLoad(); err != nil {
			_ = rp.Close()
			return nil, fmt.Errorf("%w: %v", ErrNavigation, err)
		}
	}

	return rp, nil
}

// preparePage applies viewport, user agent, headers, cookies, and init
// scripts before navigation so the extractor libraries are present when
// the document loads.
func preparePage(page *rod.Page, opts RenderOptions, initScripts []string) error {
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.ViewportWidth,
			Height:            opts.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("%w: set viewport: %v", ErrNavigation, err)
		}
	}

	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return fmt.Errorf("%w: set user agent: %v", ErrNavigation, err)
		}
	}

	if len(opts.ExtraHeaders) > 0 {
		headers := make(proto.NetworkHeaders, len(opts.ExtraHeaders))
		for k, v := range opts.ExtraHeaders {
			headers[k] = gson.New(v)
		}
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: headers}).Call(page); err != nil {
			return fmt.Errorf("%w: set headers: %v", ErrNavigation, err)
		}
	}

	if len(opts.Cookies) > 0 {
		cookies := make([]*proto.NetworkCookieParam, 0, len(opts.Cookies))
		for _, c := range opts.Cookies {
			cookies = append(cookies, &proto.NetworkCookieParam{
				Name:   c.Name,
				Value:  c.Value,
				Domain: c.Domain,
				Path:   c.Path,
			})
		}
		if err := page.SetCookies(cookies); err != nil {
			return fmt.Errorf("%w: set cookies: %v", ErrNavigation, err)
		}
	}

	for _, script := range initScripts {
		if _, err := page.EvalOnNewDocument(script); err != nil {
			return fmt.Errorf("%w: init script: %v", ErrScript, err)
		}
	}

	return nil
}

// launchBrowser starts a local Chromium and connects to it, optionally
// through a proxy. The returned kill func tears the process down when
// Close alone is not enough.
func launchBrowser(proxy string) (*rod.Browser, func(), error) {
	var l *launcher.Launcher
	if path, has := launcher.LookPath(); has {
		l = launcher.New().Bin(path)
	} else {
		l = launcher.New()
	}
	l = l.Headless(true).NoSandbox(true)
	if proxy != "" {
		l = l.Proxy(proxy)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, nil, err
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, nil, err
	}
	return browser, l.Kill, nil
}

// rodPage adapts a rod page to the Page interface.
type rodPage struct {
	page         *rod.Page
	ownedBrowser *rod.Browser
	killBrowser  func()
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) HTML() (string, error) {
	html, err := p.page.HTML()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoContent, err)
	}
	if html == "" {
		return "", ErrNoContent
	}
	return html, nil
}

func (p *rodPage) Eval(script string) (json.RawMessage, error) {
	res, err := p.page.Eval(script)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}
	return raw, nil
}

func (p *rodPage) Screenshot() ([]byte, error) {
	return p.page.Screenshot(false, nil)
}

func (p *rodPage) Close() error {
	err := p.page.Close()
	if p.ownedBrowser != nil {
		_ = p.ownedBrowser.Close()
	}
	if p.killBrowser != nil {
		p.killBrowser()
	}
	return err
}
