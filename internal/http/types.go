package http

import (
	"trawler/internal/model"
)

// ErrorResponse is the uniform error body for every endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// AsyncDeepScrapeRequest is the POST /api/deep-scrape/async body.
type AsyncDeepScrapeRequest struct {
	URL                  string            `json:"url"`
	Depth                int               `json:"depth"`
	MaxURLsPerLevel      int               `json:"max_urls_per_level"`
	SameDomainOnly       *bool             `json:"same_domain_only"`
	DelayBetweenRequests float64           `json:"delay_between_requests"`
	ExcludePatterns      []string          `json:"exclude_patterns"`
	Cache                *bool             `json:"cache"`
	Screenshot           bool              `json:"screenshot"`
	Proxy                string            `json:"proxy"`
	UserAgent            string            `json:"user_agent"`
	TimeoutSeconds       int               `json:"timeout"`
	ViewportWidth        int               `json:"viewport_width"`
	ViewportHeight       int               `json:"viewport_height"`
	ExtraHeaders         map[string]string `json:"extra_headers"`
	Cookies              []model.Cookie    `json:"cookies"`
	FullContent          bool              `json:"include_raw_html"`
}

// AsyncEnqueueResponse acknowledges a freshly queued job.
type AsyncEnqueueResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
	Message   string `json:"message"`
}

// CacheHitResponse short-circuits the async path when the result already
// exists in the cache.
type CacheHitResponse struct {
	Success   bool   `json:"success"`
	FromCache bool   `json:"from_cache"`
	ResultID  string `json:"result_id"`
	ResultURI string `json:"resultUri"`
	Message   string `json:"message"`
}

// JobStatusResponse is the GET /api/deep-scrape/status/{job_id} body.
type JobStatusResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Error     string `json:"error,omitempty"`
	ResultID  string `json:"result_id,omitempty"`
}

// JobProgressResponse is the GET /api/deep-scrape/progress/{job_id} body.
type JobProgressResponse struct {
	Success  bool            `json:"success"`
	JobID    string          `json:"job_id"`
	Progress *model.Progress `json:"progress"`
}

// MarkdownResponse carries the consolidated Markdown rendering of a
// crawl result.
type MarkdownResponse struct {
	ID            string `json:"id"`
	BaseURL       string `json:"base_url"`
	Domain        string `json:"domain"`
	Date          string `json:"date"`
	TotalPages    int    `json:"total_pages"`
	Markdown      string `json:"markdown"`
	ResultURI     string `json:"resultUri"`
	ScreenshotURI string `json:"screenshotUri,omitempty"`
}
