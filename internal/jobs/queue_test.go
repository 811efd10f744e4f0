package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trawler/internal/model"
)

func TestJobRecordRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job := Job{
		JobID:     "0f8fad5b-d9cb-469f-a165-70867728950e",
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		Params: model.CrawlRequest{
			URL: "https://a.example/",
			DeepScrape: model.DeepScrapeParams{
				Depth:                3,
				MaxURLsPerLevel:      10,
				SameDomainOnly:       true,
				DelayBetweenRequests: 1.0,
				ExcludePatterns:      []string{"/admin"},
			},
		},
		Progress: &model.Progress{CurrentLevel: 1, Percent: 33.33},
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, job, decoded)
}

func TestJobRecordOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Job{JobID: "x", Status: StatusPending})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "error")
	assert.NotContains(t, raw, "result_id")
	assert.NotContains(t, raw, "progress")
}

func TestLockKeyCollapsesEquivalentURLs(t *testing.T) {
	// Two workers racing on logically identical URLs must contend on the
	// same lock key.
	a := lockKey("https://A.example/path/?utm_source=x")
	b := lockKey("https://a.example/path#frag")
	assert.Equal(t, a, b)

	other := lockKey("https://a.example/other")
	assert.NotEqual(t, a, other)

	assert.Equal(t, "lock:https://a.example/path", a)
}

func TestJobKeyAndProgressKey(t *testing.T) {
	assert.Equal(t, "deep_scrape_job:abc", jobKey("abc"))
	assert.Equal(t, "job_progress:abc", progressKey("abc"))
}
