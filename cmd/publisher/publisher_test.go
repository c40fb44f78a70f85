package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/media-publisher/internal/lifecycle"
	"github.com/fpang/media-publisher/internal/store"
)

func TestSummaryTable(t *testing.T) {
	out := summaryTable([]lifecycle.Summary{
		{JobID: "job-1", Platform: store.PlatformX, WPID: "7", Status: "1850000000000000000", UpdatedAt: 1700000000},
		{JobID: "job-2", Platform: store.PlatformInstagram, WPID: "7", Status: "ERROR,publish,190"},
	})
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "2023-11-14T22:13:20Z")
	assert.Contains(t, out, "ERROR,publish,190")
	assert.Less(t, strings.Index(out, "job-1"), strings.Index(out, "job-2"))
}

func TestJobTable_OmitsToken(t *testing.T) {
	out := jobTable(&store.Job{
		ID:          "job-1",
		Platform:    store.PlatformInstagram,
		Status:      "pending",
		TokenCipher: "c2VhbGVk",
		InBucket:    "uploads",
		InKey:       "in/job-1.mov",
		MediaURLs:   []string{"https://uploads.s3/in/a.jpg"},
	})
	assert.Contains(t, out, "uploads/in/job-1.mov")
	assert.Contains(t, out, "media_urls[0]")
	assert.NotContains(t, out, "c2VhbGVk")
}

func TestReportTable(t *testing.T) {
	out := reportTable(&lifecycle.Report{
		Deleted:  []lifecycle.ObjectRef{{Bucket: "uploads", Key: "in/a.mov"}},
		Failures: []lifecycle.CleanupFailure{{Bucket: "outputs", Key: "converted/a.mp4", Error: "access denied"}},
	})
	assert.Contains(t, out, "deleted")
	assert.Contains(t, out, "failed: access denied")
}

func TestPrintJSON_OmitsToken(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, &store.Job{ID: "job-1", TokenCipher: "c2VhbGVk"}))
	assert.Contains(t, buf.String(), `"job_id": "job-1"`)
	assert.NotContains(t, buf.String(), "c2VhbGVk")
}

func TestRenderTable_PadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "only")
	assert.Empty(t, renderTable(nil, nil, nil))
}
