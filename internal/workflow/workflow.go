// Package workflow starts the external publish orchestrator. Three
// backends are supported: a Step Functions state machine, an EventBridge
// bus whose rule targets the state machine, or a direct asynchronous
// Lambda invocation.
package workflow

import (
	"context"
	"regexp"
)

// ObjectFacts describes the transcoded object handed to the workflow.
type ObjectFacts struct {
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
}

// PublishInput is the workflow start payload. X jobs submitted without an
// upload carry only JobID. It never contains credentials.
type PublishInput struct {
	JobID    string       `json:"job_id"`
	VideoURL string       `json:"video_url,omitempty"`
	Bucket   string       `json:"bucket,omitempty"`
	Key      string       `json:"key,omitempty"`
	Object   *ObjectFacts `json:"object,omitempty"`
}

// Starter begins one publish run. name identifies the run; starting the
// same name twice must not start a second run.
type Starter interface {
	Start(ctx context.Context, name string, input PublishInput) (runID string, err error)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// executionName maps name onto the Step Functions name alphabet (80 chars).
func executionName(name string) string {
	n := unsafeName.ReplaceAllString(name, "-")
	if len(n) > 80 {
		n = n[:80]
	}
	return n
}
