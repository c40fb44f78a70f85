package publish

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fpang/media-publisher/internal/store"
	"github.com/fpang/media-publisher/internal/workflow"
)

// Request is what an adapter sees for one step. Token is the unsealed
// platform credential and must not be logged or returned.
type Request struct {
	Job      *store.Job
	Token    string
	MediaURL string
	Object   *workflow.ObjectFacts
	Session  *Session
}

// StageFailure is an expected, non-retryable platform failure. It becomes
// the terminal status ERROR,<stage>,<code>.
type StageFailure struct {
	Stage      string
	Code       string
	StatusCode int
	Message    string
}

// RateLimit is a 429 answer; nothing is written and the orchestrator
// retries after WaitSeconds.
type RateLimit struct {
	Stage       string
	WaitSeconds int64
	WaitMinutes int64
	ResetAt     int64
}

// Outcome is an adapter's typed result. At most one of Failure,
// RateLimit or a terminal Status is set.
type Outcome struct {
	Complete   bool
	Status     string
	Attrs      map[string]any
	Session    *Session
	CheckAfter int
	PostID     string
	Failure    *StageFailure
	RateLimit  *RateLimit
}

// Adapter is one platform's publish protocol. Initialize opens the
// platform-side upload, Advance performs one unit of progress or one poll,
// Finalize publishes. Returned errors are transient and left to the
// orchestrator's retry policy; expected rejections come back as
// Outcome.Failure.
type Adapter interface {
	Platform() store.Platform
	Initialize(ctx context.Context, req Request) (*Outcome, error)
	Advance(ctx context.Context, req Request) (*Outcome, error)
	Finalize(ctx context.Context, req Request) (*Outcome, error)
}

// rejected reports whether an HTTP status is a non-retryable client error.
func rejected(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

// classify turns a platform call error into a StageFailure when the
// platform rejected the request, or returns it as transient.
func classify(stage string, status int, err error) (*Outcome, error) {
	if rejected(status) {
		return &Outcome{
			Complete: true,
			Failure: &StageFailure{
				Stage:      stage,
				Code:       fmt.Sprint(status),
				StatusCode: status,
				Message:    err.Error(),
			},
		}, nil
	}
	return nil, fmt.Errorf("%s: %w", stage, err)
}

func failed(stage, code, msg string) *Outcome {
	return &Outcome{Complete: true, Failure: &StageFailure{Stage: stage, Code: code, Message: msg}}
}
