// Package publish drives a job through its platform's publish protocol.
// Each orchestrator step arrives as a StageEvent and leaves as a
// StepResult; the Pipeline loads the job, unseals its token, calls the
// platform Adapter and records the outcome in the ledger.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fpang/media-publisher/internal/lifecycle"
	"github.com/fpang/media-publisher/internal/store"
	"github.com/fpang/media-publisher/internal/workflow"
)

// EventType names a pipeline step.
type EventType string

const (
	EventLoadJob    EventType = "load-job"
	EventInitialize EventType = "initialize"
	EventAdvance    EventType = "advance"
	EventFinalize   EventType = "finalize"
	EventCleanup    EventType = "cleanup"
)

// Session phases.
const (
	PhaseContainer  = "container"
	PhaseAppend     = "append"
	PhaseProcessing = "processing"
	PhaseReady      = "ready"
)

// Session is the adapter state carried between steps by the orchestrator.
// It never holds credentials.
type Session struct {
	Platform     store.Platform `json:"platform" validate:"required,oneof=ig x"`
	Phase        string         `json:"phase" validate:"required,oneof=container append processing ready"`
	MediaID      string         `json:"media_id,omitempty"`
	MediaType    string         `json:"media_type,omitempty"`
	MediaURL     string         `json:"media_url,omitempty"`
	TotalBytes   int64          `json:"total_bytes,omitempty" validate:"gte=0"`
	SegmentIndex int            `json:"segment_index,omitempty" validate:"gte=0"`
	MediaIndex   int            `json:"media_index,omitempty" validate:"gte=0"`
	MediaIDs     []string       `json:"media_ids,omitempty"`
	ContainerID  string         `json:"container_id,omitempty"`
	CheckAfter   int            `json:"check_after,omitempty" validate:"gte=0"`
}

// Failure is a stage failure reported by the orchestrator after its own
// retries ran out.
type Failure struct {
	Stage string `json:"stage" validate:"required,max=64"`
	Code  string `json:"code,omitempty" validate:"max=64"`
}

// StageEvent is the input of every pipeline step.
type StageEvent struct {
	Type     EventType             `json:"type" validate:"required,oneof=load-job initialize advance finalize cleanup"`
	JobID    string                `json:"job_id" validate:"required,max=128"`
	VideoURL string                `json:"video_url,omitempty" validate:"omitempty,url"`
	Bucket   string                `json:"bucket,omitempty"`
	Key      string                `json:"key,omitempty"`
	Object   *workflow.ObjectFacts `json:"object,omitempty"`
	Session  *Session              `json:"session,omitempty"`
	Failure  *Failure              `json:"failure,omitempty"`
}

// MalformedInputError rejects an event that does not match the schema.
type MalformedInputError struct {
	Field  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Field == "" {
		return "malformed input: " + e.Reason
	}
	return fmt.Sprintf("malformed input: %s: %s", e.Field, e.Reason)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the event against the stage schema.
func (e *StageEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &MalformedInputError{Field: fe.Namespace(), Reason: fe.Tag()}
		}
		return &MalformedInputError{Reason: err.Error()}
	}
	if (e.Type == EventAdvance || e.Type == EventFinalize) && e.Session == nil {
		return &MalformedInputError{Field: "session", Reason: "required for " + string(e.Type)}
	}
	return nil
}

// ParseEvent decodes and validates a raw event.
func ParseEvent(raw []byte) (*StageEvent, error) {
	var ev StageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, &MalformedInputError{Reason: err.Error()}
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// JobView is the public part of a job returned by load-job.
type JobView struct {
	JobID     string         `json:"job_id"`
	Platform  store.Platform `json:"platform"`
	Status    string         `json:"status"`
	WPID      string         `json:"wp_id,omitempty"`
	SiteURL   string         `json:"site_url,omitempty"`
	IGUserID  string         `json:"ig_user_id,omitempty"`
	Caption   string         `json:"caption,omitempty"`
	Text      string         `json:"text,omitempty"`
	MediaURLs []string       `json:"media_urls,omitempty"`
	OutBucket string         `json:"out_bucket,omitempty"`
	OutKey    string         `json:"out_key,omitempty"`
}

func viewOf(j *store.Job) *JobView {
	return &JobView{
		JobID:     j.ID,
		Platform:  j.Platform,
		Status:    j.Status,
		WPID:      j.WPID,
		SiteURL:   j.SiteURL,
		IGUserID:  j.IGUserID,
		Caption:   j.Caption,
		Text:      j.Text,
		MediaURLs: j.MediaURLs,
		OutBucket: j.OutBucket,
		OutKey:    j.OutKey,
	}
}

// StepResult is the output of every pipeline step. The orchestrator
// branches on Complete, Error and CheckAfter.
type StepResult struct {
	JobID       string            `json:"job_id"`
	Platform    store.Platform    `json:"platform,omitempty"`
	Complete    bool              `json:"complete"`
	Status      string            `json:"status"`
	CheckAfter  int               `json:"check_after,omitempty"`
	Session     *Session          `json:"session,omitempty"`
	Error       string            `json:"error,omitempty"`
	Message     string            `json:"message,omitempty"`
	StatusCode  int               `json:"status_code,omitempty"`
	Stage       string            `json:"stage,omitempty"`
	WaitSeconds int64             `json:"wait_seconds,omitempty"`
	WaitMinutes int64             `json:"wait_minutes,omitempty"`
	RetryAfter  int64             `json:"retry_after,omitempty"`
	PostID      string            `json:"post_id,omitempty"`
	Job         *JobView          `json:"job,omitempty"`
	Cleanup     *lifecycle.Report `json:"cleanup,omitempty"`
}
