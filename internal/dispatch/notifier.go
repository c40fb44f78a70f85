// Package dispatch reacts to transcoded objects landing in the output
// prefix: it signs a download grant, starts the publish workflow for the
// owning job, and notifies the uploader's webhook.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/metrics"
	"github.com/fpang/media-publisher/internal/s3util"
	"github.com/fpang/media-publisher/internal/workflow"
)

// EventObjectConverted is the webhook event name.
const EventObjectConverted = "object_converted"

// DefaultGrantTTL is how long the published download grant stays valid.
const DefaultGrantTTL = time.Hour

// Payload is the webhook body.
type Payload struct {
	Event       string            `json:"event"`
	JobID       string            `json:"job_id,omitempty"`
	Bucket      string            `json:"bucket"`
	Key         string            `json:"key"`
	URL         string            `json:"url"`
	ExpiresIn   int               `json:"expires_in"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	ETag        string            `json:"etag"`
	Metadata    map[string]string `json:"metadata"`
}

// Deliverer posts a webhook payload.
type Deliverer interface {
	Deliver(ctx context.Context, url string, payload any) error
}

// Notifier handles output-object events.
type Notifier struct {
	Objects   s3util.ObjectStore
	Starter   workflow.Starter
	Callbacks Deliverer
	// Prefix limits which keys are handled; empty handles all.
	Prefix   string
	GrantTTL time.Duration
}

// Outcome reports what Notify did.
type Outcome struct {
	Skipped         bool
	RunID           string
	WorkflowStarted bool
	CallbackSent    bool
	CallbackErr     error
}

// Notify handles one output object. Only workflow start failures are
// returned: a webhook that keeps failing is logged and reported in the
// Outcome, since redelivering the event would not help it.
func (n *Notifier) Notify(ctx context.Context, bucket, key string) (*Outcome, error) {
	logger := log.With().Str("bucket", bucket).Str("key", key).Logger()
	if n.Prefix != "" && !strings.HasPrefix(key, n.Prefix) {
		logger.Debug().Str("prefix", n.Prefix).Msg("Skipping key outside output prefix")
		return &Outcome{Skipped: true}, nil
	}

	info, err := n.Objects.Head(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	ttl := n.GrantTTL
	if ttl == 0 {
		ttl = DefaultGrantTTL
	}
	url, err := n.Objects.PresignGet(ctx, bucket, key, ttl)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	jobID := info.Metadata[s3util.MetaJobID]
	rec := metrics.New(metrics.Namespace).Dimension("Stage", "dispatch")

	if jobID != "" && n.Starter != nil {
		runID, err := n.Starter.Start(ctx, jobID, workflow.PublishInput{
			JobID:    jobID,
			VideoURL: url,
			Bucket:   bucket,
			Key:      key,
			Object: &workflow.ObjectFacts{
				Size:        info.Size,
				ContentType: info.ContentType,
				ETag:        info.ETag,
			},
		})
		if err != nil {
			rec.Count("WorkflowStartErrors").Flush()
			return nil, fmt.Errorf("start workflow for job %s: %w", jobID, err)
		}
		out.RunID, out.WorkflowStarted = runID, true
		rec.Count("WorkflowStarts")
	} else if jobID == "" {
		logger.Info().Msg("No job id on object, workflow not started")
	}

	if target := s3util.Callback(info.Metadata); target != "" && n.Callbacks != nil {
		md := make(map[string]string, len(info.Metadata))
		for k, v := range info.Metadata {
			if k != s3util.MetaCallback {
				md[k] = v
			}
		}
		err := n.Callbacks.Deliver(ctx, target, Payload{
			Event:       EventObjectConverted,
			JobID:       jobID,
			Bucket:      bucket,
			Key:         key,
			URL:         url,
			ExpiresIn:   int(ttl.Seconds()),
			Size:        info.Size,
			ContentType: info.ContentType,
			ETag:        info.ETag,
			Metadata:    md,
		})
		if err != nil {
			out.CallbackErr = err
			rec.Count("CallbackErrors")
			logger.Error().Err(err).Str("jobId", jobID).Msg("Webhook delivery failed")
		} else {
			out.CallbackSent = true
			rec.Count("CallbacksSent")
		}
	}
	rec.Flush()

	logger.Info().
		Str("jobId", jobID).
		Bool("workflowStarted", out.WorkflowStarted).
		Bool("callbackSent", out.CallbackSent).
		Msg("Output object dispatched")
	return out, nil
}
