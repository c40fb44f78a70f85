package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/jobs"
	"github.com/fpang/media-publisher/internal/lifecycle"
	"github.com/fpang/media-publisher/internal/metrics"
	"github.com/fpang/media-publisher/internal/s3util"
	"github.com/fpang/media-publisher/internal/store"
	"github.com/fpang/media-publisher/internal/vault"
)

// DefaultMediaTTL bounds the download grant minted when an event names an
// object instead of a URL.
const DefaultMediaTTL = time.Hour

// Cleaner removes the objects a finished job references.
type Cleaner interface {
	CleanupJob(ctx context.Context, jobID string, extra ...lifecycle.ObjectRef) (*lifecycle.Report, error)
}

// Pipeline runs stage events against the ledger and the platform adapters.
type Pipeline struct {
	ledger   store.Ledger
	cipher   vault.Cipher
	adapters map[store.Platform]Adapter

	// Objects mints media URLs for events that carry only a bucket and
	// key. Optional.
	Objects  s3util.ObjectStore
	MediaTTL time.Duration
	// Cleaner serves cleanup events. Optional.
	Cleaner Cleaner
}

// NewPipeline returns a Pipeline dispatching to adapters by platform.
func NewPipeline(ledger store.Ledger, cipher vault.Cipher, adapters ...Adapter) *Pipeline {
	p := &Pipeline{
		ledger:   ledger,
		cipher:   cipher,
		adapters: make(map[store.Platform]Adapter, len(adapters)),
		MediaTTL: DefaultMediaTTL,
	}
	for _, a := range adapters {
		p.adapters[a.Platform()] = a
	}
	return p
}

// Handle runs one stage event. Expected platform failures are recorded
// and returned as a complete result; a returned error means the step
// should be retried by the orchestrator, or, for MalformedInputError and
// store.ErrNotFound, that it never can succeed.
func (p *Pipeline) Handle(ctx context.Context, ev *StageEvent) (*StepResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	logger := log.With().Str("jobId", ev.JobID).Str("stage", string(ev.Type)).Logger()
	ctx = logger.WithContext(ctx)

	switch ev.Type {
	case EventLoadJob:
		return p.loadJob(ctx, ev)
	case EventCleanup:
		return p.cleanup(ctx, ev)
	}

	job, err := p.ledger.Get(ctx, ev.JobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", ev.JobID, err)
	}
	if jobs.IsTerminal(job.Status) {
		logger.Info().Str("status", job.Status).Msg("Job already terminal, skipping platform call")
		return &StepResult{JobID: job.ID, Platform: job.Platform, Complete: true, Status: job.Status}, nil
	}
	adapter, ok := p.adapters[job.Platform]
	if !ok {
		return nil, &MalformedInputError{Field: "platform", Reason: fmt.Sprintf("no adapter for %q", job.Platform)}
	}
	if ev.Session != nil && ev.Session.Platform != job.Platform {
		return nil, &MalformedInputError{Field: "session.platform", Reason: "does not match job"}
	}

	token, err := p.cipher.Decrypt(ctx, job.TokenCipher)
	if err != nil {
		return nil, fmt.Errorf("unseal token for %s: %w", job.ID, err)
	}
	mediaURL, err := p.mediaURL(ctx, ev, job)
	if err != nil {
		return nil, err
	}
	req := Request{Job: job, Token: token, MediaURL: mediaURL, Object: ev.Object, Session: ev.Session}

	start := time.Now()
	var out *Outcome
	switch ev.Type {
	case EventInitialize:
		out, err = adapter.Initialize(ctx, req)
	case EventAdvance:
		out, err = adapter.Advance(ctx, req)
	case EventFinalize:
		out, err = adapter.Finalize(ctx, req)
	}
	rec := metrics.New(metrics.Namespace).
		Dimension("Platform", string(job.Platform)).
		Dimension("Stage", string(ev.Type)).
		Since("StageMs", start)
	if err != nil {
		rec.Count("StageTransientErrors").Flush()
		logger.Warn().Err(err).Msg("Stage failed, leaving retry to the orchestrator")
		return nil, err
	}
	res, err := p.record(ctx, job, out)
	if err != nil {
		return nil, err
	}
	switch {
	case out.Failure != nil:
		rec.Count("StageFailures")
	case out.RateLimit != nil:
		rec.Count("RateLimited")
	case res.Complete:
		rec.Count("StageCompleted")
	}
	rec.Flush()
	return res, nil
}

func (p *Pipeline) mediaURL(ctx context.Context, ev *StageEvent, job *store.Job) (string, error) {
	if ev.VideoURL != "" {
		return ev.VideoURL, nil
	}
	bucket, key := ev.Bucket, ev.Key
	if key == "" && job.Platform == store.PlatformInstagram {
		bucket, key = job.OutBucket, job.OutKey
	}
	if bucket == "" || key == "" || p.Objects == nil || ev.Type != EventInitialize {
		return "", nil
	}
	u, err := p.Objects.PresignGet(ctx, bucket, key, p.MediaTTL)
	if err != nil {
		return "", fmt.Errorf("media grant for %s/%s: %w", bucket, key, err)
	}
	return u, nil
}

// record writes the outcome to the ledger and shapes the step result.
func (p *Pipeline) record(ctx context.Context, job *store.Job, out *Outcome) (*StepResult, error) {
	logger := zerolog.Ctx(ctx)
	res := &StepResult{
		JobID:      job.ID,
		Platform:   job.Platform,
		Complete:   out.Complete,
		Status:     job.Status,
		Session:    out.Session,
		CheckAfter: out.CheckAfter,
		PostID:     out.PostID,
	}

	status, attrs := out.Status, out.Attrs
	if f := out.Failure; f != nil {
		status = jobs.ErrorStatus(f.Stage, f.Code)
		attrs = map[string]any{"error_stage": f.Stage, "error_detail": truncate(f.Message, 500)}
		res.Error = f.Stage + "_failed"
		res.Message = f.Message
		res.Stage = f.Stage
		res.StatusCode = f.StatusCode
		res.Complete = true
		logger.Warn().Str("failedStage", f.Stage).Str("code", f.Code).Msg("Platform rejected stage")
	}
	if rl := out.RateLimit; rl != nil {
		res.Error = "rate_limit"
		res.Stage = rl.Stage
		res.StatusCode = 429
		res.WaitSeconds = rl.WaitSeconds
		res.WaitMinutes = rl.WaitMinutes
		res.RetryAfter = rl.ResetAt
		res.Message = fmt.Sprintf("rate limited, retry in about %d minutes", rl.WaitMinutes)
		logger.Warn().Int64("waitSeconds", rl.WaitSeconds).Msg("Rate limited")
	}

	if status == "" || (status == job.Status && len(attrs) == 0) {
		return res, nil
	}
	err := p.ledger.SetStatus(ctx, job.ID, status, attrs)
	switch {
	case errors.Is(err, store.ErrTerminal):
		current, getErr := p.ledger.Get(ctx, job.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reload job %s: %w", job.ID, getErr)
		}
		logger.Info().Str("status", current.Status).Msg("Job finished concurrently")
		return &StepResult{JobID: job.ID, Platform: job.Platform, Complete: true, Status: current.Status}, nil
	case err != nil:
		return nil, fmt.Errorf("record status for %s: %w", job.ID, err)
	}
	res.Status = status
	if jobs.IsTerminal(status) {
		logger.Info().Str("status", status).Msg("Job reached terminal status")
	}
	return res, nil
}

func (p *Pipeline) loadJob(ctx context.Context, ev *StageEvent) (*StepResult, error) {
	job, err := p.ledger.Get(ctx, ev.JobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", ev.JobID, err)
	}
	return &StepResult{
		JobID:    job.ID,
		Platform: job.Platform,
		Complete: jobs.IsTerminal(job.Status),
		Status:   job.Status,
		Job:      viewOf(job),
	}, nil
}

// cleanup records an orchestrator-reported failure on an unfinished job
// and removes the job's objects.
func (p *Pipeline) cleanup(ctx context.Context, ev *StageEvent) (*StepResult, error) {
	logger := zerolog.Ctx(ctx)
	res := &StepResult{JobID: ev.JobID, Complete: true}

	job, err := p.ledger.Get(ctx, ev.JobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load job %s: %w", ev.JobID, err)
	default:
		res.Platform = job.Platform
		res.Status = job.Status
		if f := ev.Failure; f != nil && !jobs.IsTerminal(job.Status) {
			code := f.Code
			if code == "" {
				code = "0"
			}
			status := jobs.ErrorStatus(f.Stage, code)
			attrs := map[string]any{"error_stage": f.Stage, "error_detail": "retries exhausted"}
			if err := p.ledger.SetStatus(ctx, job.ID, status, attrs); err != nil && !errors.Is(err, store.ErrTerminal) {
				return nil, fmt.Errorf("record failure for %s: %w", job.ID, err)
			}
			res.Status = status
			res.Stage = f.Stage
			res.Error = f.Stage + "_failed"
			logger.Warn().Str("failedStage", f.Stage).Msg("Recorded orchestrator failure")
		}
	}

	if p.Cleaner != nil {
		var extra []lifecycle.ObjectRef
		if ev.Bucket != "" && ev.Key != "" {
			extra = append(extra, lifecycle.ObjectRef{Bucket: ev.Bucket, Key: ev.Key})
		}
		report, err := p.Cleaner.CleanupJob(ctx, ev.JobID, extra...)
		if err != nil {
			// Object removal is best effort; the job outcome stands.
			logger.Warn().Err(err).Msg("Cleanup failed")
		}
		res.Cleanup = report
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
