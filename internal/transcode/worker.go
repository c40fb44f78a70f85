package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/jobs"
	"github.com/fpang/media-publisher/internal/metrics"
	"github.com/fpang/media-publisher/internal/s3util"
	"github.com/fpang/media-publisher/internal/store"
)

// OutputContentType is the type of every transcoded object.
const OutputContentType = "video/mp4"

// Result kinds.
const (
	ResultSkipped = "skipped"
	ResultDone    = "done"
	ResultFailed  = "failed"
)

// Result describes what the worker did with one object.
type Result struct {
	Kind      string
	Reason    string
	JobID     string
	OutBucket string
	OutKey    string
	Size      int64
}

// Worker transcodes tagged uploads and records the outcome on the job.
type Worker struct {
	Ledger  store.Ledger
	Objects s3util.ObjectStore
	Encoder Encoder
	// SourceBucket, when set, is the only bucket the worker accepts.
	SourceBucket string
	// DefaultOutBucket is used when the upload carries no out_bucket tag.
	DefaultOutBucket string
	// ScratchDir holds per-object work directories.
	ScratchDir string
}

func skipped(reason string) *Result {
	return &Result{Kind: ResultSkipped, Reason: reason}
}

// Process handles one object-created notification. Returned errors are
// transient (storage or ledger unavailable) and leave the job in
// processing so a redelivery runs again; only encoder failures are
// recorded on the job and reported through Result.
func (w *Worker) Process(ctx context.Context, bucket, key string) (*Result, error) {
	logger := log.With().Str("bucket", bucket).Str("key", key).Logger()

	if w.SourceBucket != "" && bucket != w.SourceBucket {
		logger.Debug().Msg("Skipping object from another bucket")
		return skipped("other-bucket"), nil
	}

	info, err := w.Objects.Head(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if len(info.Metadata) == 0 && len(info.Tags) == 0 {
		logger.Info().Msg("Skipping untagged upload")
		return skipped("untagged"), nil
	}
	outKey := strings.TrimSpace(info.Tags[s3util.TagOutKey])
	if outKey == "" {
		logger.Info().Msg("Skipping upload without destination")
		return skipped("no-destination"), nil
	}
	outBucket := info.Tags[s3util.TagOutBucket]
	if outBucket == "" {
		outBucket = w.DefaultOutBucket
	}

	jobID := info.Metadata[s3util.MetaJobID]
	logger = logger.With().Str("jobId", jobID).Logger()
	if jobID != "" {
		job, err := w.Ledger.Get(ctx, jobID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			logger.Warn().Msg("Skipping upload for deleted job")
			return skipped("job-missing"), nil
		case err != nil:
			return nil, err
		case jobs.IsTerminal(job.Status) || job.Status == jobs.StatusDone:
			logger.Info().Str("status", job.Status).Msg("Skipping duplicate notification")
			return skipped("already-" + job.Status), nil
		}
		if err := w.Ledger.SetStatus(ctx, jobID, jobs.StatusProcessing, nil); err != nil {
			return nil, fmt.Errorf("mark processing: %w", err)
		}
	}

	res := &Result{JobID: jobID, OutBucket: outBucket, OutKey: outKey}
	work, err := os.MkdirTemp(w.ScratchDir, "ffwork-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(work); err != nil {
			logger.Warn().Err(err).Str("dir", work).Msg("Failed to remove work dir")
		}
	}()

	in := filepath.Join(work, "input"+filepath.Ext(key))
	out := filepath.Join(work, "output.mp4")
	if err := w.Objects.Download(ctx, bucket, key, in); err != nil {
		return nil, fmt.Errorf("download source: %w", err)
	}

	params := ParseParams(s3util.Params(info.Metadata))
	start := time.Now()
	encErr := w.Encoder.Encode(ctx, in, out, params)
	rec := metrics.New(metrics.Namespace).Dimension("Stage", jobs.StageTranscode).Since("EncodeMs", start)
	if encErr != nil {
		rec.Count("EncodeErrors").Flush()
		code := "encode"
		var ee *EncodeError
		if errors.As(encErr, &ee) {
			code = ee.Code()
		}
		logger.Error().Err(encErr).Msg("Encoder failed")
		return res, w.fail(ctx, res, code)
	}

	outMeta := map[string]string{}
	if jobID != "" {
		outMeta[s3util.MetaJobID] = jobID
	}
	if cb := info.Metadata[s3util.MetaCallback]; cb != "" {
		outMeta[s3util.MetaCallback] = cb
	}
	if err := w.Objects.Upload(ctx, outBucket, outKey, out, OutputContentType, outMeta); err != nil {
		rec.Count("UploadErrors").Flush()
		logger.Warn().Err(err).Msg("Upload of transcoded object failed")
		return nil, fmt.Errorf("upload output: %w", err)
	}

	head, err := w.Objects.Head(ctx, outBucket, outKey)
	if err != nil {
		return nil, fmt.Errorf("head output: %w", err)
	}
	res.Kind, res.Size = ResultDone, head.Size
	rec.Metric("OutputBytes", float64(head.Size), metrics.UnitBytes).Count("Transcodes").Flush()

	if jobID != "" {
		attrs := map[string]any{
			"size_bytes":   head.Size,
			"content_type": head.ContentType,
			"etag":         head.ETag,
		}
		if err := w.Ledger.SetStatus(ctx, jobID, jobs.StatusDone, attrs); err != nil {
			return nil, fmt.Errorf("mark done: %w", err)
		}
	}
	logger.Info().
		Str("outBucket", outBucket).
		Str("outKey", outKey).
		Int64("bytes", head.Size).
		Dur("elapsed", time.Since(start)).
		Msg("Transcode complete")
	return res, nil
}

// fail records the error status and marks res failed. A returned error
// means the ledger write itself failed.
func (w *Worker) fail(ctx context.Context, res *Result, detail string) error {
	res.Kind, res.Reason = ResultFailed, detail
	if res.JobID == "" {
		return nil
	}
	err := w.Ledger.SetStatus(ctx, res.JobID, jobs.StatusError, map[string]any{
		"error_stage":  jobs.StageTranscode,
		"error_detail": detail,
	})
	if err != nil {
		log.Error().Err(err).Str("jobId", res.JobID).Msg("Failed to record transcode error")
		return fmt.Errorf("record transcode error: %w", err)
	}
	return nil
}
