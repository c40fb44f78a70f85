package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/media-publisher/internal/store"
)

// maxParallelDeletes bounds concurrent object deletions per cleanup.
const maxParallelDeletes = 4

// ObjectRef locates one stored object.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// CleanupFailure records one object that could not be deleted.
type CleanupFailure struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Error  string `json:"error"`
}

// Report summarizes a cleanup. Failures never abort the batch.
type Report struct {
	JobID    string           `json:"job_id,omitempty"`
	Deleted  []ObjectRef      `json:"deleted"`
	Failures []CleanupFailure `json:"failures,omitempty"`
}

// CleanupPath deletes a single object from the source bucket.
func (s *Service) CleanupPath(ctx context.Context, mediaPath string) (*Report, error) {
	key := strings.TrimLeft(strings.TrimSpace(mediaPath), "/")
	if key == "" {
		return nil, errors.New("media_path required")
	}
	if s.cfg.InBucket == "" {
		return nil, errors.New("source bucket not configured")
	}
	return s.deleteAll(ctx, "", []ObjectRef{{Bucket: s.cfg.InBucket, Key: key}}), nil
}

// CleanupJob deletes every object the job references: uploaded media
// URLs that point into the source bucket, the original upload and the
// transcoded output, plus any extra objects given. A missing job still
// deletes the extras.
func (s *Service) CleanupJob(ctx context.Context, jobID string, extra ...ObjectRef) (*Report, error) {
	var refs []ObjectRef
	job, err := s.ledger.Get(ctx, jobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Info().Str("jobId", jobID).Msg("Cleanup for missing job")
	case err != nil:
		return nil, fmt.Errorf("load job: %w", err)
	default:
		refs = s.jobObjects(job)
	}
	refs = append(refs, extra...)
	return s.deleteAll(ctx, jobID, dedupe(refs)), nil
}

func (s *Service) jobObjects(job *store.Job) []ObjectRef {
	var refs []ObjectRef
	for _, u := range job.MediaURLs {
		if key, ok := keyFromURL(u, s.cfg.InBucket); ok {
			refs = append(refs, ObjectRef{Bucket: s.cfg.InBucket, Key: key})
		}
	}
	// Absent and empty in_key both mean nothing to delete.
	if job.InKey != "" {
		refs = append(refs, ObjectRef{Bucket: firstNonEmpty(job.InBucket, s.cfg.InBucket), Key: job.InKey})
	}
	if job.OutKey != "" {
		refs = append(refs, ObjectRef{Bucket: firstNonEmpty(job.OutBucket, s.cfg.OutBucket), Key: job.OutKey})
	}
	return refs
}

func (s *Service) deleteAll(ctx context.Context, jobID string, refs []ObjectRef) *Report {
	report := &Report{JobID: jobID, Deleted: []ObjectRef{}}
	if s.objects == nil {
		for _, r := range refs {
			report.Failures = append(report.Failures, CleanupFailure{Bucket: r.Bucket, Key: r.Key, Error: "object store not configured"})
		}
		return report
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(maxParallelDeletes)
	deleted := make([]bool, len(refs))
	for i, ref := range refs {
		g.Go(func() error {
			if ref.Bucket == "" {
				mu.Lock()
				report.Failures = append(report.Failures, CleanupFailure{Key: ref.Key, Error: "no bucket for object"})
				mu.Unlock()
				return nil
			}
			if err := s.objects.Delete(ctx, ref.Bucket, ref.Key); err != nil {
				log.Warn().Err(err).Str("bucket", ref.Bucket).Str("key", ref.Key).Msg("Cleanup delete failed")
				mu.Lock()
				report.Failures = append(report.Failures, CleanupFailure{Bucket: ref.Bucket, Key: ref.Key, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			deleted[i] = true
			return nil
		})
	}
	g.Wait()

	for i, ok := range deleted {
		if ok {
			report.Deleted = append(report.Deleted, refs[i])
		}
	}
	log.Info().Str("jobId", jobID).Int("deleted", len(report.Deleted)).Int("failed", len(report.Failures)).Msg("Cleanup finished")
	return report
}

// keyFromURL extracts the object key from a virtual-hosted or path-style
// URL that points into bucket.
func keyFromURL(raw, bucket string) (string, bool) {
	if raw == "" || bucket == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	p := strings.TrimPrefix(u.Path, "/")
	var key string
	switch {
	case strings.HasPrefix(u.Hostname(), bucket+"."):
		key = p
	case strings.HasPrefix(p, bucket+"/"):
		key = strings.TrimPrefix(p, bucket+"/")
	default:
		return "", false
	}
	return key, key != ""
}

func dedupe(refs []ObjectRef) []ObjectRef {
	seen := make(map[ObjectRef]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if r.Key == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
