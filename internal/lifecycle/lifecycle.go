// Package lifecycle serves tenant-facing job queries, idempotent job
// deletion and best-effort removal of the objects a job references.
package lifecycle

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/jobs"
	"github.com/fpang/media-publisher/internal/s3util"
	"github.com/fpang/media-publisher/internal/store"
)

// ErrForbidden is returned when neither the master token nor the tenant
// identity matches the stored job.
var ErrForbidden = errors.New("forbidden")

// Credentials are what a caller presents: the master override token, or
// the site and tenant identity recorded on the job.
type Credentials struct {
	APIToken string
	SiteURL  string
	WPID     string
}

// Config carries the deployment settings the service needs.
type Config struct {
	MasterToken string
	InBucket    string
	OutBucket   string
}

// Service implements job listing, deletion and cleanup.
type Service struct {
	ledger  store.Ledger
	objects s3util.ObjectStore
	cfg     Config
}

// New returns a Service. objects may be nil when cleanup is not used.
func New(ledger store.Ledger, objects s3util.ObjectStore, cfg Config) *Service {
	return &Service{ledger: ledger, objects: objects, cfg: cfg}
}

// IsMaster reports whether token matches the configured master token. An
// unconfigured master token never matches.
func (s *Service) IsMaster(token string) bool {
	if s.cfg.MasterToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.MasterToken)) == 1
}

// Authorize checks creds against job. Site identities are compared after
// normalization; both site and tenant must be present and equal.
func (s *Service) Authorize(job *store.Job, creds Credentials) error {
	if s.IsMaster(creds.APIToken) {
		return nil
	}
	wpID := strings.TrimSpace(creds.WPID)
	site := jobs.NormalizeSiteURL(creds.SiteURL)
	stored := jobs.NormalizeSiteURL(job.SiteURL)
	if job.WPID == "" || stored == "" || wpID != job.WPID || site != stored {
		return ErrForbidden
	}
	return nil
}

// DeleteResult reports a job deletion.
type DeleteResult struct {
	JobID         string `json:"job_id"`
	Deleted       bool   `json:"deleted"`
	AlreadyAbsent bool   `json:"already_absent,omitempty"`
}

// DeleteJob removes a job record after authorizing the caller. A missing
// record is reported as already absent, not as an error.
func (s *Service) DeleteJob(ctx context.Context, jobID string, creds Credentials) (*DeleteResult, error) {
	job, err := s.ledger.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return &DeleteResult{JobID: jobID, AlreadyAbsent: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if err := s.Authorize(job, creds); err != nil {
		log.Warn().Str("jobId", jobID).Msg("Rejected job deletion")
		return nil, err
	}

	existed, err := s.ledger.Delete(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("delete job: %w", err)
	}
	log.Info().Str("jobId", jobID).Bool("existed", existed).Msg("Job deleted")
	return &DeleteResult{JobID: jobID, Deleted: existed, AlreadyAbsent: !existed}, nil
}

// Summary is the public view of a job in site listings.
type Summary struct {
	JobID     string         `json:"job_id"`
	WPID      string         `json:"wp_id"`
	Status    string         `json:"status"`
	UpdatedAt int64          `json:"updated_at"`
	MediaID   string         `json:"media_id"`
	Platform  store.Platform `json:"platform"`
}

// ListBySite returns summaries for a site's jobs, most recently updated
// first. An unknown site yields an empty list.
func (s *Service) ListBySite(ctx context.Context, siteURL string) ([]Summary, error) {
	site := jobs.NormalizeSiteURL(siteURL)
	if site == "" {
		return nil, errors.New("site_url required")
	}
	records, err := s.ledger.QueryBySite(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("query jobs for %s: %w", site, err)
	}
	out := make([]Summary, 0, len(records))
	for _, j := range records {
		out = append(out, Summary{
			JobID:     j.ID,
			WPID:      j.WPID,
			Status:    j.Status,
			UpdatedAt: j.UpdatedAt,
			MediaID:   j.MediaID,
			Platform:  j.Platform,
		})
	}
	return out, nil
}
