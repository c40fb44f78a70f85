package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/jobs"
	"github.com/fpang/media-publisher/internal/store"
	"github.com/fpang/media-publisher/internal/workflow"
)

// XRequest registers an X post. Media URLs must be fetchable by the
// backend (typically download grants); an empty list posts text only.
type XRequest struct {
	WPID      string   `json:"wp_id" validate:"required,max=128"`
	SiteURL   string   `json:"site_url" validate:"omitempty,max=2048,site"`
	Text      string   `json:"text" validate:"max=25000"`
	MediaURLs []string `json:"media_urls" validate:"max=4,dive,url"`
	Token     string   `json:"-"`
}

// Submission is the result of SubmitX.
type Submission struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
}

// SubmitX seals the token, creates a pending X job and starts the publish
// workflow with only the job id.
func (g *Gateway) SubmitX(ctx context.Context, req XRequest) (*Submission, error) {
	if err := g.check(req); err != nil {
		return nil, err
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	if strings.TrimSpace(req.Text) == "" && len(req.MediaURLs) == 0 {
		return nil, &ValidationError{Field: "text", Rule: "required_without=media_urls"}
	}
	if g.starter == nil {
		return nil, errors.New("publish workflow not configured")
	}

	sealed, err := g.cipher.Encrypt(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("seal token: %w", err)
	}
	job := &store.Job{
		ID:          g.newID(),
		Platform:    store.PlatformX,
		Status:      jobs.StatusPending,
		WPID:        req.WPID,
		SiteURL:     jobs.NormalizeSiteURL(req.SiteURL),
		Text:        req.Text,
		MediaURLs:   req.MediaURLs,
		TokenCipher: sealed,
	}
	if err := g.ledger.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	runID, err := g.starter.Start(ctx, job.ID, workflow.PublishInput{JobID: job.ID})
	if err != nil {
		// The job stays pending; a retry of the start with the same id
		// is safe because runs are named after the job.
		return nil, fmt.Errorf("start workflow for %s: %w", job.ID, err)
	}

	log.Info().Str("jobId", job.ID).Int("media", len(req.MediaURLs)).Msg("X job submitted")
	return &Submission{JobID: job.ID, Status: job.Status, RunID: runID}, nil
}
