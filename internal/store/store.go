// Package store is the job ledger: one record per publish job, keyed by
// job id, with a secondary index on (site_url, updated_at) for per-site
// status listings.
//
// Status writes are monotonic. Once a record reaches a terminal status
// (see jobs.IsTerminal) it only accepts a repeat of that same status, so
// retried stage invocations can never resurrect a finished job.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Platform identifies the destination network of a job.
type Platform string

const (
	PlatformInstagram Platform = "ig"
	PlatformX         Platform = "x"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformInstagram || p == PlatformX
}

var (
	// ErrNotFound is returned when no record exists for a job id.
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned by Create when the job id is already taken.
	ErrConflict = errors.New("job already exists")
	// ErrTerminal is returned by SetStatus when the record already holds a
	// different terminal status.
	ErrTerminal = errors.New("job already terminal")
	// ErrReservedAttribute is returned by SetStatus when extra attributes
	// try to overwrite identity, status or credential fields.
	ErrReservedAttribute = errors.New("reserved attribute")
)

// Job is a ledger record. TokenCipher holds the vault ciphertext of the
// platform credential and never leaves the backend.
type Job struct {
	ID          string   `dynamodbav:"job_id" json:"job_id"`
	Platform    Platform `dynamodbav:"platform" json:"platform"`
	Status      string   `dynamodbav:"status" json:"status"`
	Terminal    bool     `dynamodbav:"terminal" json:"-"`
	WPID        string   `dynamodbav:"wp_id,omitempty" json:"wp_id,omitempty"`
	SiteURL     string   `dynamodbav:"site_url,omitempty" json:"site_url,omitempty"`
	IGUserID    string   `dynamodbav:"ig_user_id,omitempty" json:"ig_user_id,omitempty"`
	TokenCipher string   `dynamodbav:"token_cipher,omitempty" json:"-"`
	Caption     string   `dynamodbav:"caption,omitempty" json:"caption,omitempty"`
	Text        string   `dynamodbav:"text,omitempty" json:"text,omitempty"`
	MediaURLs   []string `dynamodbav:"media_urls,omitempty" json:"media_urls,omitempty"`
	InBucket    string   `dynamodbav:"in_bucket,omitempty" json:"in_bucket,omitempty"`
	InKey       string   `dynamodbav:"in_key,omitempty" json:"in_key,omitempty"`
	OutBucket   string   `dynamodbav:"out_bucket,omitempty" json:"out_bucket,omitempty"`
	OutKey      string   `dynamodbav:"out_key,omitempty" json:"out_key,omitempty"`
	MediaID     string   `dynamodbav:"media_id,omitempty" json:"media_id,omitempty"`
	SizeBytes   int64    `dynamodbav:"size_bytes,omitempty" json:"size_bytes,omitempty"`
	ContentType string   `dynamodbav:"content_type,omitempty" json:"content_type,omitempty"`
	ETag        string   `dynamodbav:"etag,omitempty" json:"etag,omitempty"`
	ErrorStage  string   `dynamodbav:"error_stage,omitempty" json:"error_stage,omitempty"`
	ErrorDetail string   `dynamodbav:"error_detail,omitempty" json:"error_detail,omitempty"`
	UsageCount  int      `dynamodbav:"usage_count,omitempty" json:"usage_count,omitempty"`
	CreatedAt   int64    `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   int64    `dynamodbav:"updated_at" json:"updated_at"`
}

// Ledger is the job record store. Implementations are safe for concurrent
// use across processes: Create is conditional on absence and SetStatus is
// a partial update that leaves unrelated attributes untouched.
type Ledger interface {
	// Create inserts a new record. Returns ErrConflict if the id exists.
	Create(ctx context.Context, job *Job) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, jobID string) (*Job, error)

	// SetStatus writes status, refreshes updated_at and merges attrs.
	// Returns ErrNotFound for a missing record and ErrTerminal when the
	// record already holds a different terminal status.
	SetStatus(ctx context.Context, jobID, status string, attrs map[string]any) error

	// QueryBySite lists a site's jobs, most recently updated first.
	QueryBySite(ctx context.Context, siteURL string) ([]*Job, error)

	// Delete removes the record. Deleting an absent record is not an
	// error; existed reports whether anything was removed.
	Delete(ctx context.Context, jobID string) (existed bool, err error)
}

// reserved lists attributes SetStatus must never overwrite through attrs.
var reserved = map[string]bool{
	"job_id":       true,
	"status":       true,
	"terminal":     true,
	"updated_at":   true,
	"created_at":   true,
	"token_cipher": true,
	"platform":     true,
}

// CheckAttrs rejects attribute maps that touch reserved fields.
func CheckAttrs(attrs map[string]any) error {
	for k := range attrs {
		if reserved[k] {
			return fmt.Errorf("%w: %s", ErrReservedAttribute, k)
		}
	}
	return nil
}
