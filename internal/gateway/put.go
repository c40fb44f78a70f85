package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/callback"
	"github.com/fpang/media-publisher/internal/jobs"
	"github.com/fpang/media-publisher/internal/s3util"
	"github.com/fpang/media-publisher/internal/store"
)

// PutRequest asks for an upload grant. Token arrives out of band (a
// request header) and is only needed when WPID names a destination.
type PutRequest struct {
	Ext         string          `json:"ext" validate:"omitempty,max=8,alphanum"`
	ContentType string          `json:"type" validate:"omitempty,max=128"`
	Expires     int             `json:"expires"`
	Params      json.RawMessage `json:"params,omitempty"`
	WPID        string          `json:"wp_id" validate:"omitempty,max=128"`
	SiteURL     string          `json:"site_url" validate:"omitempty,max=2048,site"`
	IGUserID    string          `json:"ig_user_id" validate:"required_with=WPID,max=64"`
	Caption     string          `json:"caption" validate:"max=2200"`
	OutKey      string          `json:"out_key" validate:"omitempty,max=1024"`
	CallbackURL string          `json:"-"`
	Token       string          `json:"-"`
}

// PutGrant is an issued upload grant. The uploader must send every entry
// of RequiredHeaders verbatim or the signature check fails.
type PutGrant struct {
	Bucket          string            `json:"bucket"`
	Key             string            `json:"key"`
	URL             string            `json:"put_url"`
	RequiredHeaders map[string]string `json:"required_headers"`
	Metadata        map[string]string `json:"x_amz_meta"`
	Tagging         string            `json:"x_amz_tagging,omitempty"`
	ContentType     string            `json:"content_type"`
	ExpiresIn       int               `json:"expires_in"`
	JobID           string            `json:"job_id,omitempty"`
	OutBucket       string            `json:"out_bucket,omitempty"`
	OutKey          string            `json:"out_key,omitempty"`
}

// paramsString turns the params field into the serialized form stored in
// object metadata. A JSON string is taken verbatim; objects and arrays are
// compacted.
func paramsString(raw json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return "", err
		}
		return str, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IssuePut signs a PUT for a fresh key under the upload prefix. With a
// WPID it also seals the token, creates a pending Instagram job and tags
// the upload with its transcode destination.
func (g *Gateway) IssuePut(ctx context.Context, req PutRequest) (*PutGrant, error) {
	req.Ext = s3util.NormalizeExt(req.Ext)
	if err := g.check(req); err != nil {
		return nil, err
	}
	createJob := req.WPID != ""
	token := strings.TrimSpace(req.Token)
	if createJob && token == "" {
		return nil, ErrMissingToken
	}
	if req.CallbackURL != "" && !callback.ValidURL(req.CallbackURL) {
		return nil, &ValidationError{Field: "callback_url", Rule: "url"}
	}
	params, err := paramsString(req.Params)
	if err != nil {
		return nil, &ValidationError{Field: "params", Rule: "json"}
	}

	ext := req.Ext
	if ext == "" {
		ext = "jpg"
	}
	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = s3util.ContentTypeFor(ext)
	}
	ttlSec, ttl := grantTTL(req.Expires, g.cfg.DefaultTTL)
	key := strings.TrimSuffix(g.cfg.InPrefix, "/") + "/" + g.newID() + "." + ext

	metadata := map[string]string{}
	s3util.SetParams(metadata, params)
	s3util.SetCallback(metadata, req.CallbackURL)

	grant := &PutGrant{
		Bucket:      g.cfg.InBucket,
		Key:         key,
		ContentType: contentType,
		ExpiresIn:   ttlSec,
		Metadata:    metadata,
	}

	var job *store.Job
	if createJob {
		jobID := g.newID()
		outKey := strings.TrimSpace(req.OutKey)
		if outKey == "" {
			outKey = strings.TrimSuffix(g.cfg.OutPrefix, "/") + "/" + jobID + ".mp4"
		}
		sealed, err := g.cipher.Encrypt(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("seal token: %w", err)
		}
		job = &store.Job{
			ID:          jobID,
			Platform:    store.PlatformInstagram,
			Status:      jobs.StatusPending,
			WPID:        req.WPID,
			SiteURL:     jobs.NormalizeSiteURL(req.SiteURL),
			IGUserID:    req.IGUserID,
			Caption:     req.Caption,
			TokenCipher: sealed,
			InBucket:    g.cfg.InBucket,
			InKey:       key,
			OutBucket:   g.cfg.OutBucket,
			OutKey:      outKey,
		}
		metadata[s3util.MetaJobID] = jobID
		grant.Tagging = s3util.EncodeTagging(map[string]string{
			s3util.TagOutBucket: g.cfg.OutBucket,
			s3util.TagOutKey:    outKey,
			s3util.TagTranscode: "true",
		})
		grant.JobID, grant.OutBucket, grant.OutKey = jobID, g.cfg.OutBucket, outKey
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(grant.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	}
	if grant.Tagging != "" {
		input.Tagging = aws.String(grant.Tagging)
	}
	signed, err := g.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("presign PUT %s: %w", key, err)
	}
	grant.URL = signed.URL

	// The job is written only after signing succeeds, so a failed grant
	// never leaves a pending record behind.
	if job != nil {
		if err := g.ledger.Create(ctx, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
	}

	grant.RequiredHeaders = map[string]string{"Content-Type": contentType}
	if grant.Tagging != "" {
		grant.RequiredHeaders["x-amz-tagging"] = grant.Tagging
	}
	for k, v := range metadata {
		grant.RequiredHeaders["x-amz-meta-"+k] = v
	}

	log.Info().
		Str("key", key).
		Str("jobId", grant.JobID).
		Int("expiresIn", ttlSec).
		Bool("jobCreated", createJob).
		Msg("Upload grant issued")
	return grant, nil
}
