package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// GetRequest asks for a download grant. An empty bucket means the upload
// bucket.
type GetRequest struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key" validate:"required,max=1024"`
	Expires int    `json:"expires"`
}

// GetGrant is an issued download grant.
type GetGrant struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	URL       string `json:"get_url"`
	ExpiresIn int    `json:"expires_in"`
}

// IssueGet signs a GET for an object in the upload or output bucket.
func (g *Gateway) IssueGet(ctx context.Context, req GetRequest) (*GetGrant, error) {
	req.Key = strings.TrimSpace(req.Key)
	if err := g.check(req); err != nil {
		return nil, err
	}
	bucket := strings.TrimSpace(req.Bucket)
	if bucket == "" {
		bucket = g.cfg.InBucket
	}
	if bucket != g.cfg.InBucket && bucket != g.cfg.OutBucket {
		return nil, ErrBucketNotAllowed
	}
	ttlSec, ttl := grantTTL(req.Expires, g.cfg.GetTTL)
	signed, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(req.Key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("presign GET %s: %w", req.Key, err)
	}
	return &GetGrant{Bucket: bucket, Key: req.Key, URL: signed.URL, ExpiresIn: ttlSec}, nil
}
