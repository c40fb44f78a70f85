// Package s3util wraps the S3 operations the publish pipeline performs on
// uploaded and transcoded objects behind the ObjectStore interface.
package s3util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// ErrNoSuchKey is returned by Head for a missing object.
var ErrNoSuchKey = errors.New("object not found")

// ObjectInfo is what Head learns about an object.
type ObjectInfo struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	ETag        string
	Metadata    map[string]string
	Tags        map[string]string
}

// ObjectStore is the object storage contract used by the worker, the
// notifier and cleanup.
type ObjectStore interface {
	Head(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	Download(ctx context.Context, bucket, key, path string) error
	Upload(ctx context.Context, bucket, key, path, contentType string, metadata map[string]string) error
	Delete(ctx context.Context, bucket, key string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// S3API is the subset of the S3 client S3Store uses.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObjectTagging(ctx context.Context, in *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner is the subset of s3.PresignClient used for grants.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store implements ObjectStore.
type S3Store struct {
	client    S3API
	presigner Presigner
}

var _ ObjectStore = (*S3Store)(nil)

// NewS3Store builds an S3Store.
func NewS3Store(client S3API, presigner Presigner) *S3Store {
	return &S3Store{client: client, presigner: presigner}
}

// Head returns size, type, etag, user metadata and tags. A tagging read
// failure is logged and leaves Tags empty, since metadata alone may still
// route the object.
func (s *S3Store) Head(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("HeadObject s3://%s/%s: %w", bucket, key, ErrNoSuchKey)
		}
		return nil, fmt.Errorf("HeadObject s3://%s/%s: %w", bucket, key, err)
	}

	info := &ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        aws.ToInt64(head.ContentLength),
		ContentType: aws.ToString(head.ContentType),
		ETag:        strings.Trim(aws.ToString(head.ETag), `"`),
		Metadata:    lowerKeys(head.Metadata),
		Tags:        map[string]string{},
	}

	tagging, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{Bucket: &bucket, Key: &key})
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("GetObjectTagging failed, continuing with metadata only")
		return info, nil
	}
	info.Tags = TagMap(tagging.TagSet)
	return info, nil
}

// Download streams an object into path.
func (s *S3Store) Download(ctx context.Context, bucket, key, path string) error {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("GetObject s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	log.Debug().Str("key", key).Int64("bytes", n).Dur("elapsed", time.Since(start)).Msg("Downloaded from S3")
	return nil
}

// Upload writes the file at path to bucket/key.
func (s *S3Store) Upload(ctx context.Context, bucket, key, path, contentType string, metadata map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	})
	if err != nil {
		return fmt.Errorf("PutObject s3://%s/%s: %w", bucket, key, err)
	}
	log.Debug().Str("key", key).Int64("bytes", st.Size()).Dur("elapsed", time.Since(start)).Msg("Uploaded to S3")
	return nil
}

// Delete removes an object. S3 treats deleting a missing key as success.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}); err != nil {
		return fmt.Errorf("DeleteObject s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// PresignGet returns a time-limited GET URL.
func (s *S3Store) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign GET s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
