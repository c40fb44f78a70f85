// Package s3test provides an in-memory s3util.ObjectStore.
package s3test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fpang/media-publisher/internal/s3util"
)

// Object is a stored body with its attributes.
type Object struct {
	Body        []byte
	ContentType string
	Metadata    map[string]string
	Tags        map[string]string
}

// Store keeps objects keyed by "bucket/key".
type Store struct {
	mu      sync.Mutex
	objects map[string]*Object
	// Deleted records every Delete call in order.
	Deleted []string
	// FailDelete makes Delete fail for the listed "bucket/key" entries.
	FailDelete map[string]error
	// FailUpload, when set, is returned by Upload.
	FailUpload error
}

var _ s3util.ObjectStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{objects: map[string]*Object{}, FailDelete: map[string]error{}}
}

func id(bucket, key string) string { return bucket + "/" + key }

// Put seeds an object.
func (s *Store) Put(bucket, key string, obj Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id(bucket, key)] = &obj
}

// Get returns a stored object or nil.
func (s *Store) Get(bucket, key string) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[id(bucket, key)]
}

func (s *Store) Head(_ context.Context, bucket, key string) (*s3util.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("head %s: %w", id(bucket, key), s3util.ErrNoSuchKey)
	}
	md, tags := map[string]string{}, map[string]string{}
	for k, v := range o.Metadata {
		md[k] = v
	}
	for k, v := range o.Tags {
		tags[k] = v
	}
	return &s3util.ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        int64(len(o.Body)),
		ContentType: o.ContentType,
		ETag:        fmt.Sprintf("etag-%d", len(o.Body)),
		Metadata:    md,
		Tags:        tags,
	}, nil
}

func (s *Store) Download(_ context.Context, bucket, key, path string) error {
	o := s.Get(bucket, key)
	if o == nil {
		return s3util.ErrNoSuchKey
	}
	return os.WriteFile(path, o.Body, 0o600)
}

func (s *Store) Upload(_ context.Context, bucket, key, path, contentType string, metadata map[string]string) error {
	if s.FailUpload != nil {
		return s.FailUpload
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.Put(bucket, key, Object{Body: body, ContentType: contentType, Metadata: metadata})
	return nil
}

func (s *Store) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deleted = append(s.Deleted, id(bucket, key))
	if err := s.FailDelete[id(bucket, key)]; err != nil {
		return err
	}
	delete(s.objects, id(bucket, key))
	return nil
}

func (s *Store) PresignGet(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if bucket == "" || key == "" {
		return "", errors.New("presign: empty locator")
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s?X-Amz-Expires=%d", bucket, key, int(ttl.Seconds())), nil
}
