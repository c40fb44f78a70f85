package s3util

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	headErr    error
	tagErr     error
	body       string
	putBody    string
	putInput   *s3.PutObjectInput
	deleteKeys []string
}

func (f *fakeS3) HeadObject(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(42),
		ContentType:   aws.String("video/quicktime"),
		ETag:          aws.String(`"abc123"`),
		Metadata:      map[string]string{"Job-Id": "j1", "params": `{"fps":24}`},
	}, nil
}

func (f *fakeS3) GetObjectTagging(_ context.Context, _ *s3.GetObjectTaggingInput, _ ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	if f.tagErr != nil {
		return nil, f.tagErr
	}
	return &s3.GetObjectTaggingOutput{TagSet: []s3types.Tag{
		{Key: aws.String(TagOutKey), Value: aws.String("converted/j1.mp4")},
	}}, nil
}

func (f *fakeS3) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putInput = in
	b, _ := io.ReadAll(in.Body)
	f.putBody = string(b)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleteKeys = append(f.deleteKeys, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestHead_MergesMetadataAndTags(t *testing.T) {
	info, err := NewS3Store(&fakeS3{}, nil).Head(context.Background(), "in", "in/a.mov")
	require.NoError(t, err)
	assert.Equal(t, int64(42), info.Size)
	assert.Equal(t, "abc123", info.ETag)
	assert.Equal(t, "j1", info.Metadata["job-id"])
	assert.Equal(t, "converted/j1.mp4", info.Tags[TagOutKey])
}

func TestHead_TaggingFailureIsSoft(t *testing.T) {
	info, err := NewS3Store(&fakeS3{tagErr: errors.New("AccessDenied")}, nil).Head(context.Background(), "in", "k")
	require.NoError(t, err)
	assert.Empty(t, info.Tags)
	assert.Equal(t, "j1", info.Metadata["job-id"])
}

func TestHead_NotFound(t *testing.T) {
	_, err := NewS3Store(&fakeS3{headErr: &s3types.NotFound{}}, nil).Head(context.Background(), "in", "k")
	assert.ErrorIs(t, err, ErrNoSuchKey)
}

func TestDownloadUpload(t *testing.T) {
	dir := t.TempDir()
	f := &fakeS3{body: "frames"}
	s := NewS3Store(f, nil)

	src := filepath.Join(dir, "src")
	require.NoError(t, s.Download(context.Background(), "in", "k", src))
	got, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(got))

	require.NoError(t, s.Upload(context.Background(), "out", "converted/k.mp4", src, "video/mp4", map[string]string{"job-id": "j1"}))
	assert.Equal(t, "frames", f.putBody)
	assert.Equal(t, "video/mp4", *f.putInput.ContentType)
	assert.Equal(t, int64(6), *f.putInput.ContentLength)
	assert.Equal(t, "j1", f.putInput.Metadata["job-id"])
}

func TestTagging_RoundTrip(t *testing.T) {
	enc := EncodeTagging(map[string]string{TagTranscode: "true", TagOutKey: "converted/a b.mp4", TagOutBucket: "out"})
	assert.Equal(t, "out_bucket=out&out_key=converted%2Fa+b.mp4&transcode=true", enc)
	assert.Equal(t, map[string]string{TagTranscode: "true", TagOutKey: "converted/a b.mp4", TagOutBucket: "out"}, ParseTagging(enc))
	assert.Empty(t, EncodeTagging(nil))
}
