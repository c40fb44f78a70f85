package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/media-publisher/internal/store"
)

func TestCleanupPath(t *testing.T) {
	svc, _, objects := newService(t)

	rep, err := svc.CleanupPath(context.Background(), "/in/abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, []ObjectRef{{Bucket: "in-bkt", Key: "in/abc.jpg"}}, rep.Deleted)
	assert.Equal(t, []string{"in-bkt/in/abc.jpg"}, objects.Deleted)
}

func TestCleanupPath_Empty(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.CleanupPath(context.Background(), "  ")
	assert.Error(t, err)
}

func TestCleanupJob_ResolvesAllObjects(t *testing.T) {
	svc, ledger, objects := newService(t)
	ledger.Put(&store.Job{
		ID:       "job-x",
		Platform: store.PlatformX,
		Status:   "1850",
		MediaURLs: []string{
			"https://in-bkt.s3.ap-northeast-1.amazonaws.com/in/one.jpg?X-Amz-Signature=abc",
			"https://s3.amazonaws.com/in-bkt/in/two%20b.jpg",
			"https://cdn.elsewhere.example/in/three.jpg",
		},
		InKey:     "in/src.mov",
		OutBucket: "out-bkt",
		OutKey:    "converted/job-x.mp4",
	})

	rep, err := svc.CleanupJob(context.Background(), "job-x", ObjectRef{Bucket: "out-bkt", Key: "converted/job-x.mp4"})
	require.NoError(t, err)
	assert.Empty(t, rep.Failures)
	assert.ElementsMatch(t, []ObjectRef{
		{Bucket: "in-bkt", Key: "in/one.jpg"},
		{Bucket: "in-bkt", Key: "in/two b.jpg"},
		{Bucket: "in-bkt", Key: "in/src.mov"},
		{Bucket: "out-bkt", Key: "converted/job-x.mp4"},
	}, rep.Deleted)
	assert.Len(t, objects.Deleted, 4)
}

func TestCleanupJob_EmptyInKeyDeletesNothing(t *testing.T) {
	svc, ledger, objects := newService(t)
	ledger.Put(&store.Job{ID: "job-2", Platform: store.PlatformX, Status: "pending", InKey: ""})

	rep, err := svc.CleanupJob(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Empty(t, rep.Deleted)
	assert.Empty(t, objects.Deleted)
}

func TestCleanupJob_CollectsPartialFailures(t *testing.T) {
	svc, ledger, objects := newService(t)
	seedJob(ledger)
	objects.FailDelete["in-bkt/in/abc.mov"] = errors.New("access denied")

	rep, err := svc.CleanupJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, []ObjectRef{{Bucket: "out-bkt", Key: "converted/job-1.mp4"}}, rep.Deleted)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "in/abc.mov", rep.Failures[0].Key)
	assert.Contains(t, rep.Failures[0].Error, "access denied")
}

func TestCleanupJob_MissingJobStillDeletesExtras(t *testing.T) {
	svc, _, objects := newService(t)

	rep, err := svc.CleanupJob(context.Background(), "gone", ObjectRef{Bucket: "out-bkt", Key: "converted/gone.mp4"})
	require.NoError(t, err)
	assert.Len(t, rep.Deleted, 1)
	assert.Equal(t, []string{"out-bkt/converted/gone.mp4"}, objects.Deleted)
}

func TestCleanupJob_RefWithoutBucketIsReported(t *testing.T) {
	svc, _, objects := newService(t)

	rep, err := svc.CleanupJob(context.Background(), "gone",
		ObjectRef{Key: "converted/gone.mp4"},
		ObjectRef{Bucket: "out-bkt", Key: "converted/gone.jpg"},
	)
	require.NoError(t, err)
	assert.Equal(t, []ObjectRef{{Bucket: "out-bkt", Key: "converted/gone.jpg"}}, rep.Deleted)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, CleanupFailure{Key: "converted/gone.mp4", Error: "no bucket for object"}, rep.Failures[0])
	assert.Equal(t, []string{"out-bkt/converted/gone.jpg"}, objects.Deleted)
}

func TestKeyFromURL(t *testing.T) {
	tests := []struct {
		raw    string
		wantOK bool
		want   string
	}{
		{"https://in-bkt.s3.amazonaws.com/in/a.jpg", true, "in/a.jpg"},
		{"https://s3.us-east-1.amazonaws.com/in-bkt/in/a.jpg", true, "in/a.jpg"},
		{"https://in-bkt-other.s3.amazonaws.com/in/a.jpg", false, ""},
		{"https://in-bkt.s3.amazonaws.com/", false, ""},
		{"::not a url", false, ""},
	}
	for _, tt := range tests {
		got, ok := keyFromURL(tt.raw, "in-bkt")
		assert.Equal(t, tt.wantOK, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}
