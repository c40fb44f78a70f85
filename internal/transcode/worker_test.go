package transcode

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/media-publisher/internal/s3util"
	"github.com/fpang/media-publisher/internal/s3util/s3test"
	"github.com/fpang/media-publisher/internal/store"
	"github.com/fpang/media-publisher/internal/store/storetest"
)

type fakeEncoder struct {
	err    error
	params Params
	input  string
	calls  int
}

func (f *fakeEncoder) Encode(_ context.Context, in, out string, p Params) error {
	f.calls++
	f.params = p
	b, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	f.input = string(b)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte("mp4:"+string(b)), 0o600)
}

type fixture struct {
	worker  *Worker
	objects *s3test.Store
	ledger  *storetest.Ledger
	encoder *fakeEncoder
	scratch string
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		objects: s3test.New(),
		ledger:  storetest.New(),
		encoder: &fakeEncoder{},
		scratch: t.TempDir(),
	}
	f.worker = &Worker{
		Ledger:           f.ledger,
		Objects:          f.objects,
		Encoder:          f.encoder,
		SourceBucket:     "uploads",
		DefaultOutBucket: "outputs",
		ScratchDir:       f.scratch,
	}
	return f
}

func (f *fixture) seedJob(t *testing.T, status string) {
	t.Helper()
	f.ledger.Put(&store.Job{ID: "j1", Platform: store.PlatformInstagram, Status: status})
	f.objects.Put("uploads", "in/a.mov", s3test.Object{
		Body:     []byte("raw"),
		Metadata: map[string]string{s3util.MetaJobID: "j1", s3util.MetaParams: `{"fps":24}`, s3util.MetaCallback: "aHR0cHM6Ly9ob29r"},
		Tags:     map[string]string{s3util.TagOutBucket: "outputs", s3util.TagOutKey: "converted/j1.mp4", s3util.TagTranscode: "true"},
	})
}

func (f *fixture) scratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "work directory left behind")
}

func TestProcess_Success(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "pending")

	res, err := f.worker.Process(context.Background(), "uploads", "in/a.mov")
	require.NoError(t, err)
	assert.Equal(t, ResultDone, res.Kind)
	assert.Equal(t, 24, f.encoder.params.FPS)
	assert.Equal(t, "raw", f.encoder.input)

	out := f.objects.Get("outputs", "converted/j1.mp4")
	require.NotNil(t, out)
	assert.Equal(t, "video/mp4", out.ContentType)
	assert.Equal(t, map[string]string{s3util.MetaJobID: "j1", s3util.MetaCallback: "aHR0cHM6Ly9ob29r"}, out.Metadata)

	job, err := f.ledger.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "done", job.Status)
	assert.Equal(t, int64(len("mp4:raw")), job.SizeBytes)
	assert.Equal(t, "video/mp4", job.ContentType)
	assert.NotEmpty(t, job.ETag)
	f.scratchEmpty(t)
}

func TestProcess_EncoderFailureRecordsError(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "pending")
	f.encoder.err = &EncodeError{ExitCode: 1, Output: "moov atom not found"}

	res, err := f.worker.Process(context.Background(), "uploads", "in/a.mov")
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, res.Kind)
	assert.Equal(t, "exit_1", res.Reason)
	assert.Nil(t, f.objects.Get("outputs", "converted/j1.mp4"))

	job, err := f.ledger.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "error", job.Status)
	assert.Equal(t, "transcode", job.ErrorStage)
	assert.Equal(t, "exit_1", job.ErrorDetail)
	f.scratchEmpty(t)
}

func TestProcess_UploadFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "pending")
	f.objects.FailUpload = errors.New("SlowDown")

	res, err := f.worker.Process(context.Background(), "uploads", "in/a.mov")
	require.Error(t, err)
	assert.Nil(t, res)
	job, _ := f.ledger.Get(context.Background(), "j1")
	assert.Equal(t, "processing", job.Status)
	assert.False(t, job.Terminal)
	f.scratchEmpty(t)

	f.objects.FailUpload = nil
	res, err = f.worker.Process(context.Background(), "uploads", "in/a.mov")
	require.NoError(t, err)
	assert.Equal(t, ResultDone, res.Kind)
	job, _ = f.ledger.Get(context.Background(), "j1")
	assert.Equal(t, "done", job.Status)
}

// downloadOnceFails fails the first Download call.
type downloadOnceFails struct {
	*s3test.Store
	failed bool
}

func (d *downloadOnceFails) Download(ctx context.Context, bucket, key, path string) error {
	if !d.failed {
		d.failed = true
		return errors.New("connection reset by peer")
	}
	return d.Store.Download(ctx, bucket, key, path)
}

func TestProcess_DownloadFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "pending")
	f.worker.Objects = &downloadOnceFails{Store: f.objects}

	_, err := f.worker.Process(context.Background(), "uploads", "in/a.mov")
	require.ErrorContains(t, err, "connection reset by peer")
	job, _ := f.ledger.Get(context.Background(), "j1")
	assert.Equal(t, "processing", job.Status)
	assert.Zero(t, f.encoder.calls)

	res, err := f.worker.Process(context.Background(), "uploads", "in/a.mov")
	require.NoError(t, err)
	assert.Equal(t, ResultDone, res.Kind)
	assert.Equal(t, 1, f.encoder.calls)
	job, _ = f.ledger.Get(context.Background(), "j1")
	assert.Equal(t, "done", job.Status)
	f.scratchEmpty(t)
}

func TestProcess_Skips(t *testing.T) {
	f := newFixture(t)
	f.objects.Put("uploads", "in/plain.jpg", s3test.Object{Body: []byte("x")})
	f.objects.Put("uploads", "in/nodest.mov", s3test.Object{Body: []byte("x"), Metadata: map[string]string{s3util.MetaParams: "{}"}})

	res, err := f.worker.Process(context.Background(), "elsewhere", "in/a.mov")
	require.NoError(t, err)
	assert.Equal(t, "other-bucket", res.Reason)

	res, err = f.worker.Process(context.Background(), "uploads", "in/plain.jpg")
	require.NoError(t, err)
	assert.Equal(t, "untagged", res.Reason)

	res, err = f.worker.Process(context.Background(), "uploads", "in/nodest.mov")
	require.NoError(t, err)
	assert.Equal(t, "no-destination", res.Reason)
	assert.Zero(t, f.encoder.calls)
}

func TestProcess_DuplicateNotificationAfterDone(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "done")

	res, err := f.worker.Process(context.Background(), "uploads", "in/a.mov")
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, res.Kind)
	assert.Zero(t, f.encoder.calls)
}

func TestProcess_MissingObjectIsTransient(t *testing.T) {
	f := newFixture(t)
	_, err := f.worker.Process(context.Background(), "uploads", "in/ghost.mov")
	assert.ErrorIs(t, err, s3util.ErrNoSuchKey)
}

func TestProcess_UploadOnlyDestinationWithoutJob(t *testing.T) {
	f := newFixture(t)
	f.objects.Put("uploads", "in/b.mov", s3test.Object{
		Body: []byte("raw"),
		Tags: map[string]string{s3util.TagOutKey: "converted/b.mp4"},
	})
	res, err := f.worker.Process(context.Background(), "uploads", "in/b.mov")
	require.NoError(t, err)
	assert.Equal(t, ResultDone, res.Kind)
	assert.NotNil(t, f.objects.Get("outputs", "converted/b.mp4"))
}
