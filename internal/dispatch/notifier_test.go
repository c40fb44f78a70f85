package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/media-publisher/internal/callback"
	"github.com/fpang/media-publisher/internal/s3util"
	"github.com/fpang/media-publisher/internal/s3util/s3test"
	"github.com/fpang/media-publisher/internal/workflow"
)

type fakeStarter struct {
	inputs []workflow.PublishInput
	err    error
}

func (f *fakeStarter) Start(_ context.Context, name string, in workflow.PublishInput) (string, error) {
	f.inputs = append(f.inputs, in)
	return "run-" + name, f.err
}

type fakeDeliverer struct {
	urls     []string
	payloads []Payload
	err      error
}

func (f *fakeDeliverer) Deliver(_ context.Context, url string, p any) error {
	f.urls = append(f.urls, url)
	f.payloads = append(f.payloads, p.(Payload))
	return f.err
}

func seed(objects *s3test.Store, md map[string]string) {
	objects.Put("outputs", "converted/j1.mp4", s3test.Object{Body: []byte("0123456789"), ContentType: "video/mp4", Metadata: md})
}

func TestNotify_StartsWorkflowAndCallsBack(t *testing.T) {
	objects := s3test.New()
	md := map[string]string{s3util.MetaJobID: "j1"}
	s3util.SetCallback(md, "https://blog.example/hook")
	seed(objects, md)
	starter, cb := &fakeStarter{}, &fakeDeliverer{}
	n := &Notifier{Objects: objects, Starter: starter, Callbacks: cb, Prefix: "converted/", GrantTTL: time.Hour}

	out, err := n.Notify(context.Background(), "outputs", "converted/j1.mp4")
	require.NoError(t, err)
	assert.True(t, out.WorkflowStarted)
	assert.True(t, out.CallbackSent)
	assert.Equal(t, "run-j1", out.RunID)

	require.Len(t, starter.inputs, 1)
	in := starter.inputs[0]
	assert.Equal(t, "j1", in.JobID)
	assert.Equal(t, "converted/j1.mp4", in.Key)
	assert.Contains(t, in.VideoURL, "X-Amz-Expires=3600")
	assert.Equal(t, &workflow.ObjectFacts{Size: 10, ContentType: "video/mp4", ETag: "etag-10"}, in.Object)

	require.Len(t, cb.payloads, 1)
	p := cb.payloads[0]
	assert.Equal(t, "https://blog.example/hook", cb.urls[0])
	assert.Equal(t, EventObjectConverted, p.Event)
	assert.Equal(t, 3600, p.ExpiresIn)
	assert.Equal(t, in.VideoURL, p.URL)
	assert.Equal(t, map[string]string{s3util.MetaJobID: "j1"}, p.Metadata)
}

func TestNotify_SkipsOutsidePrefix(t *testing.T) {
	n := &Notifier{Objects: s3test.New(), Prefix: "converted/"}
	out, err := n.Notify(context.Background(), "outputs", "in/raw.mov")
	require.NoError(t, err)
	assert.True(t, out.Skipped)
}

func TestNotify_NoJobIDStillCallsBack(t *testing.T) {
	objects := s3test.New()
	md := map[string]string{}
	s3util.SetCallback(md, "https://blog.example/hook")
	seed(objects, md)
	starter, cb := &fakeStarter{}, &fakeDeliverer{}

	out, err := (&Notifier{Objects: objects, Starter: starter, Callbacks: cb}).Notify(context.Background(), "outputs", "converted/j1.mp4")
	require.NoError(t, err)
	assert.False(t, out.WorkflowStarted)
	assert.True(t, out.CallbackSent)
	assert.Empty(t, starter.inputs)
}

func TestNotify_CallbackFailureIsNotFatal(t *testing.T) {
	objects := s3test.New()
	md := map[string]string{s3util.MetaJobID: "j1"}
	s3util.SetCallback(md, "https://blog.example/hook")
	seed(objects, md)
	cb := &fakeDeliverer{err: &callback.RejectedError{StatusCode: 404}}

	out, err := (&Notifier{Objects: objects, Starter: &fakeStarter{}, Callbacks: cb}).Notify(context.Background(), "outputs", "converted/j1.mp4")
	require.NoError(t, err)
	assert.True(t, out.WorkflowStarted)
	assert.False(t, out.CallbackSent)
	assert.Error(t, out.CallbackErr)
}

func TestNotify_WorkflowFailureReturned(t *testing.T) {
	objects := s3test.New()
	seed(objects, map[string]string{s3util.MetaJobID: "j1"})
	_, err := (&Notifier{Objects: objects, Starter: &fakeStarter{err: errors.New("throttled")}}).Notify(context.Background(), "outputs", "converted/j1.mp4")
	assert.Error(t, err)
}

func TestNotify_MissingObject(t *testing.T) {
	_, err := (&Notifier{Objects: s3test.New()}).Notify(context.Background(), "outputs", "converted/none.mp4")
	assert.ErrorIs(t, err, s3util.ErrNoSuchKey)
}
