package publish

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/fpang/media-publisher/internal/instagram"
	"github.com/fpang/media-publisher/internal/lifecycle"
	"github.com/fpang/media-publisher/internal/xapi"
)

type fakeCipher struct {
	err error
}

func (c *fakeCipher) Encrypt(_ context.Context, p string) (string, error) {
	return "sealed(" + p + ")", nil
}

func (c *fakeCipher) Decrypt(_ context.Context, s string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	p, ok := strings.CutPrefix(s, "sealed(")
	if !ok {
		return "", errors.New("bad ciphertext")
	}
	return strings.TrimSuffix(p, ")"), nil
}

type fakeGraph struct {
	createErr   error
	statuses    []string
	statusErr   error
	publishID   string
	publishErr  error
	calls       []string
	tokens      []string
	lastKind    instagram.MediaKind
	lastMediaID string
}

func (g *fakeGraph) CreateContainer(_ context.Context, token, userID, mediaURL, caption string, kind instagram.MediaKind) (string, error) {
	g.calls = append(g.calls, "create")
	g.tokens = append(g.tokens, token)
	g.lastKind = kind
	if g.createErr != nil {
		return "", g.createErr
	}
	return "cont-1", nil
}

func (g *fakeGraph) ContainerStatus(_ context.Context, token, containerID string) (string, error) {
	g.calls = append(g.calls, "status")
	if g.statusErr != nil {
		return "", g.statusErr
	}
	s := g.statuses[0]
	if len(g.statuses) > 1 {
		g.statuses = g.statuses[1:]
	}
	return s, nil
}

func (g *fakeGraph) Publish(_ context.Context, token, userID, containerID string) (string, error) {
	g.calls = append(g.calls, "publish")
	if g.publishErr != nil {
		return "", g.publishErr
	}
	return g.publishID, nil
}

type fakeX struct {
	sizes      map[string]int64
	initErr    error
	segErr     error
	finalize   xapi.Processing
	statuses   []xapi.Processing
	postID     string
	postErr    error
	calls      []string
	postedText string
	postedIDs  []string
	nextID     int
}

func (x *fakeX) Probe(_ context.Context, mediaURL string) (xapi.Source, error) {
	x.calls = append(x.calls, "probe")
	size, ok := x.sizes[mediaURL]
	if !ok {
		return xapi.Source{}, errors.New("probe: HTTP 404")
	}
	return xapi.Source{Size: size, ContentType: "video/mp4"}, nil
}

func (x *fakeX) Open(_ context.Context, mediaURL string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(make([]byte, x.sizes[mediaURL]))), nil
}

func (x *fakeX) Initialize(_ context.Context, token, mediaType string, totalBytes int64, category string) (string, error) {
	x.calls = append(x.calls, "initialize")
	if x.initErr != nil {
		return "", x.initErr
	}
	x.nextID++
	return "m-" + string(rune('0'+x.nextID)), nil
}

func (x *fakeX) UploadSegments(_ context.Context, token, mediaID, mediaType string, r io.Reader) (int, error) {
	x.calls = append(x.calls, "append")
	if x.segErr != nil {
		return 0, x.segErr
	}
	n, _ := io.Copy(io.Discard, r)
	return int((n + xapi.ChunkSize - 1) / xapi.ChunkSize), nil
}

func (x *fakeX) Finalize(_ context.Context, token, mediaID string) (xapi.Processing, error) {
	x.calls = append(x.calls, "finalize")
	return x.finalize, nil
}

func (x *fakeX) Status(_ context.Context, token, mediaID string) (xapi.Processing, error) {
	x.calls = append(x.calls, "status")
	s := x.statuses[0]
	if len(x.statuses) > 1 {
		x.statuses = x.statuses[1:]
	}
	return s, nil
}

func (x *fakeX) Post(_ context.Context, token, text string, mediaIDs []string) (string, error) {
	x.calls = append(x.calls, "post")
	x.postedText = text
	x.postedIDs = mediaIDs
	if x.postErr != nil {
		return "", x.postErr
	}
	return x.postID, nil
}

type fakeCleaner struct {
	jobID string
	extra []lifecycle.ObjectRef
}

func (c *fakeCleaner) CleanupJob(_ context.Context, jobID string, extra ...lifecycle.ObjectRef) (*lifecycle.Report, error) {
	c.jobID = jobID
	c.extra = extra
	return &lifecycle.Report{JobID: jobID, Deleted: extra}, nil
}
