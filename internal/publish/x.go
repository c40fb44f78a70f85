package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/jobs"
	"github.com/fpang/media-publisher/internal/s3util"
	"github.com/fpang/media-publisher/internal/store"
	"github.com/fpang/media-publisher/internal/xapi"
)

// XAPI is the subset of the X client the adapter uses.
type XAPI interface {
	Probe(ctx context.Context, mediaURL string) (xapi.Source, error)
	Open(ctx context.Context, mediaURL string) (io.ReadCloser, error)
	Initialize(ctx context.Context, token, mediaType string, totalBytes int64, category string) (string, error)
	UploadSegments(ctx context.Context, token, mediaID, mediaType string, r io.Reader) (int, error)
	Finalize(ctx context.Context, token, mediaID string) (xapi.Processing, error)
	Status(ctx context.Context, token, mediaID string) (xapi.Processing, error)
	Post(ctx context.Context, token, text string, mediaIDs []string) (string, error)
}

// X publishes a post, uploading each attached media through a chunked
// upload session first. Media are uploaded one after another.
type X struct {
	api XAPI
}

// NewX returns the X adapter.
func NewX(api XAPI) *X {
	return &X{api: api}
}

func (a *X) Platform() store.Platform { return store.PlatformX }

func mediaList(req Request) []string {
	if req.MediaURL != "" {
		return []string{req.MediaURL}
	}
	return req.Job.MediaURLs
}

// Initialize probes the first media and opens its upload session. A job
// without media is ready to post immediately.
func (a *X) Initialize(ctx context.Context, req Request) (*Outcome, error) {
	urls := mediaList(req)
	if len(urls) == 0 {
		if req.Job.Text == "" {
			return failed(jobs.StagePost, "empty", "nothing to post"), nil
		}
		return &Outcome{
			Complete: true,
			Status:   jobs.StatusProcessing,
			Session:  &Session{Platform: store.PlatformX, Phase: PhaseReady},
		}, nil
	}
	return a.open(ctx, req.Token, &Session{Platform: store.PlatformX}, urls, 0)
}

// open starts the upload session for urls[index].
func (a *X) open(ctx context.Context, token string, prev *Session, urls []string, index int) (*Outcome, error) {
	mediaURL := urls[index]
	src, err := a.api.Probe(ctx, mediaURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", jobs.StageInitialize, err)
	}
	mediaType := mediaTypeOf(src.ContentType, mediaURL)

	mediaID, err := a.api.Initialize(ctx, token, mediaType, src.Size, xapi.Category(mediaType))
	if err != nil {
		return classify(jobs.StageInitialize, xapi.StatusCode(err), err)
	}
	s := &Session{
		Platform:   store.PlatformX,
		Phase:      PhaseAppend,
		MediaID:    mediaID,
		MediaType:  mediaType,
		MediaURL:   mediaURL,
		TotalBytes: src.Size,
		MediaIndex: index,
		MediaIDs:   prev.MediaIDs,
	}
	return &Outcome{
		Status:  jobs.StatusProcessing,
		Attrs:   map[string]any{"media_id": mediaID},
		Session: s,
	}, nil
}

// Advance runs the next step of the current upload: append every segment
// and finalize, or poll processing once. When a media succeeds the next
// one is opened; after the last the session is ready to post.
func (a *X) Advance(ctx context.Context, req Request) (*Outcome, error) {
	s := req.Session
	switch s.Phase {
	case PhaseReady:
		return &Outcome{Complete: true, Session: s}, nil
	case PhaseAppend:
		return a.appendAndFinalize(ctx, req)
	case PhaseProcessing:
		return a.poll(ctx, req)
	default:
		return nil, &MalformedInputError{Field: "session.phase", Reason: "unexpected " + s.Phase + " for x"}
	}
}

func (a *X) appendAndFinalize(ctx context.Context, req Request) (*Outcome, error) {
	s := req.Session
	if s.MediaID == "" || s.MediaURL == "" {
		return nil, &MalformedInputError{Field: "session.media_id", Reason: "required"}
	}

	body, err := a.api.Open(ctx, s.MediaURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", jobs.StageAppend, err)
	}
	sent, err := a.api.UploadSegments(ctx, req.Token, s.MediaID, s.MediaType, body)
	body.Close()
	if err != nil {
		var segErr *xapi.SegmentError
		if errors.As(err, &segErr) && rejected(segErr.StatusCode) {
			return &Outcome{
				Complete: true,
				Failure: &StageFailure{
					Stage:      jobs.StageAppend,
					Code:       fmt.Sprint(segErr.StatusCode),
					StatusCode: segErr.StatusCode,
					Message:    fmt.Sprintf("segment %d rejected: %v", segErr.Index, segErr.Err),
				},
			}, nil
		}
		return nil, fmt.Errorf("%s: %w", jobs.StageAppend, err)
	}
	log.Info().Str("jobId", req.Job.ID).Str("mediaId", s.MediaID).Int("segments", sent).Msg("Media segments appended")

	proc, err := a.api.Finalize(ctx, req.Token, s.MediaID)
	if err != nil {
		return classify(jobs.StageFinalize, xapi.StatusCode(err), err)
	}
	next := *s
	next.SegmentIndex = sent
	return a.afterProcessing(ctx, req, &next, proc, jobs.StageFinalize)
}

func (a *X) poll(ctx context.Context, req Request) (*Outcome, error) {
	s := req.Session
	if s.MediaID == "" {
		return nil, &MalformedInputError{Field: "session.media_id", Reason: "required"}
	}
	proc, err := a.api.Status(ctx, req.Token, s.MediaID)
	if err != nil {
		return classify(jobs.StagePoll, xapi.StatusCode(err), err)
	}
	next := *s
	return a.afterProcessing(ctx, req, &next, proc, jobs.StagePoll)
}

// afterProcessing maps a processing state onto the next step. Only
// succeeded and failed end the wait; anything else asks for one more poll
// after CheckAfter seconds.
func (a *X) afterProcessing(ctx context.Context, req Request, s *Session, proc xapi.Processing, stage string) (*Outcome, error) {
	switch proc.State {
	case xapi.StateFailed:
		return failed(stage, xapi.StateFailed, "media processing failed"), nil
	case xapi.StateSucceeded:
		s.MediaIDs = append(append([]string(nil), s.MediaIDs...), s.MediaID)
		urls := mediaList(req)
		if s.MediaIndex+1 < len(urls) {
			return a.open(ctx, req.Token, s, urls, s.MediaIndex+1)
		}
		s.Phase = PhaseReady
		s.CheckAfter = 0
		return &Outcome{Complete: true, Session: s}, nil
	default:
		check := proc.CheckAfter
		if check <= 0 {
			check = xapi.DefaultCheckAfter
		}
		s.Phase = PhaseProcessing
		s.CheckAfter = check
		return &Outcome{Status: jobs.StatusProcessing, Session: s, CheckAfter: check}, nil
	}
}

// Finalize posts the text with every uploaded media id. The post id
// becomes the terminal status.
func (a *X) Finalize(ctx context.Context, req Request) (*Outcome, error) {
	s := req.Session
	if s.Phase != PhaseReady {
		return nil, &MalformedInputError{Field: "session.phase", Reason: "media not ready"}
	}
	postID, err := a.api.Post(ctx, req.Token, req.Job.Text, s.MediaIDs)
	if err != nil {
		var rl *xapi.RateLimitError
		if errors.As(err, &rl) {
			out := &RateLimit{Stage: jobs.StagePost, WaitSeconds: rl.WaitSeconds, WaitMinutes: rl.WaitMinutes()}
			if !rl.ResetAt.IsZero() {
				out.ResetAt = rl.ResetAt.Unix()
			}
			return &Outcome{Session: s, RateLimit: out, CheckAfter: int(rl.WaitSeconds)}, nil
		}
		return classify(jobs.StagePost, xapi.StatusCode(err), err)
	}
	return &Outcome{Complete: true, Status: postID, PostID: postID}, nil
}

// mediaTypeOf prefers the served content type and falls back to the URL's
// extension.
func mediaTypeOf(contentType, mediaURL string) string {
	if ct, _, err := mime.ParseMediaType(contentType); err == nil && ct != "application/octet-stream" && ct != "binary/octet-stream" {
		return ct
	}
	if u, err := url.Parse(mediaURL); err == nil {
		return s3util.ContentTypeFor(path.Ext(u.Path))
	}
	return "application/octet-stream"
}
