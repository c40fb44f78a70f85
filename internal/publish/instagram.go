package publish

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/instagram"
	"github.com/fpang/media-publisher/internal/jobs"
	"github.com/fpang/media-publisher/internal/store"
)

// InstagramCheckAfter is the poll delay suggested while a container is
// being processed.
const InstagramCheckAfter = 10

// GraphAPI is the subset of the Graph client the adapter uses.
type GraphAPI interface {
	CreateContainer(ctx context.Context, token, userID, mediaURL, caption string, kind instagram.MediaKind) (string, error)
	ContainerStatus(ctx context.Context, token, containerID string) (string, error)
	Publish(ctx context.Context, token, userID, containerID string) (string, error)
}

// Instagram publishes a Reel or image through a media container.
type Instagram struct {
	api GraphAPI
}

// NewInstagram returns the Instagram adapter.
func NewInstagram(api GraphAPI) *Instagram {
	return &Instagram{api: api}
}

func (a *Instagram) Platform() store.Platform { return store.PlatformInstagram }

// Initialize creates the container.
func (a *Instagram) Initialize(ctx context.Context, req Request) (*Outcome, error) {
	if req.MediaURL == "" {
		return failed(jobs.StageCreateContainer, "no_media", "job has no media to publish"), nil
	}
	if req.Job.IGUserID == "" {
		return failed(jobs.StageCreateContainer, "no_ig_user", "job has no Instagram user id"), nil
	}

	kind := instagram.KindReel
	if isImage(req) {
		kind = instagram.KindImage
	}
	cid, err := a.api.CreateContainer(ctx, req.Token, req.Job.IGUserID, req.MediaURL, req.Job.Caption, kind)
	if err != nil {
		return classify(jobs.StageCreateContainer, instagram.StatusCode(err), err)
	}
	return &Outcome{
		Status:     jobs.StatusProcessing,
		Session:    &Session{Platform: store.PlatformInstagram, Phase: PhaseContainer, ContainerID: cid, CheckAfter: InstagramCheckAfter},
		CheckAfter: InstagramCheckAfter,
	}, nil
}

// Advance polls the container once.
func (a *Instagram) Advance(ctx context.Context, req Request) (*Outcome, error) {
	s := req.Session
	if s.Phase == PhaseReady {
		return &Outcome{Complete: true, Session: s}, nil
	}
	if s.ContainerID == "" {
		return nil, &MalformedInputError{Field: "session.container_id", Reason: "required"}
	}

	status, err := a.api.ContainerStatus(ctx, req.Token, s.ContainerID)
	if err != nil {
		return classify(jobs.StageCheckStatus, instagram.StatusCode(err), err)
	}
	log.Debug().Str("jobId", req.Job.ID).Str("containerStatus", status).Msg("Container polled")

	switch status {
	case instagram.StatusError:
		return failed(jobs.StageCheckStatus, "GRAPH_ERROR", "container processing failed"), nil
	case instagram.StatusExpired:
		return failed(jobs.StageCheckStatus, "EXPIRED", "container expired before publishing"), nil
	case instagram.StatusInProgress, "":
		next := *s
		next.CheckAfter = InstagramCheckAfter
		return &Outcome{Session: &next, CheckAfter: InstagramCheckAfter}, nil
	default:
		next := *s
		next.Phase = PhaseReady
		next.CheckAfter = 0
		return &Outcome{Complete: true, Session: &next}, nil
	}
}

// Finalize publishes the container. The media id becomes the terminal
// status.
func (a *Instagram) Finalize(ctx context.Context, req Request) (*Outcome, error) {
	s := req.Session
	if s.ContainerID == "" {
		return nil, &MalformedInputError{Field: "session.container_id", Reason: "required"}
	}
	mediaID, err := a.api.Publish(ctx, req.Token, req.Job.IGUserID, s.ContainerID)
	if err != nil {
		return classify(jobs.StagePublish, instagram.StatusCode(err), err)
	}
	if mediaID == "" {
		return nil, errors.New("publish: empty media id")
	}
	return &Outcome{
		Complete: true,
		Status:   mediaID,
		Attrs:    map[string]any{"media_id": mediaID},
		PostID:   mediaID,
	}, nil
}

func isImage(req Request) bool {
	if req.Object != nil && req.Object.ContentType != "" {
		return strings.HasPrefix(req.Object.ContentType, "image/")
	}
	return strings.HasPrefix(req.Job.ContentType, "image/")
}
