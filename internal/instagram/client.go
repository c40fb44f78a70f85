// Package instagram is a client for the Graph API content publishing
// endpoints used to post a single Reel or image on behalf of a business
// account:
//
//  1. POST /{ig-user-id}/media creates a container from a public media URL
//  2. GET /{container-id}?fields=status_code reports processing progress
//  3. POST /{ig-user-id}/media_publish publishes a FINISHED container
//
// Access tokens are supplied per call; the client holds no credentials.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the Graph API base URL.
	DefaultBaseURL = "https://graph.facebook.com/v20.0"

	defaultTimeout = 20 * time.Second
)

// Container processing states.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusFinished   = "FINISHED"
	StatusError      = "ERROR"
	StatusExpired    = "EXPIRED"
	StatusPublished  = "PUBLISHED"
)

// MediaKind selects the container type.
type MediaKind int

const (
	KindReel MediaKind = iota
	KindImage
)

// APIError is a non-2xx Graph API answer.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       int
	FBTraceID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API %d: %s (type %s, code %d)", e.StatusCode, e.Message, e.Type, e.Code)
}

// StatusCode returns the HTTP status carried by err, or 0 for transport
// failures and anything that is not an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client calls the Graph API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient returns a Client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type graphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

type idResponse struct {
	ID    string      `json:"id"`
	Error *graphError `json:"error,omitempty"`
}

type statusResponse struct {
	ID         string      `json:"id"`
	StatusCode string      `json:"status_code"`
	Error      *graphError `json:"error,omitempty"`
}

// CreateContainer creates a media container for mediaURL and returns its
// creation id.
func (c *Client) CreateContainer(ctx context.Context, token, userID, mediaURL, caption string, kind MediaKind) (string, error) {
	form := url.Values{
		"caption":      {caption},
		"access_token": {token},
	}
	if kind == KindImage {
		form.Set("image_url", mediaURL)
	} else {
		form.Set("media_type", "REELS")
		form.Set("video_url", mediaURL)
	}

	var resp idResponse
	if err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(userID)+"/media", form, &resp); err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("create container: response carried no id")
	}
	log.Info().Str("containerId", resp.ID).Msg("Instagram container created")
	return resp.ID, nil
}

// ContainerStatus returns the container's status_code, upper-cased.
func (c *Client) ContainerStatus(ctx context.Context, token, containerID string) (string, error) {
	q := url.Values{"fields": {"status_code"}, "access_token": {token}}
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(containerID)+"?"+q.Encode(), nil, &resp); err != nil {
		return "", fmt.Errorf("container status: %w", err)
	}
	return strings.ToUpper(resp.StatusCode), nil
}

// Publish publishes a finished container and returns the media id.
func (c *Client) Publish(ctx context.Context, token, userID, containerID string) (string, error) {
	form := url.Values{
		"creation_id":  {containerID},
		"access_token": {token},
	}
	var resp idResponse
	if err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(userID)+"/media_publish", form, &resp); err != nil {
		return "", fmt.Errorf("publish container %s: %w", containerID, err)
	}
	if resp.ID == "" {
		return "", errors.New("publish: response carried no id")
	}
	log.Info().Str("containerId", containerID).Str("mediaId", resp.ID).Msg("Instagram media published")
	return resp.ID, nil
}

// do sends a request and decodes the body into out. Non-2xx answers become
// *APIError; transport failures are returned wrapped.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	// Paths may carry the token in the query, so only the route is logged.
	route, _, _ := strings.Cut(path, "?")
	log.Debug().Str("method", method).Str("path", route).Int("statusCode", resp.StatusCode).Dur("duration", time.Since(start)).Msg("Graph API response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: truncate(string(raw), 200)}
		var wrapped struct {
			Error *graphError `json:"error"`
		}
		if json.Unmarshal(raw, &wrapped) == nil && wrapped.Error != nil {
			apiErr.Message = wrapped.Error.Message
			apiErr.Type = wrapped.Error.Type
			apiErr.Code = wrapped.Error.Code
			apiErr.FBTraceID = wrapped.Error.FBTraceID
		}
		return apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(raw), 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
