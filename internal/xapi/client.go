// Package xapi is a client for the X v2 chunked media upload and post
// endpoints. Tokens are bearer tokens supplied per call.
package xapi

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
	// DefaultBaseURL is the X API host.
	DefaultBaseURL = "https://api.x.com"

	defaultTimeout = 60 * time.Second
)

// APIError is a non-2xx X answer for operation Op.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("x %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an
// X rejection (transport failure, decode failure).
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var segErr *SegmentError
	if errors.As(err, &segErr) {
		return segErr.StatusCode
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return http.StatusTooManyRequests
	}
	return 0
}

// Client calls the X API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	now        func() time.Time
}

// NewClient returns a Client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
	}
}

// Category maps a MIME type to an X media_category.
func Category(mimeType string) string {
	switch {
	case mimeType == "image/gif":
		return "tweet_gif"
	case strings.HasPrefix(mimeType, "video/"):
		return "tweet_video"
	case strings.HasPrefix(mimeType, "image/"):
		return "tweet_image"
	default:
		return "tweet_media"
	}
}

// Processing is the media processing state reported by finalize and STATUS.
type Processing struct {
	State      string
	CheckAfter int
}

// Processing states.
const (
	StatePending    = "pending"
	StateInProgress = "in_progress"
	StateSucceeded  = "succeeded"
	StateFailed     = "failed"
)

// Done reports whether the state is final.
func (p Processing) Done() bool {
	return p.State == StateSucceeded || p.State == StateFailed
}

// DefaultCheckAfter is used when X omits check_after_secs.
const DefaultCheckAfter = 5

type processingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs *int   `json:"check_after_secs"`
}

type mediaData struct {
	ID              string          `json:"id"`
	ProcessingState string          `json:"processing_state"`
	ProcessingInfo  *processingInfo `json:"processing_info"`
}

func (d mediaData) processing(def string) Processing {
	p := Processing{State: d.ProcessingState, CheckAfter: DefaultCheckAfter}
	if d.ProcessingInfo != nil {
		if p.State == "" {
			p.State = d.ProcessingInfo.State
		}
		if d.ProcessingInfo.CheckAfterSecs != nil {
			p.CheckAfter = *d.ProcessingInfo.CheckAfterSecs
		}
	}
	if p.State == "" {
		p.State = def
	}
	return p
}

// Initialize opens an upload session and returns the media id.
func (c *Client) Initialize(ctx context.Context, token, mediaType string, totalBytes int64, category string) (string, error) {
	payload := map[string]any{
		"media_type":     mediaType,
		"total_bytes":    totalBytes,
		"media_category": category,
	}
	var resp struct {
		Data mediaData `json:"data"`
	}
	if err := c.doJSON(ctx, "initialize", http.MethodPost, "/2/media/upload/initialize", token, payload, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", errors.New("x initialize: no media id returned")
	}
	log.Info().Str("mediaId", resp.Data.ID).Int64("totalBytes", totalBytes).Str("category", category).Msg("X upload session initialized")
	return resp.Data.ID, nil
}

// Finalize closes the upload session. A response without any processing
// state means the media is immediately usable.
func (c *Client) Finalize(ctx context.Context, token, mediaID string) (Processing, error) {
	var resp struct {
		Data mediaData `json:"data"`
	}
	path := "/2/media/upload/" + url.PathEscape(mediaID) + "/finalize"
	if err := c.doJSON(ctx, "finalize", http.MethodPost, path, token, nil, &resp); err != nil {
		return Processing{}, err
	}
	p := resp.Data.processing(StateSucceeded)
	log.Info().Str("mediaId", mediaID).Str("state", p.State).Int("checkAfter", p.CheckAfter).Msg("X upload finalized")
	return p, nil
}

// Status queries media processing progress.
func (c *Client) Status(ctx context.Context, token, mediaID string) (Processing, error) {
	var resp struct {
		Data mediaData `json:"data"`
	}
	path := "/2/media/upload?" + url.Values{"command": {"STATUS"}, "media_id": {mediaID}}.Encode()
	if err := c.doJSON(ctx, "status", http.MethodGet, path, token, nil, &resp); err != nil {
		return Processing{}, err
	}
	return resp.Data.processing(""), nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("x %s: encode request: %w", op, err)
		}
		body = strings.NewReader(string(raw))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("x %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, raw, err := c.send(req)
	if err != nil {
		return fmt.Errorf("x %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(raw), 300)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("x %s: parse response: %w", op, err)
	}
	return nil
}

func (c *Client) send(req *http.Request) (*http.Response, []byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Int("statusCode", resp.StatusCode).Dur("duration", time.Since(start)).Msg("X API response")
	return resp, raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
