package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RateLimitError is returned for a 429 on post. ResetAt is zero when X did
// not send x-rate-limit-reset.
type RateLimitError struct {
	ResetAt     time.Time
	WaitSeconds int64
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "x post: rate limited"
	}
	return fmt.Sprintf("x post: rate limited, retry in %ds", e.WaitSeconds)
}

// WaitMinutes rounds WaitSeconds up to whole minutes.
func (e *RateLimitError) WaitMinutes() int64 {
	return (e.WaitSeconds + 59) / 60
}

type postRequest struct {
	Text  string     `json:"text,omitempty"`
	Media *postMedia `json:"media,omitempty"`
}

type postMedia struct {
	MediaIDs []string `json:"media_ids"`
}

// Post publishes text with optional media and returns the post id.
func (c *Client) Post(ctx context.Context, token, text string, mediaIDs []string) (string, error) {
	body := postRequest{Text: text}
	if len(mediaIDs) > 0 {
		body.Media = &postMedia{MediaIDs: mediaIDs}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("x post: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", strings.NewReader(string(raw)))
	if err != nil {
		return "", fmt.Errorf("x post: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, respBody, err := c.send(req)
	if err != nil {
		return "", fmt.Errorf("x post: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", c.rateLimit(resp.Header.Get("x-rate-limit-reset"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Op: "post", StatusCode: resp.StatusCode, Body: truncate(string(respBody), 300)}
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("x post: parse response: %w", err)
	}
	if out.Data.ID == "" {
		return "", errors.New("x post: no post id returned")
	}
	log.Info().Str("postId", out.Data.ID).Int("mediaCount", len(mediaIDs)).Msg("X post created")
	return out.Data.ID, nil
}

func (c *Client) rateLimit(reset string) *RateLimitError {
	ts, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return &RateLimitError{}
	}
	resetAt := time.Unix(ts, 0)
	wait := int64(resetAt.Sub(c.now()) / time.Second)
	if wait < 0 {
		wait = 0
	}
	return &RateLimitError{ResetAt: resetAt, WaitSeconds: wait}
}
