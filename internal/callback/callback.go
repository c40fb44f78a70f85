// Package callback delivers completion notices to caller-supplied webhook
// URLs. Deliveries are JSON POSTs, optionally signed with HMAC-SHA256 in
// the X-Signature-256 header ("sha256=<hex>"), retried with bounded
// exponential backoff on 5xx and transport errors.
package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults for delivery.
const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 2
	DefaultBackoff = 1.5

	SignatureHeader = "X-Signature-256"
	signaturePrefix = "sha256="
)

// ErrInvalidURL is returned for callback URLs that are not absolute http(s).
var ErrInvalidURL = errors.New("callback: invalid url")

// RejectedError is a 4xx answer. It is never retried.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("callback rejected with %d: %s", e.StatusCode, e.Body)
}

// Client posts payloads to webhooks.
type Client struct {
	httpClient *http.Client
	secret     string
	retries    int
	backoff    float64
	sleep      func(ctx context.Context, d time.Duration) error
}

// New returns a Client. An empty secret disables signing.
func New(secret string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		secret:     secret,
		retries:    DefaultRetries,
		backoff:    DefaultBackoff,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sign returns the X-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against body in constant time.
func Verify(secret string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	gotBytes, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(strings.TrimPrefix(Sign(secret, body), signaturePrefix))
	return hmac.Equal(gotBytes, want)
}

// ValidURL reports whether raw is an absolute http or https URL.
func ValidURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// Deliver POSTs payload as JSON. Attempt i (from 0) is followed by a wait
// of backoff^i seconds before the next one.
func (c *Client) Deliver(ctx context.Context, target string, payload any) error {
	if !ValidURL(target) {
		return ErrInvalidURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	var last error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(math.Pow(c.backoff, float64(attempt-1)) * float64(time.Second))
			if err := c.sleep(ctx, wait); err != nil {
				return errors.Join(last, err)
			}
		}
		last = c.post(ctx, target, body, attempt)
		if last == nil {
			log.Debug().Int("attempt", attempt).Msg("Callback delivered")
			return nil
		}
		var rejected *RejectedError
		if errors.As(last, &rejected) {
			return last
		}
		log.Warn().Err(last).Int("attempt", attempt).Msg("Callback attempt failed")
	}
	return fmt.Errorf("callback failed after %d attempts: %w", c.retries+1, last)
}

func (c *Client) post(ctx context.Context, target string, body []byte, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "media-publisher/1")
	req.Header.Set("X-Delivery-Attempt", strconv.Itoa(attempt+1))
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(c.secret, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &RejectedError{StatusCode: resp.StatusCode, Body: string(snippet)}
	default:
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
}
