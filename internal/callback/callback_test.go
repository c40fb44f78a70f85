package callback

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(secret string, waits *[]time.Duration) *Client {
	c := New(secret)
	c.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return c
}

func TestDeliver_SignsAndPosts(t *testing.T) {
	var gotSig string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		assert.True(t, Verify("s3cret", body, gotSig))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var waits []time.Duration
	err := newTestClient("s3cret", &waits).Deliver(context.Background(), srv.URL, map[string]string{"event": "object_converted"})
	require.NoError(t, err)
	assert.Equal(t, "object_converted", got["event"])
	assert.NotEmpty(t, gotSig)
	assert.Empty(t, waits)
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var waits []time.Duration
	require.NoError(t, newTestClient("", &waits).Deliver(context.Background(), srv.URL, struct{}{}))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond}, waits)
}

func TestDeliver_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var waits []time.Duration
	err := newTestClient("", &waits).Deliver(context.Background(), srv.URL, struct{}{})
	require.Error(t, err)
	assert.Equal(t, int32(DefaultRetries+1), calls.Load())
}

func TestDeliver_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	var waits []time.Duration
	err := newTestClient("", &waits).Deliver(context.Background(), srv.URL, struct{}{})
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusGone, rejected.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, waits)
}

func TestDeliver_InvalidURL(t *testing.T) {
	var waits []time.Duration
	c := newTestClient("", &waits)
	assert.ErrorIs(t, c.Deliver(context.Background(), "ftp://x/y", nil), ErrInvalidURL)
	assert.ErrorIs(t, c.Deliver(context.Background(), "/relative", nil), ErrInvalidURL)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("k", body)
	assert.True(t, Verify("k", body, sig))
	assert.False(t, Verify("other", body, sig))
	assert.False(t, Verify("k", body, "md5=abc"))
	assert.False(t, Verify("k", body, "sha256=zz"))
}
