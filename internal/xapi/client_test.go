package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(server *httptest.Server) *Client {
	c := NewClient(server.URL)
	c.httpClient = server.Client()
	return c
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "tweet_video", Category("video/mp4"))
	assert.Equal(t, "tweet_gif", Category("image/gif"))
	assert.Equal(t, "tweet_image", Category("image/jpeg"))
	assert.Equal(t, "tweet_media", Category("application/octet-stream"))
}

func TestInitialize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/media/upload/initialize", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "video/mp4", body["media_type"])
		assert.EqualValues(t, 1234, body["total_bytes"])
		assert.Equal(t, "tweet_video", body["media_category"])
		w.Write([]byte(`{"data":{"id":"m-1"}}`))
	}))
	defer server.Close()

	id, err := newTestClient(server).Initialize(context.Background(), "tok", "video/mp4", 1234, "tweet_video")
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
}

func TestInitialize_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"title":"Forbidden"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).Initialize(context.Background(), "tok", "video/mp4", 10, "tweet_video")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestFinalize(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantState  string
		wantCheck  int
		wantFinish bool
	}{
		{"no processing info means ready", `{"data":{"id":"m-1"}}`, StateSucceeded, DefaultCheckAfter, true},
		{"processing state field", `{"data":{"id":"m-1","processing_state":"failed"}}`, StateFailed, DefaultCheckAfter, true},
		{"pending with hint", `{"data":{"id":"m-1","processing_info":{"state":"pending","check_after_secs":5}}}`, StatePending, 5, false},
		{"in progress without hint", `{"data":{"id":"m-1","processing_info":{"state":"in_progress"}}}`, StateInProgress, DefaultCheckAfter, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/2/media/upload/m-1/finalize", r.URL.Path)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p, err := newTestClient(server).Finalize(context.Background(), "tok", "m-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, p.State)
			assert.Equal(t, tt.wantCheck, p.CheckAfter)
			assert.Equal(t, tt.wantFinish, p.Done())
		})
	}
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/media/upload", r.URL.Path)
		assert.Equal(t, "STATUS", r.URL.Query().Get("command"))
		assert.Equal(t, "m-1", r.URL.Query().Get("media_id"))
		w.Write([]byte(`{"data":{"processing_info":{"state":"in_progress","check_after_secs":10}}}`))
	}))
	defer server.Close()

	p, err := newTestClient(server).Status(context.Background(), "tok", "m-1")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, p.State)
	assert.Equal(t, 10, p.CheckAfter)
	assert.False(t, p.Done())
}

type appendCall struct {
	index int
	size  int
}

func appendServer(t *testing.T, failAt int) (*httptest.Server, *[]appendCall) {
	t.Helper()
	var mu sync.Mutex
	calls := &[]appendCall{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/media/upload/m-1/append", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(ChunkSize*2))
		index, err := strconv.Atoi(r.FormValue("segment_index"))
		assert.NoError(t, err)
		f, _, err := r.FormFile("media")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)

		mu.Lock()
		*calls = append(*calls, appendCall{index: index, size: len(data)})
		mu.Unlock()
		if index == failAt {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":[{"message":"bad segment"}]}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	return server, calls
}

func TestUploadSegments_ChunkCountAndSizes(t *testing.T) {
	server, calls := appendServer(t, -1)
	defer server.Close()

	size := 2*ChunkSize + 123
	n, err := newTestClient(server).UploadSegments(context.Background(), "tok", "m-1", "video/mp4", bytes.NewReader(make([]byte, size)))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, *calls, 3)
	for i, c := range *calls {
		assert.Equal(t, i, c.index)
	}
	assert.Equal(t, ChunkSize, (*calls)[0].size)
	assert.Equal(t, ChunkSize, (*calls)[1].size)
	assert.Equal(t, 123, (*calls)[2].size)
}

func TestUploadSegments_ExactMultiple(t *testing.T) {
	server, calls := appendServer(t, -1)
	defer server.Close()

	n, err := newTestClient(server).UploadSegments(context.Background(), "tok", "m-1", "video/mp4", bytes.NewReader(make([]byte, ChunkSize)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, *calls, 1)
	assert.Equal(t, ChunkSize, (*calls)[0].size)
}

func TestUploadSegments_StopsAtFailingSegment(t *testing.T) {
	server, calls := appendServer(t, 1)
	defer server.Close()

	n, err := newTestClient(server).UploadSegments(context.Background(), "tok", "m-1", "video/mp4", bytes.NewReader(make([]byte, 3*ChunkSize)))
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, *calls, 2)

	var segErr *SegmentError
	require.ErrorAs(t, err, &segErr)
	assert.Equal(t, 1, segErr.Index)
	assert.Equal(t, http.StatusBadRequest, segErr.StatusCode)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestProbe_Head(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "5000")
	}))
	defer server.Close()

	src, err := newTestClient(server).Probe(context.Background(), server.URL+"/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), src.Size)
	assert.Equal(t, "video/mp4", src.ContentType)
}

func TestProbe_RangeFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Range", "bytes 0-0/987654")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer server.Close()

	src, err := newTestClient(server).Probe(context.Background(), server.URL+"/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(987654), src.Size)
}

func TestProbe_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server).Probe(context.Background(), server.URL+"/missing")
	assert.Error(t, err)
}

func TestPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])
		assert.Equal(t, map[string]any{"media_ids": []any{"m-1"}}, body["media"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"1850000000000000000","text":"hello"}}`))
	}))
	defer server.Close()

	id, err := newTestClient(server).Post(context.Background(), "tok", "hello", []string{"m-1"})
	require.NoError(t, err)
	assert.Equal(t, "1850000000000000000", id)
}

func TestPost_TextOnlyOmitsMedia(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasMedia := body["media"]
		assert.False(t, hasMedia)
		w.Write([]byte(`{"data":{"id":"p-1"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).Post(context.Background(), "tok", "just text", nil)
	require.NoError(t, err)
}

func TestPost_RateLimited(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(now.Unix()+125, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(server)
	c.now = func() time.Time { return now }
	_, err := c.Post(context.Background(), "tok", "hello", nil)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, int64(125), rl.WaitSeconds)
	assert.Equal(t, int64(3), rl.WaitMinutes())
	assert.Equal(t, now.Unix()+125, rl.ResetAt.Unix())
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
}

func TestPost_RateLimitedResetInPast(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(now.Unix()-30, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(server)
	c.now = func() time.Time { return now }
	_, err := c.Post(context.Background(), "tok", "hello", nil)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Zero(t, rl.WaitSeconds)
}

func TestPost_RateLimitedWithoutReset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server).Post(context.Background(), "tok", "hello", nil)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.True(t, rl.ResetAt.IsZero())
}
