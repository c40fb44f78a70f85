package xapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// ChunkSize is the fixed append segment size.
const ChunkSize = 4 << 20

// SegmentError reports the append segment that X rejected or that could not
// be sent.
type SegmentError struct {
	Index      int
	StatusCode int
	Err        error
}

func (e *SegmentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("x append segment %d: HTTP %d: %v", e.Index, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("x append segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// Source describes a remote media object.
type Source struct {
	Size        int64
	ContentType string
}

// Probe returns the size and content type of the object at mediaURL. HEAD is
// tried first; presigned GET URLs reject HEAD, so a one-byte ranged GET is
// the fallback and the size comes from Content-Range.
func (c *Client) Probe(ctx context.Context, mediaURL string) (Source, error) {
	if src, err := c.probeHead(ctx, mediaURL); err == nil {
		return src, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return Source{}, fmt.Errorf("probe: build request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Source{}, fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	src := Source{ContentType: resp.Header.Get("Content-Type")}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		_, total, ok := strings.Cut(cr, "/")
		if !ok {
			return Source{}, fmt.Errorf("probe: malformed Content-Range %q", cr)
		}
		src.Size, err = strconv.ParseInt(total, 10, 64)
		if err != nil {
			return Source{}, fmt.Errorf("probe: malformed Content-Range %q", cr)
		}
	case http.StatusOK:
		src.Size = resp.ContentLength
	default:
		return Source{}, fmt.Errorf("probe: HTTP %d", resp.StatusCode)
	}
	if src.Size <= 0 {
		return Source{}, errors.New("probe: source reported zero length")
	}
	return src, nil
}

func (c *Client) probeHead(ctx context.Context, mediaURL string) (Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, mediaURL, nil)
	if err != nil {
		return Source{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Source{}, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength <= 0 {
		return Source{}, fmt.Errorf("head: HTTP %d, length %d", resp.StatusCode, resp.ContentLength)
	}
	return Source{Size: resp.ContentLength, ContentType: resp.Header.Get("Content-Type")}, nil
}

// Open streams the object at mediaURL. The caller closes the body.
func (c *Client) Open(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open media: HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Append sends one indexed segment.
func (c *Client) Append(ctx context.Context, token, mediaID, mediaType string, index int, chunk []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("segment_index", strconv.Itoa(index)); err != nil {
		return &SegmentError{Index: index, Err: err}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename="part%d"`, index))
	h.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return &SegmentError{Index: index, Err: err}
	}
	if _, err := part.Write(chunk); err != nil {
		return &SegmentError{Index: index, Err: err}
	}
	if err := mw.Close(); err != nil {
		return &SegmentError{Index: index, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/media/upload/"+url.PathEscape(mediaID)+"/append", &buf)
	if err != nil {
		return &SegmentError{Index: index, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, raw, err := c.send(req)
	if err != nil {
		return &SegmentError{Index: index, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SegmentError{
			Index:      index,
			StatusCode: resp.StatusCode,
			Err:        errors.New(truncate(string(raw), 300)),
		}
	}
	return nil
}

// UploadSegments reads r in ChunkSize segments and appends them in order,
// starting at index 0. It stops at the first failure and returns the number
// of segments sent.
func (c *Client) UploadSegments(ctx context.Context, token, mediaID, mediaType string, r io.Reader) (int, error) {
	buf := make([]byte, ChunkSize)
	index := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if appendErr := c.Append(ctx, token, mediaID, mediaType, index, buf[:n]); appendErr != nil {
				return index, appendErr
			}
			index++
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return index, nil
		default:
			return index, &SegmentError{Index: index, Err: fmt.Errorf("read source: %w", err)}
		}
	}
}
