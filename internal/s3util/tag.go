package s3util

import (
	"net/url"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Routing tag keys attached to uploads that have a transcode destination.
const (
	TagOutBucket = "out_bucket"
	TagOutKey    = "out_key"
	TagTranscode = "transcode"
)

// EncodeTagging renders tags as the URL-encoded query string S3 expects in
// the x-amz-tagging header. Keys are sorted so the string is stable, which
// matters because it is part of the presigned signature.
func EncodeTagging(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(tags[k]))
	}
	return strings.Join(parts, "&")
}

// ParseTagging is the inverse of EncodeTagging.
func ParseTagging(s string) map[string]string {
	out := map[string]string{}
	q, err := url.ParseQuery(s)
	if err != nil {
		return out
	}
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// TagMap flattens an S3 tag set.
func TagMap(set []s3types.Tag) map[string]string {
	out := make(map[string]string, len(set))
	for _, t := range set {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}
