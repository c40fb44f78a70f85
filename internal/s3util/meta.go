package s3util

import (
	"encoding/base64"
	"unicode"
)

// User metadata keys carried from upload through transcode to dispatch.
// S3 only allows US-ASCII in metadata values, hence the -b64 variants.
const (
	MetaJobID     = "job-id"
	MetaParams    = "params"
	MetaParamsB64 = "params-b64"
	MetaCallback  = "cb-b64"
)

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// SetParams stores serialized encoder parameters in md, base64-encoding
// them under params-b64 when they contain non-ASCII text.
func SetParams(md map[string]string, params string) {
	if params == "" {
		return
	}
	if isASCII(params) {
		md[MetaParams] = params
		return
	}
	md[MetaParamsB64] = base64.StdEncoding.EncodeToString([]byte(params))
}

// Params returns the serialized parameters from md, preferring the plain
// key. Undecodable base64 yields "".
func Params(md map[string]string) string {
	if p := md[MetaParams]; p != "" {
		return p
	}
	if b := md[MetaParamsB64]; b != "" {
		raw, err := base64.StdEncoding.DecodeString(b)
		if err == nil {
			return string(raw)
		}
	}
	return ""
}

// SetCallback stores a webhook URL in md.
func SetCallback(md map[string]string, url string) {
	if url != "" {
		md[MetaCallback] = base64.StdEncoding.EncodeToString([]byte(url))
	}
}

// Callback returns the webhook URL stored in md, or "".
func Callback(md map[string]string) string {
	raw, err := base64.StdEncoding.DecodeString(md[MetaCallback])
	if err != nil {
		return ""
	}
	return string(raw)
}
