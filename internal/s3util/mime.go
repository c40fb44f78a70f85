package s3util

import "strings"

var mimeByExt = map[string]string{
	"mp4":  "video/mp4",
	"m4v":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"svg":  "image/svg+xml",
}

// NormalizeExt lowercases ext and drops a leading dot.
func NormalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}

// ContentTypeFor maps an extension to a MIME type.
func ContentTypeFor(ext string) string {
	if ct, ok := mimeByExt[NormalizeExt(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}
