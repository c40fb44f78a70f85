// Package transcode normalizes uploaded media into an H.264/AAC MP4 that
// both Instagram Reels and X accept, driven by S3 object-created events.
package transcode

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Params are the encoder settings. Every field has a default; a missing or
// invalid field falls back to its default without affecting the others.
type Params struct {
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	FPS             int    `json:"fps"`
	VideoBitrate    string `json:"video_bitrate"`
	AudioBitrate    string `json:"audio_bitrate"`
	AudioSampleRate int    `json:"audio_samplerate"`
}

// DefaultParams is a 1080x1920 portrait frame at 30 fps.
func DefaultParams() Params {
	return Params{
		Width:           1080,
		Height:          1920,
		FPS:             30,
		VideoBitrate:    "5M",
		AudioBitrate:    "128k",
		AudioSampleRate: 44100,
	}
}

var bitrateRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?[kKmM]?$`)

var sampleRates = map[int]bool{8000: true, 16000: true, 22050: true, 24000: true, 32000: true, 44100: true, 48000: true}

// ParseParams decodes serialized params. Unparseable input yields defaults.
func ParseParams(raw string) Params {
	p := DefaultParams()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return p
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		log.Warn().Err(err).Msg("Encoder params are not a JSON object, using defaults")
		return p
	}

	if v, ok := intField(m, "width"); ok && v >= 16 && v <= 4096 {
		p.Width = v
	}
	if v, ok := intField(m, "height"); ok && v >= 16 && v <= 4096 {
		p.Height = v
	}
	if v, ok := intField(m, "fps"); ok && v >= 1 && v <= 120 {
		p.FPS = v
	}
	if v, ok := intField(m, "audio_samplerate"); ok && sampleRates[v] {
		p.AudioSampleRate = v
	}
	if v, ok := strField(m, "video_bitrate"); ok && bitrateRe.MatchString(v) {
		p.VideoBitrate = v
	}
	if v, ok := strField(m, "audio_bitrate"); ok && bitrateRe.MatchString(v) {
		p.AudioBitrate = v
	}
	return p
}

// intField accepts JSON numbers and numeric strings.
func intField(m map[string]any, k string) (int, bool) {
	switch v := m[k].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

// strField accepts strings and bare numbers (a bitrate of 128000).
func strField(m map[string]any, k string) (string, bool) {
	switch v := m[k].(type) {
	case string:
		return strings.TrimSpace(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}
