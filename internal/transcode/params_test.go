package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseParams_Defaults(t *testing.T) {
	assert.Equal(t, DefaultParams(), ParseParams(""))
	assert.Equal(t, DefaultParams(), ParseParams("not json"))
	assert.Equal(t, DefaultParams(), ParseParams(`[1,2]`))
}

func TestParseParams_Overrides(t *testing.T) {
	p := ParseParams(`{"width":720,"height":"1280","fps":24,"video_bitrate":"3.5M","audio_bitrate":96000,"audio_samplerate":48000}`)
	assert.Equal(t, Params{Width: 720, Height: 1280, FPS: 24, VideoBitrate: "3.5M", AudioBitrate: "96000", AudioSampleRate: 48000}, p)
}

func TestParseParams_InvalidFieldsFallBackIndividually(t *testing.T) {
	p := ParseParams(`{"width":-1,"height":1280,"fps":1000,"video_bitrate":"fast","audio_samplerate":12345}`)
	def := DefaultParams()
	assert.Equal(t, def.Width, p.Width)
	assert.Equal(t, 1280, p.Height)
	assert.Equal(t, def.FPS, p.FPS)
	assert.Equal(t, def.VideoBitrate, p.VideoBitrate)
	assert.Equal(t, def.AudioSampleRate, p.AudioSampleRate)
	assert.Equal(t, def.AudioBitrate, p.AudioBitrate)
}

func TestParseParams_FractionalIntRejected(t *testing.T) {
	assert.Equal(t, 30, ParseParams(`{"fps":29.97}`).FPS)
}
