// Package transcode converts captured audio segments into the canonical wire
// format: mono (or stereo) 16-bit linear PCM at a fixed sample rate, wrapped
// in a RIFF/WAVE container whose header fields carry exact byte lengths.
// Downstream storage never branches on source format.
package transcode

import (
	"encoding/binary"
	"fmt"

	"github.com/hraban/opus"
)

// The capture harness emits a framed opus stream: each frame is prefixed by
// its byte length as a big-endian uint16. Opus frames are at most 60 ms, so
// a length of zero or beyond the remaining payload marks a corrupt segment.

// maxFrameMs bounds the PCM buffer allocated per decoded frame.
const maxFrameMs = 60

// Transcoder converts one captured segment payload into canonical WAV bytes.
type Transcoder interface {
	Transcode(payload []byte) ([]byte, error)
}

// OpusTranscoder decodes framed opus payloads directly at the target sample
// rate; the opus decoder resamples internally, so no separate resampling
// stage is needed.
type OpusTranscoder struct {
	SampleRate int
	Channels   int
}

func NewOpusTranscoder(sampleRate, channels int) *OpusTranscoder {
	return &OpusTranscoder{SampleRate: sampleRate, Channels: channels}
}

// Transcode decodes every frame in payload and returns the WAV-wrapped PCM.
// A decode error anywhere in the segment fails the whole segment: partial
// audio with silent holes is worse than a visible gap.
func (t *OpusTranscoder) Transcode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty segment payload")
	}
	dec, err := opus.NewDecoder(t.SampleRate, t.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}

	frameBuf := make([]int16, t.SampleRate*maxFrameMs/1000*t.Channels)
	var samples []int16
	off := 0
	for off < len(payload) {
		if len(payload)-off < 2 {
			return nil, fmt.Errorf("truncated frame header at offset %d", off)
		}
		n := int(binary.BigEndian.Uint16(payload[off:]))
		off += 2
		if n == 0 || off+n > len(payload) {
			return nil, fmt.Errorf("bad frame length %d at offset %d", n, off-2)
		}
		decoded, err := dec.Decode(payload[off:off+n], frameBuf)
		if err != nil {
			return nil, fmt.Errorf("opus decode at offset %d: %w", off, err)
		}
		samples = append(samples, frameBuf[:decoded*t.Channels]...)
		off += n
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return BuildWAV(pcm, t.SampleRate, t.Channels, 16), nil
}
