package transcode

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/hraban/opus"
)

// encodeSegment produces a framed opus payload of frames 20 ms sine frames
// at 48 kHz, the shape the capture harness emits.
func encodeSegment(t *testing.T, frames int) []byte {
	t.Helper()
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	const frameSamples = 960 // 20 ms at 48 kHz
	pcm := make([]int16, frameSamples)
	buf := make([]byte, 4000)
	var payload []byte
	for f := 0; f < frames; f++ {
		for i := range pcm {
			pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(f*frameSamples+i)/48000))
		}
		n, err := enc.Encode(pcm, buf)
		if err != nil {
			t.Fatalf("Encode frame %d: %v", f, err)
		}
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(n))
		payload = append(payload, hdr[:]...)
		payload = append(payload, buf[:n]...)
	}
	return payload
}

func TestTranscodeProducesCanonicalWAV(t *testing.T) {
	payload := encodeSegment(t, 50) // 1 second of audio

	tr := NewOpusTranscoder(16000, 1)
	wav, err := tr.Transcode(payload)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("not a RIFF/WAVE container: %q %q", wav[0:4], wav[8:12])
	}
	channels := binary.LittleEndian.Uint16(wav[22:24])
	rate := binary.LittleEndian.Uint32(wav[24:28])
	bits := binary.LittleEndian.Uint16(wav[34:36])
	if channels != 1 || rate != 16000 || bits != 16 {
		t.Fatalf("wrong canonical format: channels=%d rate=%d bits=%d", channels, rate, bits)
	}

	dataLen := binary.LittleEndian.Uint32(wav[40:44])
	if int(dataLen) != len(wav)-44 {
		t.Fatalf("data length header mismatch: header=%d actual=%d", dataLen, len(wav)-44)
	}
	// 1 s at 16 kHz mono 16-bit is 32000 bytes.
	if dataLen != 32000 {
		t.Fatalf("unexpected PCM size: want=32000 got=%d", dataLen)
	}
}

func TestTranscodeRejectsCorruptSegment(t *testing.T) {
	tr := NewOpusTranscoder(16000, 1)

	if _, err := tr.Transcode(nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
	// Length prefix pointing past the end of the payload.
	if _, err := tr.Transcode([]byte{0xFF, 0xFF, 0x01}); err == nil {
		t.Fatalf("expected error for bad frame length")
	}
	// Truncated header byte at the tail.
	if _, err := tr.Transcode([]byte{0x00}); err == nil {
		t.Fatalf("expected error for truncated frame header")
	}
}
