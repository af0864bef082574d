package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/mkrogh/taletid/internal/reliability"
)

// Sample rates are fixed by the wire protocol: the endpoint expects 16 kHz
// PCM16LE in and emits 24 kHz PCM16LE out.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
)

// FormatTag describes a PCM payload the way the transport envelope wants it.
func FormatTag(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Chunk is one outbound block of encoded microphone audio. Seq is diagnostic
// only; the transport is ordered and never reorders by it.
type Chunk struct {
	Seq        int64
	Format     string
	SampleRate int
	Data       []byte
}

// DecodedBuffer is a playable mono buffer reconstructed from an inbound payload.
type DecodedBuffer struct {
	Samples    []float32
	SampleRate int
}

// Duration is the raw (rate-1.0) play time of the buffer.
func (b DecodedBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 || len(b.Samples) == 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Encode quantizes normalized float samples to PCM16LE and wraps them in the
// transport envelope. Empty input yields an empty chunk, a no-op downstream.
func Encode(samples []float32, seq int64) Chunk {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return Chunk{
		Seq:        seq,
		Format:     FormatTag(CaptureSampleRate),
		SampleRate: CaptureSampleRate,
		Data:       data,
	}
}

// Decode unpacks a PCM16LE payload into a normalized mono buffer at the fixed
// playback rate. A bad payload is a recoverable decode error: the caller logs
// and skips it, it must never end the call.
func Decode(payload []byte, channels int) (DecodedBuffer, error) {
	if channels <= 0 {
		channels = 1
	}
	if len(payload)%2 != 0 {
		return DecodedBuffer{}, reliability.Classify(reliability.KindDecode,
			fmt.Sprintf("payload length %d is not a multiple of 2", len(payload)), nil)
	}
	total := len(payload) / 2
	if total%channels != 0 {
		return DecodedBuffer{}, reliability.Classify(reliability.KindDecode,
			fmt.Sprintf("%d samples do not divide into %d channels", total, channels), nil)
	}

	frames := total / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		// Mix interleaved channels down to mono.
		var acc float64
		for c := 0; c < channels; c++ {
			v := int16(binary.LittleEndian.Uint16(payload[(i*channels+c)*2:]))
			acc += float64(v) / 32768.0
		}
		samples[i] = float32(acc / float64(channels))
	}
	return DecodedBuffer{Samples: samples, SampleRate: PlaybackSampleRate}, nil
}
