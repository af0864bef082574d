package codec

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
)

// WAVRecorder accumulates decoded model audio and writes it out as a mono
// PCM16LE WAV file. Used only for diagnostic session dumps.
type WAVRecorder struct {
	sampleRate int
	pcm        []byte
}

func NewWAVRecorder(sampleRate int) *WAVRecorder {
	if sampleRate <= 0 {
		sampleRate = PlaybackSampleRate
	}
	return &WAVRecorder{sampleRate: sampleRate}
}

// Append quantizes and buffers one decoded buffer's samples.
func (r *WAVRecorder) Append(buf DecodedBuffer) {
	for _, s := range buf.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		r.pcm = append(r.pcm, byte(v), byte(uint16(v)>>8))
	}
}

// Len reports the buffered PCM byte count.
func (r *WAVRecorder) Len() int { return len(r.pcm) }

// WriteFile writes the accumulated audio as a WAV file.
func (r *WAVRecorder) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.WriteTo(f)
}

// WriteTo writes the accumulated audio to out as a WAV stream.
func (r *WAVRecorder) WriteTo(out io.Writer) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)

	dataSize := uint32(len(r.pcm))
	byteRate := uint32(r.sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(r.sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(r.pcm); err != nil {
		return err
	}
	return w.Flush()
}
