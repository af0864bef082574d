// Package capture frames a live microphone track into fixed-size outbound
// chunks at the capture sample rate.
package capture

import (
	"math"
	"sync"

	"github.com/mkrogh/taletid/internal/codec"
	"github.com/mkrogh/taletid/internal/device"
)

// WindowSamples is the fixed framing window. At 16 kHz this is 256ms of audio
// per chunk, matching the wire cadence the endpoint is tuned for.
const WindowSamples = 4096

// SpeakingThreshold is the advisory RMS level above which the user is
// considered to be speaking. It never gates whether a chunk is sent.
const SpeakingThreshold = 0.01

// Source frames one track. Create with Start, release with Stop.
type Source struct {
	track   device.Track
	onChunk func(codec.Chunk)

	mu       sync.Mutex
	buf      []float32
	muted    bool
	stopped  bool
	seq      int64
	activity float64

	done chan struct{}
}

// Start begins framing the track and invokes onChunk for every full window
// while the source is active and not muted. onChunk runs on the pump
// goroutine; it must not block on the source's own methods.
func Start(track device.Track, onChunk func(codec.Chunk)) *Source {
	s := &Source{
		track:   track,
		onChunk: onChunk,
		buf:     make([]float32, 0, WindowSamples),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Source) pump() {
	defer close(s.done)
	for frame := range s.track.Frames() {
		s.ingest(frame)
	}
}

func (s *Source) ingest(frame []float32) {
	var emit []codec.Chunk

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, frame...)
	for len(s.buf) >= WindowSamples {
		window := make([]float32, WindowSamples)
		copy(window, s.buf[:WindowSamples])
		s.buf = append(s.buf[:0], s.buf[WindowSamples:]...)

		if s.muted {
			// Windows are still consumed so unmuting resumes cleanly, but
			// nothing leaves the device while muted.
			s.activity = 0
			continue
		}
		s.activity = rms(window)
		chunk := codec.Encode(window, s.seq)
		s.seq++
		emit = append(emit, chunk)
	}
	onChunk := s.onChunk
	s.mu.Unlock()

	if onChunk == nil {
		return
	}
	for _, c := range emit {
		onChunk(c)
	}
}

// SetMuted suppresses chunk emission without touching the device. Toggling is
// instantaneous and never re-acquires the track.
func (s *Source) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	if muted {
		s.activity = 0
	}
}

func (s *Source) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// ActivityLevel is the RMS of the most recent emitted window. Advisory only.
func (s *Source) ActivityLevel() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity
}

// ChunkCount reports how many chunks have been emitted so far.
func (s *Source) ChunkCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Stop releases the device track and ends framing. Safe to call twice; any
// capture data still in flight is discarded, never delivered late.
func (s *Source) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.stopped = true
	s.activity = 0
	s.mu.Unlock()

	s.track.Stop()
	<-s.done
}

func rms(window []float32) float64 {
	if len(window) == 0 {
		return 0
	}
	var acc float64
	for _, v := range window {
		acc += float64(v) * float64(v)
	}
	return math.Sqrt(acc / float64(len(window)))
}
