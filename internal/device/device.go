// Package device is the boundary to the host audio hardware. The core only
// ever touches these interfaces: acquire an input track, create an output
// context with a fixed sample rate, schedule a buffer at a future device-clock
// time with a rate multiplier, cancel a scheduled or playing buffer.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/mkrogh/taletid/internal/codec"
)

// ErrPermissionDenied is returned when the host refuses microphone access.
var ErrPermissionDenied = errors.New("capture device access denied")

// ErrContextClosed is returned when scheduling against a closed output context.
var ErrContextClosed = errors.New("output context is closed")

// Track is a live microphone stream. Frames delivers raw normalized sample
// batches of arbitrary size until Stop releases the device. Stop is idempotent.
type Track interface {
	Frames() <-chan []float32
	Stop()
}

// InputDevice acquires microphone tracks.
type InputDevice interface {
	AcquireTrack(ctx context.Context) (Track, error)
}

// Handle is one scheduled playback. Cancel stops it whether it has started or
// not; a cancelled handle never fires its completion callback.
type Handle interface {
	Cancel()
}

// OutputContext plays scheduled buffers against a monotonic device clock.
// All playback bookkeeping in the scheduler uses this clock and no other.
type OutputContext interface {
	// Now is the current device-clock reading.
	Now() time.Duration
	// Schedule queues buf to begin at start, played at the given rate
	// multiplier. onEnded fires exactly once on natural completion and never
	// after Cancel.
	Schedule(buf codec.DecodedBuffer, start time.Duration, rate float64, onEnded func()) (Handle, error)
	// Close releases the device. Closing twice is safe.
	Close() error
}
