package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkrogh/taletid/internal/codec"
)

// FakeInput is a scriptable input device used by tests and headless runs.
type FakeInput struct {
	mu      sync.Mutex
	err     error
	tracks  []*FakeTrack
	acquire int
}

func NewFakeInput() *FakeInput { return &FakeInput{} }

// FailWith makes the next AcquireTrack calls return err.
func (d *FakeInput) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *FakeInput) AcquireTrack(_ context.Context) (Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.acquire++
	t := &FakeTrack{frames: make(chan []float32, 64)}
	d.tracks = append(d.tracks, t)
	return t, nil
}

// AcquireCount reports how many tracks have been handed out.
func (d *FakeInput) AcquireCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquire
}

// LastTrack returns the most recently acquired track, or nil.
func (d *FakeInput) LastTrack() *FakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tracks) == 0 {
		return nil
	}
	return d.tracks[len(d.tracks)-1]
}

// FakeTrack delivers pushed frames until stopped.
type FakeTrack struct {
	mu      sync.Mutex
	frames  chan []float32
	stopped bool
}

func (t *FakeTrack) Frames() <-chan []float32 { return t.frames }

func (t *FakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.frames)
}

// Push feeds one raw sample batch into the track. Pushing after Stop is a
// silent no-op, mirroring how real devices drop late capture callbacks.
func (t *FakeTrack) Push(samples []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.frames <- samples
}

func (t *FakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// FakeOutput is an output context with a manually advanced clock. Completion
// callbacks fire when the clock passes a handle's rate-adjusted end time.
type FakeOutput struct {
	mu        sync.Mutex
	now       time.Duration
	closed    bool
	scheduled []*FakeHandle
}

func NewFakeOutput() *FakeOutput { return &FakeOutput{} }

// FakeHandle records one scheduling decision for inspection by tests.
type FakeHandle struct {
	out *FakeOutput

	Buf   codec.DecodedBuffer
	Start time.Duration
	Rate  float64
	End   time.Duration

	onEnded   func()
	cancelled bool
	ended     bool
}

func (h *FakeHandle) Cancel() {
	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	h.cancelled = true
}

func (h *FakeHandle) Cancelled() bool {
	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	return h.cancelled
}

func (o *FakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *FakeOutput) Schedule(buf codec.DecodedBuffer, start time.Duration, rate float64, onEnded func()) (Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrContextClosed
	}
	if rate <= 0 {
		rate = 1.0
	}
	end := start + time.Duration(float64(buf.Duration())/rate)
	h := &FakeHandle{out: o, Buf: buf, Start: start, Rate: rate, End: end, onEnded: onEnded}
	o.scheduled = append(o.scheduled, h)
	return h, nil
}

func (o *FakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *FakeOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Scheduled returns a snapshot of every handle ever scheduled, in order.
func (o *FakeOutput) Scheduled() []*FakeHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*FakeHandle, len(o.scheduled))
	copy(out, o.scheduled)
	return out
}

// Advance moves the device clock forward and fires completion callbacks for
// every handle whose end time has passed, in end order.
func (o *FakeOutput) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	var due []*FakeHandle
	for _, h := range o.scheduled {
		if h.cancelled || h.ended {
			continue
		}
		if h.End <= o.now {
			h.ended = true
			due = append(due, h)
		}
	}
	o.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].End < due[j].End })
	for _, h := range due {
		if h.onEnded != nil {
			h.onEnded()
		}
	}
}
