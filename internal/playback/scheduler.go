// Package playback schedules decoded model audio so it plays back gapless and
// non-overlapping against the output device clock.
package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/mkrogh/taletid/internal/codec"
	"github.com/mkrogh/taletid/internal/device"
	"github.com/mkrogh/taletid/internal/reliability"
)

// Scheduler owns the playback cursor and the set of in-flight handles.
// Buffers are scheduled strictly in arrival order; any timestamps embedded in
// the payloads are ignored. All cursor and duration math uses the output
// device clock, never the capture clock.
type Scheduler struct {
	out device.OutputContext

	mu        sync.Mutex
	rate      float64
	nextStart time.Duration
	active    map[*handleEntry]struct{}
	speaking  bool

	onSpeaking func(bool)

	scheduled  int64
	interrupts int64
}

type handleEntry struct {
	handle device.Handle
}

// New creates a scheduler over out. onSpeaking, if non-nil, fires on every
// model-speaking transition (true when the first buffer is scheduled, false
// when the active set drains or is interrupted).
func New(out device.OutputContext, onSpeaking func(bool)) *Scheduler {
	return &Scheduler{
		out:        out,
		rate:       1.0,
		nextStart:  out.Now(),
		active:     make(map[*handleEntry]struct{}),
		onSpeaking: onSpeaking,
	}
}

// SetRate changes the playback speed for buffers scheduled after the call.
// In-flight buffers keep their committed rate.
func (s *Scheduler) SetRate(rate float64) error {
	if rate <= 0 {
		return reliability.Classify(reliability.KindInvalidConfiguration,
			fmt.Sprintf("playback rate %v must be positive", rate), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	return nil
}

func (s *Scheduler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Enqueue schedules buf to start exactly when the previous buffer ends, or
// immediately if the pipeline fell idle. Using max(cursor, now) self-heals
// cursor drift after a stall: a stale future timestamp is never reproduced.
func (s *Scheduler) Enqueue(buf codec.DecodedBuffer) error {
	s.mu.Lock()
	rate := s.rate
	now := s.out.Now()
	start := s.nextStart
	if now > start {
		start = now
	}
	effective := time.Duration(float64(buf.Duration()) / rate)

	entry := &handleEntry{}
	handle, err := s.out.Schedule(buf, start, rate, func() { s.completed(entry) })
	if err != nil {
		s.mu.Unlock()
		return err
	}
	entry.handle = handle
	s.active[entry] = struct{}{}
	s.nextStart = start + effective
	s.scheduled++

	notify := !s.speaking
	s.speaking = true
	s.mu.Unlock()

	if notify && s.onSpeaking != nil {
		s.onSpeaking(true)
	}
	return nil
}

func (s *Scheduler) completed(entry *handleEntry) {
	s.mu.Lock()
	if _, ok := s.active[entry]; !ok {
		// Late completion for a handle already flushed. Ignore it.
		s.mu.Unlock()
		return
	}
	delete(s.active, entry)
	drained := len(s.active) == 0 && s.speaking
	if drained {
		s.speaking = false
	}
	s.mu.Unlock()

	if drained && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// Interrupt stops every in-flight handle immediately, including ones whose
// scheduled start is still in the future, and resets the cursor to the device
// clock. Calling it with an empty active set is a no-op apart from the cursor.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	entries := make([]*handleEntry, 0, len(s.active))
	for e := range s.active {
		entries = append(entries, e)
	}
	s.active = make(map[*handleEntry]struct{})
	s.nextStart = s.out.Now()
	wasSpeaking := s.speaking
	s.speaking = false
	if len(entries) > 0 {
		s.interrupts++
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.handle.Cancel()
	}
	if f, ok := s.out.(device.Flusher); ok && len(entries) > 0 {
		_ = f.Flush()
	}
	if wasSpeaking && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// Speaking reports whether any scheduled buffer is still in flight.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// ActiveCount reports the in-flight handle count.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart exposes the cursor for diagnostics.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Stats reports how many buffers were scheduled and how many interruptions
// actually cancelled audio.
func (s *Scheduler) Stats() (scheduled, interrupts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled, s.interrupts
}
