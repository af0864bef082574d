package transport

import (
	"context"
	"sync"

	"github.com/mkrogh/taletid/internal/codec"
)

// MockTransport is a scriptable in-process transport used by tests and by
// headless operation without an endpoint.
type MockTransport struct {
	mu       sync.Mutex
	events   chan Event
	sent     []codec.Chunk
	opened   bool
	closed   bool
	openErr  error
	autoOpen bool

	lastConfig OpenConfig
}

func NewMockTransport() *MockTransport {
	return &MockTransport{autoOpen: true}
}

// FailOpenWith makes Open return err synchronously.
func (t *MockTransport) FailOpenWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
}

// HoldOpen suppresses the automatic Opened event so tests can exercise the
// connect timeout.
func (t *MockTransport) HoldOpen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.autoOpen = false
}

func (t *MockTransport) Open(_ context.Context, cfg OpenConfig) (<-chan Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return nil, t.openErr
	}
	t.opened = true
	t.lastConfig = cfg
	t.events = make(chan Event, 256)
	if t.autoOpen {
		t.events <- Event{Type: EventOpened}
	}
	return t.events, nil
}

func (t *MockTransport) SendAudio(chunk codec.Chunk) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.sent = append(t.sent, chunk)
	return nil
}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.events != nil {
		close(t.events)
		t.events = nil
	}
	return nil
}

// Emit pushes one scripted event onto the stream.
func (t *MockTransport) Emit(ev Event) {
	t.mu.Lock()
	ch := t.events
	t.mu.Unlock()
	if ch != nil {
		ch <- ev
	}
}

// EmitTerminal pushes ev and closes the stream, the way a real transport ends
// after Closed or Errored.
func (t *MockTransport) EmitTerminal(ev Event) {
	t.mu.Lock()
	ch := t.events
	t.events = nil
	t.mu.Unlock()
	if ch != nil {
		ch <- ev
		close(ch)
	}
}

// Sent returns a snapshot of every chunk sent so far.
func (t *MockTransport) Sent() []codec.Chunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]codec.Chunk, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *MockTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// LastConfig reports the OpenConfig from the most recent Open.
func (t *MockTransport) LastConfig() OpenConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastConfig
}
