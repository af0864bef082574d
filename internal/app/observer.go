package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mkrogh/taletid/internal/codec"
	"github.com/mkrogh/taletid/internal/history"
	"github.com/mkrogh/taletid/internal/observability"
	"github.com/mkrogh/taletid/internal/session"
)

// observer watches the session connection, keeps the lifecycle instruments
// up to date, persists finished calls, and fans state changes out to
// websocket subscribers.
type observer struct {
	conn    *session.Connection
	store   history.Store
	metrics *observability.Metrics
	latency *observability.LatencyWindow

	mu          sync.Mutex
	prevState   session.State
	connectedAt time.Time
	firstAudio  bool
	subscribers map[chan struct{}]struct{}
}

func newObserver(conn *session.Connection, store history.Store, metrics *observability.Metrics, latency *observability.LatencyWindow) *observer {
	o := &observer{
		conn:        conn,
		store:       store,
		metrics:     metrics,
		latency:     latency,
		prevState:   session.StateDisconnected,
		subscribers: make(map[chan struct{}]struct{}),
	}
	conn.SetOnChange(o.onChange)
	conn.SetOnEnded(o.onEnded)
	conn.SetOnDecoded(o.onDecoded)
	return o
}

// Subscribe returns a tick channel for the state feed. Ticks are coalesced;
// subscribers read the latest snapshot themselves.
func (o *observer) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	o.mu.Lock()
	o.subscribers[ch] = struct{}{}
	o.mu.Unlock()
	cancel := func() {
		o.mu.Lock()
		if _, ok := o.subscribers[ch]; ok {
			delete(o.subscribers, ch)
			close(ch)
		}
		o.mu.Unlock()
	}
	return ch, cancel
}

func (o *observer) onChange() {
	snap := o.conn.Snapshot()

	o.mu.Lock()
	prev := o.prevState
	o.prevState = snap.State
	if snap.State == session.StateConnecting && prev != session.StateConnecting {
		o.firstAudio = false
	}
	if snap.State == session.StateConnected && prev == session.StateConnecting {
		o.connectedAt = time.Now()
	}
	subs := make([]chan struct{}, 0, len(o.subscribers))
	for ch := range o.subscribers {
		subs = append(subs, ch)
	}
	o.mu.Unlock()

	if prev != snap.State {
		switch snap.State {
		case session.StateConnected:
			o.metrics.CallEvents.WithLabelValues("connected").Inc()
			if !snap.StartedAt.IsZero() {
				o.latency.Observe(observability.StageConnect, time.Since(snap.StartedAt))
			}
		case session.StateError:
			o.metrics.CallEvents.WithLabelValues("failed").Inc()
			o.metrics.CallErrors.WithLabelValues(string(snap.ErrorKind)).Inc()
			if snap.Retryable {
				o.latency.ObserveIndicator("retryable_failure")
			}
		case session.StateDisconnected:
			switch snap.EndReason {
			case session.EndReasonUser:
				o.metrics.CallEvents.WithLabelValues("hangup").Inc()
			case session.EndReasonRemote:
				o.metrics.CallEvents.WithLabelValues("remote_close").Inc()
			}
		}
		active := 0.0
		if snap.State == session.StateConnecting || snap.State == session.StateConnected {
			active = 1.0
		}
		o.metrics.ActiveCalls.Set(active)
	}

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (o *observer) onDecoded(codec.DecodedBuffer) {
	o.mu.Lock()
	first := !o.firstAudio
	o.firstAudio = true
	connectedAt := o.connectedAt
	o.mu.Unlock()

	if first && !connectedAt.IsZero() {
		d := time.Since(connectedAt)
		o.metrics.ObserveFirstAudioLatency(d)
		o.latency.Observe(observability.StageFirstAudio, d)
	}
}

func (o *observer) onEnded(call session.EndedCall) {
	record := history.CallRecord{
		StartedAt: call.StartedAt,
		EndedAt:   call.EndedAt,
		Reason:    string(call.Reason),
		ErrorKind: string(call.ErrorKind),
		VoiceID:   call.Voice.VoiceID,
		VoiceName: call.Voice.DisplayName,
		Messages:  call.Messages,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.SaveCall(ctx, record); err != nil {
		log.Printf("app: save call history: %v", err)
	}
}
