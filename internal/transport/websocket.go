package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkrogh/taletid/internal/codec"
	"github.com/mkrogh/taletid/internal/reliability"
)

const (
	writeTimeout     = 10 * time.Second
	maxInboundFrame  = 2 << 20
	inboundQueueSize = 256
)

// WSConfig configures the websocket transport.
type WSConfig struct {
	URL    string
	APIKey string
}

// WSTransport speaks the endpoint's JSON protocol over one websocket
// connection. A transport value is single-use: Open once, Close once.
type WSTransport struct {
	cfg    WSConfig
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewWSTransport(cfg WSConfig) *WSTransport {
	return &WSTransport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

func (t *WSTransport) Open(ctx context.Context, cfg OpenConfig) (<-chan Event, error) {
	header := http.Header{}
	if t.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		return nil, reliability.Classify(reliability.KindTransportOpenFailed,
			fmt.Sprintf("dial %s", t.cfg.URL), err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return nil, reliability.Classify(reliability.KindTransportOpenFailed,
			"transport already closed", nil)
	}
	t.conn = conn
	t.mu.Unlock()

	setup := SessionSetup{
		Type:              TypeSessionSetup,
		Model:             cfg.Model,
		VoiceName:         cfg.Voice.VoiceID,
		SystemInstruction: cfg.SystemPrompt,
		InputSampleRate:   codec.CaptureSampleRate,
		OutputSampleRate:  codec.PlaybackSampleRate,
	}
	if err := t.writeJSON(setup); err != nil {
		_ = t.Close()
		return nil, reliability.Classify(reliability.KindTransportOpenFailed, "send setup", err)
	}

	events := make(chan Event, inboundQueueSize)
	go t.readLoop(conn, events)
	return events, nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn, events chan<- Event) {
	defer close(events)
	conn.SetReadLimit(maxInboundFrame)

	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closedLocally := t.closed
			t.mu.Unlock()
			if closedLocally || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				events <- Event{Type: EventClosed}
				return
			}
			events <- Event{Type: EventErrored,
				Err: reliability.Classify(reliability.KindTransportRuntime, "read stream", err)}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := ParseServerMessage(raw)
		if err != nil {
			// Unknown or malformed frames are skipped; the stream stays up.
			continue
		}
		switch m := msg.(type) {
		case SessionOpened:
			events <- Event{Type: EventOpened}
		case AudioOut:
			payload, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
			if err != nil {
				continue
			}
			events <- Event{Type: EventAudio, Audio: payload}
		case Transcript:
			events <- Event{Type: EventText, Text: m.Text, Speaker: m.Speaker}
		case TurnComplete:
			events <- Event{Type: EventTurnComplete}
		case Interrupted:
			events <- Event{Type: EventInterrupted}
		case StreamError:
			events <- Event{Type: EventErrored,
				Err: reliability.Classify(reliability.KindTransportRuntime,
					fmt.Sprintf("endpoint error %s: %s", m.Code, m.Detail), nil)}
			return
		}
	}
}

func (t *WSTransport) SendAudio(chunk codec.Chunk) error {
	if len(chunk.Data) == 0 {
		return nil
	}
	return t.writeJSON(AudioIn{
		Type:        TypeAudioIn,
		Seq:         chunk.Seq,
		Format:      chunk.Format,
		PCM16Base64: base64.StdEncoding.EncodeToString(chunk.Data),
	})
}

func (t *WSTransport) writeJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.conn == nil {
		return fmt.Errorf("transport is closed")
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(v)
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "hangup"), deadline)
	return t.conn.Close()
}
