package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// stateMessage is what the feed pushes on every session change.
type stateMessage struct {
	Type  string `json:"type"`
	State any    `json:"state"`
}

// controlMessage is what clients may send over the feed instead of the REST
// endpoints. Unknown types are ignored, not answered with a close.
type controlMessage struct {
	Type  string  `json:"type"`
	Muted bool    `json:"muted"`
	Rate  float64 `json:"rate"`
}

func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.CallEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.CallEvents.WithLabelValues("ws_disconnected").Inc()

	ticks, cancel := s.feed.Subscribe()
	defer cancel()

	done := make(chan struct{})

	// Writer: one goroutine owns all writes. Snapshots are coalesced; a
	// client that reads slowly gets the latest state, not a backlog.
	go func() {
		defer close(done)
		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		push := func(msgType string) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			msg := stateMessage{Type: msgType, State: s.call.Snapshot()}
			if err := conn.WriteJSON(msg); err != nil {
				return false
			}
			s.metrics.WSMessages.WithLabelValues("outbound", msgType).Inc()
			return true
		}

		if !push("state") {
			return
		}
		for {
			select {
			case _, ok := <-ticks:
				if !ok {
					return
				}
				if !push("state") {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		var ctrl controlMessage
		if err := json.Unmarshal(data, &ctrl); err != nil {
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", ctrl.Type).Inc()
		switch strings.TrimSpace(ctrl.Type) {
		case "mute":
			s.call.SetMuted(ctrl.Muted)
		case "rate":
			// Writes stay single-threaded in the writer goroutine, so a
			// rejected rate is only visible through the unchanged state.
			_ = s.call.SetPlaybackRate(ctrl.Rate)
		case "hangup":
			s.call.Hangup()
		}
	}

	cancel()
	<-done
}
