package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mkrogh/taletid/internal/config"
	"github.com/mkrogh/taletid/internal/history"
	"github.com/mkrogh/taletid/internal/observability"
	"github.com/mkrogh/taletid/internal/session"
	"github.com/mkrogh/taletid/internal/transcript"
	"github.com/mkrogh/taletid/internal/transport"
)

// Call is the slice of the session connection the HTTP layer drives.
type Call interface {
	Connect(ctx context.Context) error
	Hangup()
	SetMuted(muted bool)
	SetPlaybackRate(rate float64) error
	SetVoice(v transport.VoiceProfile) error
	Snapshot() session.Snapshot
	Messages() []transcript.Message
}

// StateFeed delivers a tick whenever the session state changes.
type StateFeed interface {
	Subscribe() (<-chan struct{}, func())
}

type Server struct {
	cfg     config.Config
	call    Call
	feed    StateFeed
	store   history.Store
	metrics *observability.Metrics
	latency *observability.LatencyWindow

	upgrader websocket.Upgrader
}

func New(cfg config.Config, call Call, feed StateFeed, store history.Store, metrics *observability.Metrics, latency *observability.LatencyWindow) *Server {
	return &Server{
		cfg:     cfg,
		call:    call,
		feed:    feed,
		store:   store,
		metrics: metrics,
		latency: latency,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only same-origin browser connections. This keeps
				// other websites from driving the user's microphone if the
				// service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/call/connect", s.handleConnect)
	r.Post("/v1/call/hangup", s.handleHangup)
	r.Post("/v1/call/mute", s.handleMute)
	r.Post("/v1/call/rate", s.handleRate)
	r.Post("/v1/call/voice", s.handleSetVoice)
	r.Get("/v1/call/state", s.handleState)
	r.Get("/v1/call/transcript", s.handleTranscript)
	r.Get("/v1/call/ws", s.handleStateWS)
	r.Get("/v1/voices", s.handleListVoices)
	r.Get("/v1/history", s.handleHistory)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.call.Snapshot().State,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.metrics.CallEvents.WithLabelValues("connect_requested").Inc()
	if err := s.call.Connect(r.Context()); err != nil {
		snap := s.call.Snapshot()
		respondJSON(w, http.StatusBadGateway, map[string]any{
			"error": err.Error(),
			"state": snap,
		})
		return
	}
	respondJSON(w, http.StatusAccepted, s.call.Snapshot())
}

func (s *Server) handleHangup(w http.ResponseWriter, _ *http.Request) {
	s.metrics.CallEvents.WithLabelValues("hangup_requested").Inc()
	s.call.Hangup()
	respondJSON(w, http.StatusOK, s.call.Snapshot())
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.call.SetMuted(req.Muted)
	respondJSON(w, http.StatusOK, s.call.Snapshot())
}

type rateRequest struct {
	Rate float64 `json:"rate"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.call.SetPlaybackRate(req.Rate); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_rate", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.call.Snapshot())
}

type voiceRequest struct {
	VoiceID string `json:"voice_id"`
}

func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	voice, ok := transport.VoiceByID(strings.TrimSpace(req.VoiceID))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_voice", "no such voice: "+req.VoiceID)
		return
	}
	if err := s.call.SetVoice(voice); err != nil {
		respondError(w, http.StatusConflict, "call_in_progress", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.call.Snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.call.Snapshot())
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	msgs := s.call.Messages()
	if msgs == nil {
		msgs = []transcript.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
