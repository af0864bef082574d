package httpapi

import (
	"net/http"

	"github.com/mkrogh/taletid/internal/transport"
)

type listVoicesResponse struct {
	DefaultVoiceID string                   `json:"default_voice_id"`
	Voices         []transport.VoiceProfile `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, listVoicesResponse{
		DefaultVoiceID: s.cfg.VoiceID,
		Voices:         transport.Voices(),
	})
}
