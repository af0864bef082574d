// Package transport is the boundary to the remote conversational endpoint:
// an ordered bidirectional message stream that accepts capture audio and
// emits synthesized audio, partial transcripts and control markers.
package transport

import (
	"context"

	"github.com/mkrogh/taletid/internal/codec"
)

// EventType is the closed set of inbound events a transport can emit. The
// session state machine switches exhaustively over these.
type EventType string

const (
	EventOpened       EventType = "opened"
	EventAudio        EventType = "audio"
	EventText         EventType = "text"
	EventTurnComplete EventType = "turn_complete"
	EventInterrupted  EventType = "interrupted"
	EventClosed       EventType = "closed"
	EventErrored      EventType = "errored"
)

// Speaker tags transcript fragments by who said it.
const (
	SpeakerUser  = "user"
	SpeakerModel = "model"
)

// Event is one inbound transport event. Exactly the fields relevant to the
// Type are set.
type Event struct {
	Type    EventType
	Audio   []byte // EventAudio: PCM16LE payload at the playback rate
	Text    string // EventText: partial transcript fragment
	Speaker string // EventText: SpeakerUser or SpeakerModel
	Err     error  // EventErrored
}

// VoiceProfile is the immutable voice configuration a session opens with.
type VoiceProfile struct {
	VoiceID     string `json:"voice_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// OpenConfig parameterizes one stream.
type OpenConfig struct {
	Model        string
	Voice        VoiceProfile
	SystemPrompt string
}

// Transport is one logical stream to the remote endpoint. Open dials and
// returns the inbound event channel; the Opened event arrives on the channel
// once the endpoint acknowledges the setup, so connect timeouts stay with the
// caller. The channel is closed after a terminal event (Closed or Errored).
type Transport interface {
	Open(ctx context.Context, cfg OpenConfig) (<-chan Event, error)
	SendAudio(chunk codec.Chunk) error
	Close() error
}
