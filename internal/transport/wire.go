package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants on the endpoint stream.
type MessageType string

const (
	TypeSessionSetup MessageType = "session_setup"
	TypeAudioIn      MessageType = "audio_in"

	TypeSessionOpened MessageType = "session_opened"
	TypeAudioOut      MessageType = "audio_out"
	TypeTranscript    MessageType = "transcript"
	TypeTurnComplete  MessageType = "turn_complete"
	TypeInterrupted   MessageType = "interrupted"
	TypeStreamError   MessageType = "stream_error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// SessionSetup is the first client message on a fresh stream.
type SessionSetup struct {
	Type              MessageType `json:"type"`
	Model             string      `json:"model"`
	VoiceName         string      `json:"voice_name"`
	SystemInstruction string      `json:"system_instruction"`
	InputSampleRate   int         `json:"input_sample_rate"`
	OutputSampleRate  int         `json:"output_sample_rate"`
}

// AudioIn carries one encoded capture chunk.
type AudioIn struct {
	Type        MessageType `json:"type"`
	Seq         int64       `json:"seq"`
	Format      string      `json:"format"`
	PCM16Base64 string      `json:"pcm16_base64"`
}

// SessionOpened acknowledges the setup; streaming may begin.
type SessionOpened struct {
	Type MessageType `json:"type"`
}

// AudioOut carries one synthesized audio payload.
type AudioOut struct {
	Type        MessageType `json:"type"`
	Format      string      `json:"format"`
	PCM16Base64 string      `json:"pcm16_base64"`
}

// Transcript carries one partial transcript fragment tagged by speaker.
type Transcript struct {
	Type    MessageType `json:"type"`
	Speaker string      `json:"speaker"`
	Text    string      `json:"text"`
}

// TurnComplete marks the end of the model's current turn.
type TurnComplete struct {
	Type MessageType `json:"type"`
}

// Interrupted tells the client the endpoint discarded its in-flight response
// (user barge-in); local playback must be cancelled immediately.
type Interrupted struct {
	Type MessageType `json:"type"`
}

// StreamError is a fatal endpoint-side failure.
type StreamError struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// ParseServerMessage decodes one inbound frame into its typed struct.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSessionOpened:
		return SessionOpened{Type: env.Type}, nil
	case TypeAudioOut:
		var msg AudioOut
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" {
			return nil, errors.New("invalid audio_out")
		}
		return msg, nil
	case TypeTranscript:
		var msg Transcript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Speaker != SpeakerUser && msg.Speaker != SpeakerModel {
			return nil, fmt.Errorf("invalid transcript speaker %q", msg.Speaker)
		}
		return msg, nil
	case TypeTurnComplete:
		return TurnComplete{Type: env.Type}, nil
	case TypeInterrupted:
		return Interrupted{Type: env.Type}, nil
	case TypeStreamError:
		var msg StreamError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
