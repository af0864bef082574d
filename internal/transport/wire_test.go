package transport

import (
	"errors"
	"testing"
)

func TestParseServerMessageAudioOut(t *testing.T) {
	raw := []byte(`{"type":"audio_out","format":"audio/pcm;rate=24000","pcm16_base64":"AQID"}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	audio, ok := msg.(AudioOut)
	if !ok {
		t.Fatalf("message type = %T, want AudioOut", msg)
	}
	if audio.Format != "audio/pcm;rate=24000" {
		t.Fatalf("Format = %q, want %q", audio.Format, "audio/pcm;rate=24000")
	}
}

func TestParseServerMessageRejectsEmptyAudio(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"type":"audio_out","pcm16_base64":""}`))
	if err == nil {
		t.Fatalf("ParseServerMessage() error = nil, want invalid audio_out")
	}
}

func TestParseServerMessageTranscript(t *testing.T) {
	raw := []byte(`{"type":"transcript","speaker":"model","text":"Hej"}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	tr, ok := msg.(Transcript)
	if !ok {
		t.Fatalf("message type = %T, want Transcript", msg)
	}
	if tr.Speaker != SpeakerModel || tr.Text != "Hej" {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
}

func TestParseServerMessageRejectsUnknownSpeaker(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"type":"transcript","speaker":"narrator","text":"x"}`))
	if err == nil {
		t.Fatalf("ParseServerMessage() error = nil, want speaker rejection")
	}
}

func TestParseServerMessageControlMarkers(t *testing.T) {
	for _, raw := range []string{
		`{"type":"session_opened"}`,
		`{"type":"turn_complete"}`,
		`{"type":"interrupted"}`,
	} {
		if _, err := ParseServerMessage([]byte(raw)); err != nil {
			t.Fatalf("ParseServerMessage(%s) error = %v", raw, err)
		}
	}
}

func TestParseServerMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseServerMessageStreamError(t *testing.T) {
	raw := []byte(`{"type":"stream_error","code":"quota","detail":"limit reached"}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	se, ok := msg.(StreamError)
	if !ok {
		t.Fatalf("message type = %T, want StreamError", msg)
	}
	if se.Code != "quota" {
		t.Fatalf("Code = %q, want %q", se.Code, "quota")
	}
}
