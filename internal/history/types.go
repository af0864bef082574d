package history

import (
	"context"
	"time"

	"github.com/mkrogh/taletid/internal/transcript"
)

// CallRecord stores one finished call with its full transcript.
type CallRecord struct {
	ID        string               `json:"id"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   time.Time            `json:"ended_at"`
	Reason    string               `json:"reason"`
	ErrorKind string               `json:"error_kind,omitempty"`
	VoiceID   string               `json:"voice_id"`
	VoiceName string               `json:"voice_name"`
	Messages  []transcript.Message `json:"messages"`
}

// Duration is the call length, zero when the timestamps are unusable.
func (r CallRecord) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store persists and retrieves finished calls.
type Store interface {
	SaveCall(ctx context.Context, record CallRecord) error
	RecentCalls(ctx context.Context, limit int) ([]CallRecord, error)
	Close() error
}
