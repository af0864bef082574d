// Package transcript merges partial speech-to-text fragments into stable
// conversation messages.
package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Message is one utterance in the visible conversation log. While Partial is
// true the message is still open and same-speaker fragments append to it.
type Message struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Partial   bool      `json:"partial"`
}

// DefaultCooldown implicitly finalizes an open message when no fragment from
// its speaker arrives for this long. It is a safety net for a lost
// turn-completion signal, not the primary mechanism.
const DefaultCooldown = 5 * time.Second

// Aggregator accumulates fragments into messages and tracks the live subtitle
// (the text of the model's current utterance).
type Aggregator struct {
	mu           sync.Mutex
	messages     []Message
	cooldown     time.Duration
	lastAppendAt time.Time
	subtitle     string

	now func() time.Time
}

func New(cooldown time.Duration) *Aggregator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Aggregator{cooldown: cooldown, now: time.Now}
}

// Append merges one fragment. Same speaker onto an open message concatenates;
// anything else starts a new message. turnComplete finalizes the most recent
// message after the fragment is applied, regardless of speaker.
func (a *Aggregator) Append(speaker Speaker, fragment string, turnComplete bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()

	if fragment != "" {
		last := a.lastLocked()
		expired := last != nil && last.Partial && !a.lastAppendAt.IsZero() &&
			now.Sub(a.lastAppendAt) > a.cooldown
		if expired {
			last.Partial = false
			last = nil
		}

		if last != nil && last.Partial && last.Speaker == speaker {
			last.Text += fragment
		} else {
			a.messages = append(a.messages, Message{
				ID:        uuid.NewString(),
				Speaker:   speaker,
				Text:      fragment,
				CreatedAt: now,
				Partial:   true,
			})
		}
		a.lastAppendAt = now

		if speaker == SpeakerModel {
			a.subtitle = a.lastLocked().Text
		}
	}

	if turnComplete {
		if last := a.lastLocked(); last != nil {
			last.Partial = false
		}
	}
}

// CompleteTurn finalizes the most recent message without adding text.
func (a *Aggregator) CompleteTurn() {
	a.Append("", "", true)
}

// Subtitle is the model's current utterance text, or "" after a clear.
func (a *Aggregator) Subtitle() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subtitle
}

// ClearSubtitle removes the live subtitle. Called a fixed delay after turn
// completion, and immediately on interruption or teardown.
func (a *Aggregator) ClearSubtitle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subtitle = ""
}

// Messages returns a snapshot of the conversation in order.
func (a *Aggregator) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Reset drops the whole transcript. Used when a fresh call starts.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = nil
	a.subtitle = ""
	a.lastAppendAt = time.Time{}
}

func (a *Aggregator) lastLocked() *Message {
	if len(a.messages) == 0 {
		return nil
	}
	return &a.messages[len(a.messages)-1]
}
