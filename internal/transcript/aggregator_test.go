package transcript

import (
	"testing"
	"time"
)

func newTestAggregator(cooldown time.Duration) (*Aggregator, *time.Time) {
	a := New(cooldown)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	return a, &now
}

func TestAppendMergesSameSpeakerFragments(t *testing.T) {
	a, _ := newTestAggregator(0)
	a.Append(SpeakerModel, "Hej", false)
	a.Append(SpeakerModel, " verden", false)

	msgs := a.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Text != "Hej verden" {
		t.Fatalf("Text = %q, want %q", msgs[0].Text, "Hej verden")
	}
	if !msgs[0].Partial {
		t.Fatalf("Partial = false, want true while turn is open")
	}
}

func TestTurnCompleteStartsNewMessage(t *testing.T) {
	a, _ := newTestAggregator(0)
	a.Append(SpeakerModel, "Hej", false)
	a.Append(SpeakerModel, " verden", true)
	a.Append(SpeakerModel, "Nyt", false)

	msgs := a.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Text != "Hej verden" || msgs[0].Partial {
		t.Fatalf("first message = %+v, want finalized %q", msgs[0], "Hej verden")
	}
	if msgs[1].Text != "Nyt" || !msgs[1].Partial {
		t.Fatalf("second message = %+v, want open %q", msgs[1], "Nyt")
	}
}

func TestSpeakerChangeStartsNewMessage(t *testing.T) {
	a, _ := newTestAggregator(0)
	a.Append(SpeakerUser, "god", false)
	a.Append(SpeakerModel, "tak", false)
	a.Append(SpeakerUser, "morgen", false)

	msgs := a.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3 (each speaker change splits)", len(msgs))
	}
	if msgs[0].Speaker != SpeakerUser || msgs[1].Speaker != SpeakerModel || msgs[2].Speaker != SpeakerUser {
		t.Fatalf("speakers = %s,%s,%s", msgs[0].Speaker, msgs[1].Speaker, msgs[2].Speaker)
	}
}

func TestCooldownFinalizesImplicitly(t *testing.T) {
	a, now := newTestAggregator(5 * time.Second)
	a.Append(SpeakerUser, "hall", false)

	*now = now.Add(6 * time.Second)
	a.Append(SpeakerUser, "o igen", false)

	msgs := a.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2 (cooldown split)", len(msgs))
	}
	if msgs[0].Partial {
		t.Fatalf("first message still partial after cooldown")
	}
	if msgs[1].Text != "o igen" {
		t.Fatalf("second Text = %q, want %q", msgs[1].Text, "o igen")
	}
}

func TestWithinCooldownStillMerges(t *testing.T) {
	a, now := newTestAggregator(5 * time.Second)
	a.Append(SpeakerUser, "hall", false)
	*now = now.Add(2 * time.Second)
	a.Append(SpeakerUser, "o", false)

	msgs := a.Messages()
	if len(msgs) != 1 || msgs[0].Text != "hallo" {
		t.Fatalf("messages = %+v, want single %q", msgs, "hallo")
	}
}

func TestSubtitleTracksModelUtterance(t *testing.T) {
	a, _ := newTestAggregator(0)
	a.Append(SpeakerModel, "Hej", false)
	a.Append(SpeakerUser, "hej", false)
	if got := a.Subtitle(); got != "Hej" {
		t.Fatalf("Subtitle() = %q, want %q (user fragments do not touch it)", got, "Hej")
	}

	a.Append(SpeakerModel, "Godmorgen", false)
	if got := a.Subtitle(); got != "Godmorgen" {
		t.Fatalf("Subtitle() = %q, want %q", got, "Godmorgen")
	}

	a.ClearSubtitle()
	if got := a.Subtitle(); got != "" {
		t.Fatalf("Subtitle() = %q after clear, want empty", got)
	}
}

func TestCompleteTurnWithoutTextFinalizesOnly(t *testing.T) {
	a, _ := newTestAggregator(0)
	a.CompleteTurn() // nothing to finalize, must not panic
	a.Append(SpeakerModel, "Hej", false)
	a.CompleteTurn()

	msgs := a.Messages()
	if len(msgs) != 1 || msgs[0].Partial {
		t.Fatalf("messages = %+v, want one finalized message", msgs)
	}
}

func TestResetDropsEverything(t *testing.T) {
	a, _ := newTestAggregator(0)
	a.Append(SpeakerModel, "Hej", false)
	a.Reset()
	if len(a.Messages()) != 0 {
		t.Fatalf("messages after Reset = %d, want 0", len(a.Messages()))
	}
	if a.Subtitle() != "" {
		t.Fatalf("subtitle after Reset = %q, want empty", a.Subtitle())
	}
}
