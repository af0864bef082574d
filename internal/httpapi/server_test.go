package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkrogh/taletid/internal/config"
	"github.com/mkrogh/taletid/internal/history"
	"github.com/mkrogh/taletid/internal/observability"
	"github.com/mkrogh/taletid/internal/reliability"
	"github.com/mkrogh/taletid/internal/session"
	"github.com/mkrogh/taletid/internal/transcript"
	"github.com/mkrogh/taletid/internal/transport"
)

// fakeCall is a scriptable Call for handler tests.
type fakeCall struct {
	mu       sync.Mutex
	snap     session.Snapshot
	messages []transcript.Message

	connectErr error
	connects   int
	hangups    int
	muted      bool
	rate       float64
	voice      transport.VoiceProfile
}

func newFakeCall() *fakeCall {
	return &fakeCall{
		snap: session.Snapshot{State: session.StateDisconnected, PlaybackRate: 1.0, MicEnabled: true},
		rate: 1.0,
	}
}

func (c *fakeCall) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		c.snap.State = session.StateError
		return c.connectErr
	}
	c.snap.State = session.StateConnected
	return nil
}

func (c *fakeCall) Hangup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangups++
	c.snap.State = session.StateDisconnected
}

func (c *fakeCall) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	c.snap.MicEnabled = !muted
}

func (c *fakeCall) SetPlaybackRate(rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rate <= 0 {
		return reliability.Classify(reliability.KindInvalidConfiguration, "playback rate must be positive", nil)
	}
	c.rate = rate
	c.snap.PlaybackRate = rate
	return nil
}

func (c *fakeCall) SetVoice(v transport.VoiceProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State == session.StateConnected {
		return reliability.Classify(reliability.KindInvalidConfiguration, "voice cannot change during a call", nil)
	}
	c.voice = v
	c.snap.Voice = v
	return nil
}

func (c *fakeCall) Snapshot() session.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *fakeCall) Messages() []transcript.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}

type fakeFeed struct {
	ch chan struct{}
}

func (f *fakeFeed) Subscribe() (<-chan struct{}, func()) {
	return f.ch, func() {}
}

// testMetricsSeq makes each test's metrics namespace unique so repeated
// NewMetrics calls don't collide in the default Prometheus registry.
var testMetricsSeq atomic.Int64

func newTestServer(t *testing.T, call *fakeCall) (*Server, *fakeFeed) {
	t.Helper()
	metrics := observability.NewMetrics("test_httpapi_" + strconv.FormatInt(testMetricsSeq.Add(1), 10))
	feed := &fakeFeed{ch: make(chan struct{}, 1)}
	cfg := config.Config{VoiceID: "aoede", AllowAnyOrigin: true}
	return New(cfg, call, feed, history.NewInMemoryStore(), metrics, observability.NewLatencyWindow(16)), feed
}

func TestConnectAndHangup(t *testing.T) {
	call := newFakeCall()
	srv, _ := newTestServer(t, call)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/call/connect", "application/json", nil)
	if err != nil {
		t.Fatalf("connect request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("connect status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode connect response: %v", err)
	}
	if snap.State != session.StateConnected {
		t.Fatalf("state = %v, want %v", snap.State, session.StateConnected)
	}

	endRes, err := http.Post(ts.URL+"/v1/call/hangup", "application/json", nil)
	if err != nil {
		t.Fatalf("hangup request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("hangup status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
	if call.hangups != 1 {
		t.Fatalf("hangups = %d, want 1", call.hangups)
	}
}

func TestConnectFailureReturnsBadGateway(t *testing.T) {
	call := newFakeCall()
	call.connectErr = reliability.Classify(reliability.KindTransportOpenFailed, "dial refused", nil)
	srv, _ := newTestServer(t, call)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/call/connect", "application/json", nil)
	if err != nil {
		t.Fatalf("connect request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("connect status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}
}

func TestMuteAndRate(t *testing.T) {
	call := newFakeCall()
	srv, _ := newTestServer(t, call)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(muteRequest{Muted: true})
	res, err := http.Post(ts.URL+"/v1/call/mute", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("mute request error = %v", err)
	}
	res.Body.Close()
	if !call.muted {
		t.Fatalf("muted = false after mute request")
	}

	body, _ = json.Marshal(rateRequest{Rate: -2})
	res, err = http.Post(ts.URL+"/v1/call/rate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("rate request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("rate status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	body, _ = json.Marshal(rateRequest{Rate: 1.5})
	res, err = http.Post(ts.URL+"/v1/call/rate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("rate request error = %v", err)
	}
	res.Body.Close()
	if call.rate != 1.5 {
		t.Fatalf("rate = %v, want 1.5", call.rate)
	}
}

func TestSetVoice(t *testing.T) {
	call := newFakeCall()
	srv, _ := newTestServer(t, call)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(voiceRequest{VoiceID: "no-such-voice"})
	res, err := http.Post(ts.URL+"/v1/call/voice", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("voice request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("voice status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	body, _ = json.Marshal(voiceRequest{VoiceID: "kore"})
	res, err = http.Post(ts.URL+"/v1/call/voice", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("voice request error = %v", err)
	}
	res.Body.Close()
	if call.voice.VoiceID != "kore" {
		t.Fatalf("voice = %q, want %q", call.voice.VoiceID, "kore")
	}

	call.snap.State = session.StateConnected
	body, _ = json.Marshal(voiceRequest{VoiceID: "puck"})
	res, err = http.Post(ts.URL+"/v1/call/voice", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("voice request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("voice status mid-call = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestListVoices(t *testing.T) {
	srv, _ := newTestServer(t, newFakeCall())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("voices request error = %v", err)
	}
	defer res.Body.Close()

	var parsed listVoicesResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode voices response: %v", err)
	}
	if parsed.DefaultVoiceID != "aoede" {
		t.Fatalf("DefaultVoiceID = %q, want %q", parsed.DefaultVoiceID, "aoede")
	}
	if len(parsed.Voices) == 0 {
		t.Fatalf("empty voice list")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	call := newFakeCall()
	srv, _ := newTestServer(t, call)
	err := srv.store.SaveCall(context.Background(), history.CallRecord{
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		Reason:    "user",
		VoiceID:   "aoede",
	})
	if err != nil {
		t.Fatalf("SaveCall() error = %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/history?limit=5")
	if err != nil {
		t.Fatalf("history request error = %v", err)
	}
	defer res.Body.Close()

	var parsed struct {
		Calls []history.CallRecord `json:"calls"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode history response: %v", err)
	}
	if len(parsed.Calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(parsed.Calls))
	}

	badRes, err := http.Get(ts.URL + "/v1/history?limit=zero")
	if err != nil {
		t.Fatalf("history request error = %v", err)
	}
	badRes.Body.Close()
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("history status = %d, want %d", badRes.StatusCode, http.StatusBadRequest)
	}
}

func TestStateFeedPushesSnapshots(t *testing.T) {
	call := newFakeCall()
	srv, feed := newTestServer(t, call)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/call/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial state feed: %v", err)
	}
	defer conn.Close()

	// Initial snapshot arrives without any change.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first stateMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if first.Type != "state" {
		t.Fatalf("first message type = %q, want %q", first.Type, "state")
	}

	call.Connect(context.Background())
	feed.ch <- struct{}{}

	var second stateMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read pushed state: %v", err)
	}
	raw, _ := json.Marshal(second.State)
	var snap session.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode pushed snapshot: %v", err)
	}
	if snap.State != session.StateConnected {
		t.Fatalf("pushed state = %v, want %v", snap.State, session.StateConnected)
	}

	// Inbound control: hangup over the feed.
	if err := conn.WriteJSON(controlMessage{Type: "hangup"}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		call.mu.Lock()
		n := call.hangups
		call.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hangup control not applied")
}
