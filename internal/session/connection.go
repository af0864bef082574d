// Package session owns the lifecycle of one live call: the state machine,
// the wiring between capture, playback, transcript and transport, and the
// teardown discipline for every exit path.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mkrogh/taletid/internal/capture"
	"github.com/mkrogh/taletid/internal/codec"
	"github.com/mkrogh/taletid/internal/device"
	"github.com/mkrogh/taletid/internal/observability"
	"github.com/mkrogh/taletid/internal/playback"
	"github.com/mkrogh/taletid/internal/reliability"
	"github.com/mkrogh/taletid/internal/transcript"
	"github.com/mkrogh/taletid/internal/transport"
)

// State is the call lifecycle. Disconnected is both initial and terminal;
// Error is terminal and always observed only after teardown has completed.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// EndReason records who or what ended the call.
type EndReason string

const (
	EndReasonNone   EndReason = ""
	EndReasonUser   EndReason = "user"
	EndReasonRemote EndReason = "remote"
	EndReasonError  EndReason = "error"
)

// Config is the immutable per-connection configuration.
type Config struct {
	Model        string
	SystemPrompt string
	Voice        transport.VoiceProfile

	ConnectTimeout     time.Duration
	SubtitleClearDelay time.Duration
	TranscriptCooldown time.Duration

	// RecordingPath, when set, dumps the model's audio to a WAV file on
	// teardown. Diagnostics only.
	RecordingPath string
}

// DefaultConnectTimeout bounds the whole Connecting phase.
const DefaultConnectTimeout = 30 * time.Second

// DefaultSubtitleClearDelay is how long the live subtitle lingers after the
// model finishes a turn.
const DefaultSubtitleClearDelay = 3 * time.Second

// Snapshot is the host-visible session state, cheap to copy.
type Snapshot struct {
	State         State                  `json:"state"`
	Step          string                 `json:"step,omitempty"`
	EndReason     EndReason              `json:"end_reason,omitempty"`
	ErrorKind     reliability.Kind       `json:"error_kind,omitempty"`
	ErrorDetail   string                 `json:"error_detail,omitempty"`
	Retryable     bool                   `json:"retryable"`
	MicEnabled    bool                   `json:"mic_enabled"`
	PlaybackRate  float64                `json:"playback_rate"`
	ActivityLevel float64                `json:"activity_level"`
	UserSpeaking  bool                   `json:"user_speaking"`
	ModelSpeaking bool                   `json:"model_speaking"`
	Subtitle      string                 `json:"subtitle"`
	StartedAt     time.Time              `json:"started_at,omitempty"`
	Voice         transport.VoiceProfile `json:"voice"`
}

// EndedCall summarizes one finished call for the history store.
type EndedCall struct {
	StartedAt time.Time
	EndedAt   time.Time
	Reason    EndReason
	ErrorKind reliability.Kind
	Voice     transport.VoiceProfile
	Messages  []transcript.Message
}

// Connection is the single live call slot. Exactly one call may be active;
// connecting while one exists tears the old one down first.
type Connection struct {
	cfg          Config
	input        device.InputDevice
	newOutput    func() (device.OutputContext, error)
	newTransport func() transport.Transport

	mu            sync.Mutex
	state         State
	step          string
	endReason     EndReason
	lastErr       *reliability.CallError
	startedAt     time.Time
	micEnabled    bool
	rate          float64
	modelSpeaking bool
	generation    uint64

	guard     *resourceGuard
	scheduler *playback.Scheduler
	source    *capture.Source
	stream    transport.Transport
	agg       *transcript.Aggregator

	onChange  func()
	onEnded   func(EndedCall)
	onDecoded func(codec.DecodedBuffer)

	metrics *observability.Metrics
}

// New builds an idle connection. newOutput and newTransport are factories so
// every connect attempt gets fresh device and stream instances.
func New(cfg Config, input device.InputDevice, newOutput func() (device.OutputContext, error), newTransport func() transport.Transport) *Connection {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.SubtitleClearDelay <= 0 {
		cfg.SubtitleClearDelay = DefaultSubtitleClearDelay
	}
	return &Connection{
		cfg:          cfg,
		input:        input,
		newOutput:    newOutput,
		newTransport: newTransport,
		state:        StateDisconnected,
		micEnabled:   true,
		rate:         1.0,
		guard:        newResourceGuard(),
		agg:          transcript.New(cfg.TranscriptCooldown),
	}
}

// SetOnChange registers a callback fired after every observable update.
func (c *Connection) SetOnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// SetOnEnded registers a callback fired once per finished call.
func (c *Connection) SetOnEnded(fn func(EndedCall)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnded = fn
}

// SetOnDecoded registers a tap on every successfully decoded inbound buffer.
func (c *Connection) SetOnDecoded(fn func(codec.DecodedBuffer)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDecoded = fn
}

// SetMetrics enables instrument updates on the audio hot paths. Optional.
func (c *Connection) SetMetrics(m *observability.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

func (c *Connection) metricsRef() *observability.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Connect dials a fresh call. Any previous call is fully torn down first.
// Immediate acquisition failures are returned and also recorded on the
// session; asynchronous failures surface through the state machine.
func (c *Connection) Connect(ctx context.Context) error {
	// An abandoned call counts as user-ended, its transcript included.
	c.teardown(EndReasonUser)

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.state = StateConnecting
	c.step = "initializing audio"
	c.endReason = EndReasonNone
	c.lastErr = nil
	c.startedAt = time.Now()
	c.modelSpeaking = false
	c.guard = newResourceGuard()
	guard := c.guard
	c.agg.Reset()
	rate := c.rate
	c.mu.Unlock()
	c.notify()

	guard.setConnectTimer(time.AfterFunc(c.cfg.ConnectTimeout, func() {
		c.connectTimedOut(gen)
	}))

	output, err := c.newOutput()
	if err != nil {
		return c.failConnect(gen, reliability.Classify(reliability.KindPermissionDenied,
			"output device unavailable", err))
	}
	guard.setOutput(output)

	scheduler := playback.New(output, func(speaking bool) { c.modelSpeakingChanged(gen, speaking) })
	if err := scheduler.SetRate(rate); err != nil {
		// The stored rate was validated when set; fall back rather than die.
		_ = scheduler.SetRate(1.0)
	}
	guard.setScheduler(scheduler)

	c.setStep(gen, "requesting microphone")
	track, err := c.input.AcquireTrack(ctx)
	if err != nil {
		return c.failConnect(gen, reliability.Classify(reliability.KindPermissionDenied,
			"microphone access denied", err))
	}
	guard.setTrack(track)

	var recorder *codec.WAVRecorder
	if c.cfg.RecordingPath != "" {
		recorder = codec.NewWAVRecorder(codec.PlaybackSampleRate)
		guard.setRecorder(recorder, c.cfg.RecordingPath)
	}

	c.setStep(gen, "opening transport")
	stream := c.newTransport()
	guard.setStream(stream)
	events, err := stream.Open(ctx, transport.OpenConfig{
		Model:        c.cfg.Model,
		Voice:        c.cfg.Voice,
		SystemPrompt: c.cfg.SystemPrompt,
	})
	if err != nil {
		kind := reliability.KindOf(err)
		if kind == "" {
			kind = reliability.KindTransportOpenFailed
		}
		return c.failConnect(gen, reliability.Classify(kind, "open transport", err))
	}

	c.mu.Lock()
	if c.generation != gen {
		// A concurrent hangup or reconnect won; this attempt is already dead.
		c.mu.Unlock()
		return nil
	}
	c.scheduler = scheduler
	c.stream = stream
	c.mu.Unlock()

	go c.eventLoop(gen, guard, track, scheduler, recorder, events)
	return nil
}

func (c *Connection) eventLoop(gen uint64, guard *resourceGuard, track device.Track, scheduler *playback.Scheduler, recorder *codec.WAVRecorder, events <-chan transport.Event) {
	for ev := range events {
		c.dispatch(gen, guard, track, scheduler, recorder, ev)
	}
}

// dispatch is the single entry point for inbound transport events. Events
// from a previous call generation are ignored instead of resurrecting state.
func (c *Connection) dispatch(gen uint64, guard *resourceGuard, track device.Track, scheduler *playback.Scheduler, recorder *codec.WAVRecorder, ev transport.Event) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	state := c.state
	c.mu.Unlock()

	switch ev.Type {
	case transport.EventOpened:
		if state != StateConnecting {
			return
		}
		guard.stopConnectTimer()
		source := capture.Start(track, c.sendChunk(gen))
		guard.setSource(source)
		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			source.Stop()
			return
		}
		c.source = source
		c.state = StateConnected
		c.step = "ready"
		c.mu.Unlock()
		c.notify()

	case transport.EventAudio:
		if state != StateConnected {
			return
		}
		buf, err := codec.Decode(ev.Audio, 1)
		if err != nil {
			// One bad payload never ends the call.
			log.Printf("session: dropping undecodable audio payload: %v", err)
			if m := c.metricsRef(); m != nil {
				m.DecodeErrors.Inc()
			}
			return
		}
		if recorder != nil {
			recorder.Append(buf)
		}
		c.mu.Lock()
		tap := c.onDecoded
		c.mu.Unlock()
		if tap != nil {
			tap(buf)
		}
		if err := scheduler.Enqueue(buf); err != nil {
			log.Printf("session: schedule playback: %v", err)
		} else if m := c.metricsRef(); m != nil {
			m.ScheduledBuffers.Inc()
		}

	case transport.EventText:
		if state != StateConnected {
			return
		}
		speaker := transcript.SpeakerUser
		if ev.Speaker == transport.SpeakerModel {
			speaker = transcript.SpeakerModel
		}
		c.agg.Append(speaker, ev.Text, false)
		c.notify()

	case transport.EventTurnComplete:
		if state != StateConnected {
			return
		}
		c.agg.CompleteTurn()
		guard.setSubtitleTimer(time.AfterFunc(c.cfg.SubtitleClearDelay, func() {
			c.mu.Lock()
			stale := c.generation != gen
			c.mu.Unlock()
			if stale {
				return
			}
			c.agg.ClearSubtitle()
			c.notify()
		}))
		c.notify()

	case transport.EventInterrupted:
		if state != StateConnected {
			return
		}
		scheduler.Interrupt()
		c.agg.ClearSubtitle()
		if m := c.metricsRef(); m != nil {
			m.Interruptions.Inc()
		}
		c.notify()

	case transport.EventClosed:
		if state == StateConnected {
			c.endFromRemote(gen)
		} else if state == StateConnecting {
			c.fail(gen, reliability.Classify(reliability.KindTransportOpenFailed,
				"endpoint closed during connect", nil))
		}

	case transport.EventErrored:
		kind := reliability.KindOf(ev.Err)
		if kind == "" {
			kind = reliability.KindTransportRuntime
		}
		if state == StateConnecting {
			c.fail(gen, reliability.Classify(kind, "transport failed during connect", ev.Err))
		} else if state == StateConnected {
			c.fail(gen, reliability.Classify(kind, "transport failed mid-call", ev.Err))
		}
	}
}

// sendChunk builds the capture callback for one call generation. Chunks
// framed after teardown are dropped, never sent late.
func (c *Connection) sendChunk(gen uint64) func(codec.Chunk) {
	return func(chunk codec.Chunk) {
		c.mu.Lock()
		if c.generation != gen || c.state != StateConnected {
			c.mu.Unlock()
			return
		}
		stream := c.stream
		c.mu.Unlock()
		if stream == nil {
			return
		}
		if err := stream.SendAudio(chunk); err != nil {
			log.Printf("session: send capture chunk %d: %v", chunk.Seq, err)
			return
		}
		if m := c.metricsRef(); m != nil {
			m.CaptureChunks.Inc()
		}
	}
}

func (c *Connection) modelSpeakingChanged(gen uint64, speaking bool) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.modelSpeaking = speaking
	c.mu.Unlock()
	c.notify()
}

func (c *Connection) connectTimedOut(gen uint64) {
	c.mu.Lock()
	stillConnecting := c.generation == gen && c.state == StateConnecting
	c.mu.Unlock()
	if !stillConnecting {
		return
	}
	c.fail(gen, reliability.Classify(reliability.KindTransportTimeout,
		"no response within connect window", nil))
}

func (c *Connection) setStep(gen uint64, step string) {
	c.mu.Lock()
	if c.generation != gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.step = step
	c.mu.Unlock()
	c.notify()
}

// failConnect is fail for synchronous Connect paths: it returns the error so
// the caller sees the same classified cause the session records.
func (c *Connection) failConnect(gen uint64, cerr *reliability.CallError) error {
	c.fail(gen, cerr)
	return cerr
}

// fail transitions to Error. Teardown completes before the state becomes
// observable, so a caller seeing Error may immediately connect again.
func (c *Connection) fail(gen uint64, cerr *reliability.CallError) {
	c.mu.Lock()
	if c.generation != gen || (c.state != StateConnecting && c.state != StateConnected) {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.mu.Unlock()

	c.finish(StateError, EndReasonError, cerr)
}

// Hangup ends the call from this side. A no-op outside Connecting/Connected.
func (c *Connection) Hangup() {
	c.teardown(EndReasonUser)
}

// Dispose releases everything unconditionally. For host shutdown.
func (c *Connection) Dispose() {
	c.teardown(EndReasonUser)
}

// endFromRemote handles a clean close from the endpoint side. Guarded by the
// event's generation so a stale close can never end a newer call.
func (c *Connection) endFromRemote(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.mu.Unlock()
	c.finish(StateDisconnected, EndReasonRemote, nil)
}

// teardown releases resources of the active call, if any, and settles into
// Disconnected. With no active call it only re-runs the idempotent release.
func (c *Connection) teardown(reason EndReason) {
	c.mu.Lock()
	active := c.state == StateConnecting || c.state == StateConnected
	if active {
		c.generation++
	}
	c.mu.Unlock()
	if !active {
		// A failed connect may have left nothing behind, and double release
		// must stay safe.
		c.guardSnapshot().ReleaseAll()
		return
	}

	c.finish(StateDisconnected, reason, nil)
}

// finish runs the shared terminal path: release everything, then publish the
// terminal state, then emit the ended-call record.
func (c *Connection) finish(state State, reason EndReason, cerr *reliability.CallError) {
	guard := c.guardSnapshot()
	guard.ReleaseAll()

	c.mu.Lock()
	c.state = state
	c.step = ""
	c.endReason = reason
	c.lastErr = cerr
	c.modelSpeaking = false
	c.scheduler = nil
	c.source = nil
	c.stream = nil
	startedAt := c.startedAt
	voice := c.cfg.Voice
	onEnded := c.onEnded
	c.mu.Unlock()
	c.agg.ClearSubtitle()
	c.notify()

	if onEnded != nil && reason != EndReasonNone {
		ended := EndedCall{
			StartedAt: startedAt,
			EndedAt:   time.Now(),
			Reason:    reason,
			Voice:     voice,
			Messages:  c.agg.Messages(),
		}
		if cerr != nil {
			ended.ErrorKind = cerr.Kind
		}
		onEnded(ended)
	}
}

func (c *Connection) guardSnapshot() *resourceGuard {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guard
}

// SetMuted toggles the capture mute flag. Instantaneous; the device track
// stays alive so unmuting needs no re-acquisition.
func (c *Connection) SetMuted(muted bool) {
	c.mu.Lock()
	c.micEnabled = !muted
	source := c.source
	c.mu.Unlock()
	if source != nil {
		source.SetMuted(muted)
	}
	c.notify()
}

// SetPlaybackRate validates and applies the speed multiplier. Rejection never
// disturbs an in-progress call.
func (c *Connection) SetPlaybackRate(rate float64) error {
	if rate <= 0 {
		return reliability.Classify(reliability.KindInvalidConfiguration,
			"playback rate must be positive", nil)
	}
	c.mu.Lock()
	c.rate = rate
	scheduler := c.scheduler
	c.mu.Unlock()
	if scheduler != nil {
		if err := scheduler.SetRate(rate); err != nil {
			return err
		}
	}
	c.notify()
	return nil
}

// SetVoice changes the voice profile for future calls. Rejected while a call
// is in progress; the remote endpoint fixes the voice at session setup.
func (c *Connection) SetVoice(v transport.VoiceProfile) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return reliability.Classify(reliability.KindInvalidConfiguration,
			"voice cannot change during a call", nil)
	}
	c.cfg.Voice = v
	c.mu.Unlock()
	c.notify()
	return nil
}

// Snapshot returns the host-visible state.
func (c *Connection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:         c.state,
		Step:          c.step,
		EndReason:     c.endReason,
		MicEnabled:    c.micEnabled,
		PlaybackRate:  c.rate,
		ModelSpeaking: c.modelSpeaking,
		Subtitle:      c.agg.Subtitle(),
		StartedAt:     c.startedAt,
		Voice:         c.cfg.Voice,
	}
	if c.lastErr != nil {
		snap.ErrorKind = c.lastErr.Kind
		snap.ErrorDetail = c.lastErr.Detail
		snap.Retryable = reliability.IsRetryable(c.lastErr.Kind)
	}
	if c.source != nil {
		snap.ActivityLevel = c.source.ActivityLevel()
		snap.UserSpeaking = snap.ActivityLevel > capture.SpeakingThreshold
	}
	return snap
}

// State returns just the lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns the transcript snapshot.
func (c *Connection) Messages() []transcript.Message {
	return c.agg.Messages()
}

func (c *Connection) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
