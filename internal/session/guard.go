package session

import (
	"log"
	"sync"
	"time"

	"github.com/mkrogh/taletid/internal/capture"
	"github.com/mkrogh/taletid/internal/codec"
	"github.com/mkrogh/taletid/internal/device"
	"github.com/mkrogh/taletid/internal/playback"
	"github.com/mkrogh/taletid/internal/transport"
)

// resourceGuard owns every acquired resource of one call attempt and releases
// all of them exactly once, no matter which exit path asks first. Every field
// is optional: ReleaseAll is safe when nothing was ever acquired.
type resourceGuard struct {
	mu sync.Mutex

	connectTimer  *time.Timer
	subtitleTimer *time.Timer
	source        *capture.Source
	track         device.Track
	scheduler     *playback.Scheduler
	output        device.OutputContext
	stream        transport.Transport
	recorder      *codec.WAVRecorder
	recordingPath string

	released bool
}

func newResourceGuard() *resourceGuard { return &resourceGuard{} }

func (g *resourceGuard) setConnectTimer(t *time.Timer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectTimer = t
}

func (g *resourceGuard) setSubtitleTimer(t *time.Timer) {
	g.mu.Lock()
	if g.subtitleTimer != nil {
		g.subtitleTimer.Stop()
	}
	if g.released && t != nil {
		g.mu.Unlock()
		t.Stop()
		return
	}
	g.subtitleTimer = t
	g.mu.Unlock()
}

func (g *resourceGuard) stopConnectTimer() {
	g.mu.Lock()
	t := g.connectTimer
	g.connectTimer = nil
	g.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// Setters called after release dispose the resource on the spot instead of
// storing it. That closes the window where a hangup lands in the middle of a
// still-running connect attempt.

func (g *resourceGuard) setOutput(o device.OutputContext) {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		if err := o.Close(); err != nil {
			log.Printf("session: close output acquired after release: %v", err)
		}
		return
	}
	g.output = o
	g.mu.Unlock()
}

func (g *resourceGuard) setTrack(t device.Track) {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		t.Stop()
		return
	}
	g.track = t
	g.mu.Unlock()
}

func (g *resourceGuard) setScheduler(s *playback.Scheduler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scheduler = s
}

func (g *resourceGuard) setSource(s *capture.Source) {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		s.Stop()
		return
	}
	g.source = s
	// The source owns the track from here; never stop it twice.
	g.track = nil
	g.mu.Unlock()
}

func (g *resourceGuard) setStream(t transport.Transport) {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		if err := t.Close(); err != nil {
			log.Printf("session: close stream acquired after release: %v", err)
		}
		return
	}
	g.stream = t
	g.mu.Unlock()
}

func (g *resourceGuard) setRecorder(r *codec.WAVRecorder, path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorder = r
	g.recordingPath = path
}

// ReleaseAll tears down in dependency order: timers, capture, playback,
// output device, transport. Idempotent; concurrent callers all return after
// the release has happened.
func (g *resourceGuard) ReleaseAll() {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true

	connectTimer := g.connectTimer
	subtitleTimer := g.subtitleTimer
	source := g.source
	track := g.track
	scheduler := g.scheduler
	output := g.output
	stream := g.stream
	recorder := g.recorder
	recordingPath := g.recordingPath

	g.connectTimer = nil
	g.subtitleTimer = nil
	g.source = nil
	g.track = nil
	g.scheduler = nil
	g.output = nil
	g.stream = nil
	g.recorder = nil
	g.mu.Unlock()

	if connectTimer != nil {
		connectTimer.Stop()
	}
	if subtitleTimer != nil {
		subtitleTimer.Stop()
	}
	if source != nil {
		source.Stop()
	} else if track != nil {
		// Track acquired but capture never started (failure mid-connect).
		track.Stop()
	}
	if scheduler != nil {
		scheduler.Interrupt()
	}
	if output != nil {
		if err := output.Close(); err != nil {
			log.Printf("session: close output device: %v", err)
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			log.Printf("session: close transport: %v", err)
		}
	}
	if recorder != nil && recordingPath != "" && recorder.Len() > 0 {
		if err := recorder.WriteFile(recordingPath); err != nil {
			log.Printf("session: write recording %s: %v", recordingPath, err)
		}
	}
}

// Released reports whether ReleaseAll has run.
func (g *resourceGuard) Released() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}
