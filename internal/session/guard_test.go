package session

import (
	"context"
	"testing"
	"time"

	"github.com/mkrogh/taletid/internal/device"
	"github.com/mkrogh/taletid/internal/transport"
)

func TestGuardReleaseWithNothingAcquired(t *testing.T) {
	g := newResourceGuard()
	g.ReleaseAll()
	g.ReleaseAll()
	if !g.Released() {
		t.Fatalf("Released() = false after ReleaseAll")
	}
}

func TestGuardReleasesBareTrack(t *testing.T) {
	g := newResourceGuard()
	input := device.NewFakeInput()
	track, err := input.AcquireTrack(context.Background())
	if err != nil {
		t.Fatalf("AcquireTrack() error = %v", err)
	}
	g.setTrack(track)

	g.ReleaseAll()
	if !input.LastTrack().Stopped() {
		t.Errorf("track not stopped when capture never started")
	}
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	g := newResourceGuard()
	out := device.NewFakeOutput()
	mock := transport.NewMockTransport()
	g.setOutput(out)
	g.setStream(mock)

	g.ReleaseAll()
	g.ReleaseAll()

	if !out.Closed() {
		t.Errorf("output not closed")
	}
	if !mock.Closed() {
		t.Errorf("stream not closed")
	}
}

func TestGuardDisposesLateAcquisitions(t *testing.T) {
	g := newResourceGuard()
	g.ReleaseAll()

	out := device.NewFakeOutput()
	g.setOutput(out)
	if !out.Closed() {
		t.Errorf("output set after release was not closed")
	}

	input := device.NewFakeInput()
	track, _ := input.AcquireTrack(context.Background())
	g.setTrack(track)
	if !input.LastTrack().Stopped() {
		t.Errorf("track set after release was not stopped")
	}

	mock := transport.NewMockTransport()
	g.setStream(mock)
	if !mock.Closed() {
		t.Errorf("stream set after release was not closed")
	}

	fired := make(chan struct{}, 1)
	g.setSubtitleTimer(time.AfterFunc(5*time.Millisecond, func() { fired <- struct{}{} }))
	select {
	case <-fired:
		t.Errorf("subtitle timer set after release still fired")
	case <-time.After(30 * time.Millisecond):
	}
}
