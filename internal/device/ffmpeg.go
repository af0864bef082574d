package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"

	"github.com/mkrogh/taletid/internal/codec"
)

// FFmpegInput captures the default microphone through an ffmpeg child process
// emitting s16le mono at the capture rate. It is the only real input device
// this service ships; anything else hides behind the InputDevice interface.
type FFmpegInput struct {
	binary string
}

func NewFFmpegInput(binary string) *FFmpegInput {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegInput{binary: binary}
}

func micArgs(goos string, sampleRate int) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s", goos)
	}
}

func (d *FFmpegInput) AcquireTrack(ctx context.Context) (Track, error) {
	if _, err := exec.LookPath(d.binary); err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", ErrPermissionDenied, d.binary)
	}
	args, err := micArgs(runtime.GOOS, codec.CaptureSampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	cmd := exec.CommandContext(ctx, d.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open capture pipe: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrPermissionDenied, d.binary, err)
	}

	t := &ffmpegTrack{
		cmd:    cmd,
		stdout: stdout,
		frames: make(chan []float32, 64),
	}
	go t.pump()
	return t, nil
}

type ffmpegTrack struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu      sync.Mutex
	frames  chan []float32
	stopped bool
}

func (t *ffmpegTrack) Frames() <-chan []float32 { return t.frames }

func (t *ffmpegTrack) pump() {
	defer func() {
		t.mu.Lock()
		if !t.stopped {
			t.stopped = true
			close(t.frames)
		}
		t.mu.Unlock()
	}()

	// 20ms of s16le mono per read keeps latency low without spinning.
	buf := make([]byte, codec.CaptureSampleRate/50*2)
	for {
		n, err := io.ReadFull(t.stdout, buf)
		if n >= 2 {
			n -= n % 2
			samples := make([]float32, n/2)
			for i := range samples {
				samples[i] = float32(int16(binary.LittleEndian.Uint16(buf[i*2:]))) / 32768.0
			}
			t.mu.Lock()
			stopped := t.stopped
			if !stopped {
				select {
				case t.frames <- samples:
				default:
					// Consumer stalled; drop the frame rather than block capture.
				}
			}
			t.mu.Unlock()
			if stopped {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *ffmpegTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.frames)
	t.mu.Unlock()

	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	_ = t.stdout.Close()
}
