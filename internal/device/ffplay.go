package device

import (
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"
	"time"

	"github.com/mkrogh/taletid/internal/codec"
)

// Flusher is implemented by output contexts that can drop audio already
// handed to the device. The scheduler uses it on interruption when available.
type Flusher interface {
	Flush() error
}

// FFPlayOutput approximates a scheduled-playback device on top of an ffplay
// child process. The device clock is wall time since creation; Schedule arms a
// timer that writes the buffer's PCM to ffplay at its start time.
type FFPlayOutput struct {
	binary     string
	sampleRate int
	started    time.Time

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

func NewFFPlayOutput(binary string, sampleRate int) (*FFPlayOutput, error) {
	if binary == "" {
		binary = "ffplay"
	}
	if sampleRate <= 0 {
		sampleRate = codec.PlaybackSampleRate
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", binary, err)
	}
	o := &FFPlayOutput{binary: binary, sampleRate: sampleRate, started: time.Now()}
	if err := o.startLocked(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *FFPlayOutput) startLocked() error {
	cmd := exec.Command(o.binary,
		"-nodisp",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", o.sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open playback pipe: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start %s: %w", o.binary, err)
	}
	o.cmd = cmd
	o.stdin = stdin
	return nil
}

func (o *FFPlayOutput) Now() time.Duration {
	return time.Since(o.started)
}

func (o *FFPlayOutput) Schedule(buf codec.DecodedBuffer, start time.Duration, rate float64, onEnded func()) (Handle, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrContextClosed
	}
	o.mu.Unlock()

	if rate <= 0 {
		rate = 1.0
	}
	pcm := resamplePCM16(buf.Samples, rate)
	duration := time.Duration(float64(buf.Duration()) / rate)

	h := &ffplayHandle{out: o}
	delay := start - o.Now()
	if delay < 0 {
		delay = 0
	}
	h.mu.Lock()
	h.writeTimer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		cancelled := h.cancelled
		h.mu.Unlock()
		if cancelled {
			return
		}
		if err := o.write(pcm); err != nil {
			return
		}
	})
	h.endTimer = time.AfterFunc(delay+duration, func() {
		h.mu.Lock()
		cancelled := h.cancelled
		h.mu.Unlock()
		if cancelled || onEnded == nil {
			return
		}
		onEnded()
	})
	h.mu.Unlock()
	return h, nil
}

func (o *FFPlayOutput) write(pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stdin == nil {
		return ErrContextClosed
	}
	_, err := o.stdin.Write(pcm)
	return err
}

// Flush restarts the ffplay process, dropping any audio it has buffered.
func (o *FFPlayOutput) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.killLocked()
	return o.startLocked()
}

func (o *FFPlayOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.killLocked()
	return nil
}

func (o *FFPlayOutput) killLocked() {
	if o.stdin != nil {
		_ = o.stdin.Close()
	}
	if o.cmd != nil && o.cmd.Process != nil {
		_ = o.cmd.Process.Kill()
		_ = o.cmd.Wait()
	}
	o.cmd = nil
	o.stdin = nil
}

type ffplayHandle struct {
	out *FFPlayOutput

	mu         sync.Mutex
	writeTimer *time.Timer
	endTimer   *time.Timer
	cancelled  bool
}

func (h *ffplayHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	if h.writeTimer != nil {
		h.writeTimer.Stop()
	}
	if h.endTimer != nil {
		h.endTimer.Stop()
	}
}

// resamplePCM16 converts normalized samples to PCM16LE, linearly resampled to
// honor the rate multiplier (rate 1.25 plays 25% faster, so fewer samples out).
func resamplePCM16(samples []float32, rate float64) []byte {
	if len(samples) == 0 {
		return nil
	}
	outLen := int(float64(len(samples)) / rate)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]byte, outLen*2)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * rate
		j := int(pos)
		if j >= len(samples)-1 {
			j = len(samples) - 1
		}
		s := float64(samples[j])
		if frac := pos - float64(j); frac > 0 && j+1 < len(samples) {
			s = s*(1-frac) + float64(samples[j+1])*frac
		}
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(s * 32767))
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}
