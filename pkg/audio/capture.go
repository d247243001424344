package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithFrameSize overrides the number of samples per frame. Intended for tests.
func WithFrameSize(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithFrameBuffer sets how many frames may queue before the device callback
// waits for the consumer. The default is 32.
func WithFrameBuffer(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// Capture turns device callbacks into a stream of fixed-size [Frame] values.
//
// Frames are emitted as soon as enough samples have arrived; the cadence
// follows hardware buffering. Leftover samples are carried into the next
// frame so no sample is lost or repeated at frame boundaries.
type Capture struct {
	frameSize int
	buffer    int

	device io.Closer
	frames chan Frame
	stopCh chan struct{}

	mu      sync.Mutex
	pending []int16
	seq     uint64
	stopped bool
	err     error

	inflight sync.WaitGroup
	samples  atomic.Int64
}

// StartCapture opens mic at [InputSampleRate] and begins framing. The device
// is released by [Capture.Stop], when ctx is cancelled, or immediately if
// setup fails. A [FailingDevice] that fails mid-capture stops the capture;
// the cause is then available from [Capture.Err].
func StartCapture(ctx context.Context, mic Microphone, opts ...CaptureOption) (*Capture, error) {
	c := &Capture{
		frameSize: FrameSize,
		buffer:    32,
		stopCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.frames = make(chan Frame, c.buffer)

	device, err := mic.Open(ctx, InputSampleRate, c.onSamples)
	if err != nil {
		close(c.frames)
		return nil, fmt.Errorf("audio: start capture: %w", err)
	}

	c.mu.Lock()
	c.device = device
	c.mu.Unlock()

	var failed <-chan struct{}
	fd, watch := device.(FailingDevice)
	if watch {
		failed = fd.Failed()
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-failed:
			c.mu.Lock()
			c.err = deviceLost(fd.Err())
			c.mu.Unlock()
			_ = c.Stop()
		case <-c.stopCh:
		}
	}()

	return c, nil
}

// Frames returns the frame stream. It is closed exactly once by Stop.
func (c *Capture) Frames() <-chan Frame { return c.frames }

// Err returns why the capture ended on its own, or nil when it is running
// or was stopped. It is set before the frame stream closes.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func deviceLost(err error) error {
	switch {
	case err == nil:
		return fmt.Errorf("audio: capture: %w", ErrDeviceUnavailable)
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, ErrPermissionDenied):
		return fmt.Errorf("audio: capture: %w", err)
	default:
		return fmt.Errorf("audio: capture: %w: %w", ErrDeviceUnavailable, err)
	}
}

// SamplesCaptured reports how many samples the device has delivered.
func (c *Capture) SamplesCaptured() int64 { return c.samples.Load() }

// Stop releases the device, waits for in-flight callbacks and closes the
// frame stream. A trailing partial frame is discarded. Stop is idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	device := c.device
	c.mu.Unlock()

	var err error
	if device != nil {
		err = device.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	close(c.frames)
	if err != nil {
		return fmt.Errorf("audio: release device: %w", err)
	}
	return nil
}

// onSamples is the device callback.
func (c *Capture) onSamples(buf []int16) {
	if len(buf) == 0 {
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	// Add under the same lock as stopped so Stop's Wait cannot race it.
	c.inflight.Add(1)
	defer c.inflight.Done()

	c.pending = append(c.pending, buf...)
	var ready []Frame
	for len(c.pending) >= c.frameSize {
		samples := make([]int16, c.frameSize)
		copy(samples, c.pending[:c.frameSize])
		c.pending = c.pending[c.frameSize:]
		ready = append(ready, Frame{Samples: samples, Seq: c.seq, Level: RMS(samples)})
		c.seq++
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	c.mu.Unlock()

	c.samples.Add(int64(len(buf)))

	for _, f := range ready {
		select {
		case c.frames <- f:
		case <-c.stopCh:
			return
		}
	}
}
