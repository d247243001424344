// Package audio implements the capture and playback halves of the voice
// session: fixed-size microphone framing, an ordered playback queue with
// barge-in flushing, and a visualisation-only amplitude spectrum.
//
// Device access is abstracted behind [Microphone] and the pull-based
// [Player.Read] so the pipelines can be exercised without a sound server.
// The PulseAudio implementations live in the pulse sub-package.
package audio

import (
	"context"
	"errors"
	"io"
)

// Wire format constants shared by the capture and playback pipelines.
const (
	// InputSampleRate is the microphone sample rate sent to the AI service.
	InputSampleRate = 16000

	// OutputSampleRate is the sample rate of audio emitted by the AI service.
	OutputSampleRate = 24000

	// FrameSize is the number of mono samples in one captured [Frame].
	FrameSize = 4096

	// FFTSize is the window length of the amplitude transform.
	FFTSize = 256
)

var (
	// ErrPermissionDenied is returned when the user or the sound server refuses
	// microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned when no usable input device exists.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")
)

// Frame is one fixed-length block of captured 16 kHz mono PCM.
// A Frame must not be modified after it has been emitted.
type Frame struct {
	// Samples holds exactly [FrameSize] signed 16-bit samples.
	Samples []int16

	// Seq is the zero-based position of the frame in its capture stream.
	Seq uint64

	// Level is the RMS level of Samples normalised to [0, 1].
	Level float64
}

// Chunk is a block of 24 kHz mono PCM received from the AI service.
type Chunk struct {
	Samples []int16
}

// Microphone acquires an input device.
//
// Open starts delivering captured samples to onSamples until the returned
// closer is closed. onSamples is called from the device's own goroutine and
// must not retain the slice after returning. Implementations return
// [ErrPermissionDenied] or [ErrDeviceUnavailable] (possibly wrapped) when the
// device cannot be opened.
type Microphone interface {
	Open(ctx context.Context, sampleRate int, onSamples func([]int16)) (io.Closer, error)
}

// FailingDevice is implemented by device handles that can stop on their own
// after Open succeeded, for example when the sound server goes away.
type FailingDevice interface {
	io.Closer

	// Failed is closed once the device stopped delivering samples without
	// being closed.
	Failed() <-chan struct{}

	// Err reports why the device failed. It is nil before Failed is closed.
	Err() error
}
