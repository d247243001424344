// Package pulse provides PulseAudio (and PipeWire-pulse) implementations of
// the jobvoice microphone and speaker.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/MrWong99/jobvoice/pkg/audio"
)

const appName = "jobvoice"

// fragmentBytes is the requested record fragment: 64 ms at 16 kHz mono s16.
const fragmentBytes = 2048

// lossPoll is how often a running record stream is checked for server loss.
const lossPoll = 200 * time.Millisecond

var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.FailingDevice = (*recording)(nil)
)

// Microphone records from a PulseAudio source.
type Microphone struct {
	// Source is the PulseAudio source name. Empty or "default" selects the
	// server's default source.
	Source string
}

// Open connects to the sound server and starts a mono s16 record stream at
// sampleRate. onSamples receives each fragment as it arrives.
func (m *Microphone) Open(_ context.Context, sampleRate int, onSamples func([]int16)) (io.Closer, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(appName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse: connect: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	var source *pulse.Source
	if m.Source == "" || m.Source == "default" {
		source, err = client.DefaultSource()
	} else {
		source, err = client.SourceByID(m.Source)
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: resolve source %q: %w", m.Source, classify(err))
	}

	rec := &recording{
		client:    client,
		onSamples: onSamples,
		failed:    make(chan struct{}),
		quit:      make(chan struct{}),
	}
	writer := pulse.NewWriter(writerFunc(rec.write), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(fragmentBytes),
		pulse.RecordMediaName("jobvoice conversation"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: create record stream: %w", classify(err))
	}
	rec.stream = stream
	stream.Start()
	go rec.watch()
	return rec, nil
}

// classify maps server errors onto the audio sentinels.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
}

type recording struct {
	client    *pulse.Client
	stream    *pulse.RecordStream
	onSamples func([]int16)

	failed chan struct{}
	quit   chan struct{}

	once    sync.Once
	mu      sync.Mutex
	stopped bool
	err     error
}

// watch reports a stream the server dropped. The pulse client only records
// the loss on the stream, so it is polled.
func (r *recording) watch() {
	t := time.NewTicker(lossPoll)
	defer t.Stop()
	for {
		select {
		case <-r.quit:
			return
		case <-t.C:
		}
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return
		}
		if !r.stream.Closed() {
			r.mu.Unlock()
			continue
		}
		r.err = classify(streamErr(r.stream.Error()))
		r.mu.Unlock()
		close(r.failed)
		return
	}
}

func streamErr(err error) error {
	if err == nil {
		return pulse.ErrConnectionClosed
	}
	return err
}

// Failed is closed when the server dropped the stream.
func (r *recording) Failed() <-chan struct{} { return r.failed }

// Err reports why the stream was dropped.
func (r *recording) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *recording) write(b []byte) (int, error) {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return 0, io.EOF
	}
	r.onSamples(audio.BytesToPCM16(b))
	return len(b), nil
}

// Close stops the stream and disconnects. It is safe to call more than once.
func (r *recording) Close() error {
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		close(r.quit)
		r.stream.Stop()
		r.stream.Close()
		err = r.stream.Error()
		r.client.Close()
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("pulse: close record stream: %w", err)
	}
	return nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }
