package pulse

import (
	"fmt"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"

	"github.com/MrWong99/jobvoice/pkg/audio"
)

// DefaultLatency is used when no playback latency is configured.
const DefaultLatency = 60 * time.Millisecond

// Speaker plays a [audio.Player] through the default PulseAudio sink.
type Speaker struct {
	client *pulse.Client
	stream *pulse.PlaybackStream
	once   sync.Once
}

// OpenSpeaker starts a 24 kHz mono playback stream that pulls from player
// until Close. A zero latency selects [DefaultLatency].
func OpenSpeaker(player *audio.Player, latency time.Duration) (*Speaker, error) {
	if latency <= 0 {
		latency = DefaultLatency
	}
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(appName),
		pulse.ClientApplicationIconName("audio-speakers"),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse: connect: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	stream, err := client.NewPlayback(
		pulse.Int16Reader(player.Read),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(audio.OutputSampleRate),
		pulse.PlaybackLatency(latency.Seconds()),
		pulse.PlaybackMediaName("jobvoice assistant"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: create playback stream: %w", classify(err))
	}
	stream.Start()
	return &Speaker{client: client, stream: stream}, nil
}

// Close stops playback and disconnects. It is safe to call more than once.
func (s *Speaker) Close() error {
	var err error
	s.once.Do(func() {
		s.stream.Stop()
		s.stream.Close()
		err = s.stream.Error()
		s.client.Close()
	})
	if err != nil {
		return fmt.Errorf("pulse: close playback stream: %w", err)
	}
	return nil
}
