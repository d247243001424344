package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/jobvoice/pkg/audio"
)

func TestPlayer_ReadPreservesOrderAcrossChunks(t *testing.T) {
	t.Parallel()

	p := audio.NewPlayer()
	p.Enqueue(audio.Chunk{Samples: ramp(0, 3)})
	p.Enqueue(audio.Chunk{Samples: ramp(3, 5)})

	var got []int16
	buf := make([]int16, 2)
	for range 4 {
		n, err := p.Read(buf)
		if err != nil || n != len(buf) {
			t.Fatalf("Read = %d, %v", n, err)
		}
		got = append(got, buf...)
	}
	for i := range 8 {
		if got[i] != int16(i) {
			t.Fatalf("sample %d = %d, want %d", i, got[i], i)
		}
	}
	if p.Playing() {
		t.Error("Playing() = true after draining")
	}
}

func TestPlayer_SilenceOnUnderrun(t *testing.T) {
	t.Parallel()

	var hooks int
	p := audio.NewPlayer(audio.WithUnderrunHook(func() { hooks++ }))

	// Idle reads before any audio do not count.
	buf := make([]int16, 4)
	p.Read(buf)
	if p.Underruns() != 0 {
		t.Fatalf("Underruns = %d before playback", p.Underruns())
	}

	p.Enqueue(audio.Chunk{Samples: []int16{7, 7}})
	p.Read(buf)
	want := []int16{7, 7, 0, 0}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf = %v, want %v", buf, want)
		}
	}
	if p.Underruns() != 1 || hooks != 1 {
		t.Errorf("Underruns = %d, hooks = %d, want 1, 1", p.Underruns(), hooks)
	}

	// Continued starvation is one underrun, not one per read.
	p.Read(buf)
	if p.Underruns() != 1 {
		t.Errorf("Underruns = %d after repeated empty read", p.Underruns())
	}

	// Resume is clean.
	p.Enqueue(audio.Chunk{Samples: []int16{1, 2, 3, 4}})
	p.Read(buf)
	for i, s := range []int16{1, 2, 3, 4} {
		if buf[i] != s {
			t.Fatalf("resume buf = %v", buf)
		}
	}
}

func TestPlayer_InterruptFlushes(t *testing.T) {
	t.Parallel()

	p := audio.NewPlayer()
	p.Enqueue(audio.Chunk{Samples: ramp(1, 10)})
	p.Enqueue(audio.Chunk{Samples: ramp(11, 10)})

	buf := make([]int16, 4)
	p.Read(buf)
	if !p.Playing() {
		t.Fatal("Playing() = false with queued audio")
	}

	p.Interrupt()
	if p.Playing() || p.Queued() != 0 {
		t.Fatalf("queue not empty after Interrupt: %d", p.Queued())
	}
	p.Read(buf)
	for _, s := range buf {
		if s != 0 {
			t.Fatalf("buf = %v after Interrupt, want silence", buf)
		}
	}
	if p.Interrupts() != 1 {
		t.Errorf("Interrupts = %d, want 1", p.Interrupts())
	}
}

func TestPlayer_EmptyChunkIgnored(t *testing.T) {
	t.Parallel()

	p := audio.NewPlayer()
	p.Enqueue(audio.Chunk{})
	if p.Playing() {
		t.Error("empty chunk made the player busy")
	}
}

func TestPlayer_AmplitudeDoesNotConsume(t *testing.T) {
	t.Parallel()

	p := audio.NewPlayer()
	if a := p.Amplitude(); len(a) != audio.Bins {
		t.Fatalf("len(Amplitude) = %d, want %d", len(a), audio.Bins)
	}

	p.Enqueue(audio.Chunk{Samples: sine(8, audio.FFTSize*2)})
	before := p.Queued()
	_ = p.Amplitude()
	if p.Queued() != before {
		t.Fatal("Amplitude changed the queue")
	}

	buf := make([]int16, audio.FFTSize)
	p.Read(buf)
	amp := p.Amplitude()
	peak := 0
	for i := range amp {
		if amp[i] > amp[peak] {
			peak = i
		}
	}
	if peak != 8 {
		t.Errorf("peak bin = %d, want 8", peak)
	}
}

func TestSpectrum(t *testing.T) {
	t.Parallel()

	t.Run("silence", func(t *testing.T) {
		t.Parallel()
		for i, v := range audio.Spectrum(make([]int16, audio.FFTSize)) {
			if v != 0 {
				t.Fatalf("bin %d = %f, want 0", i, v)
			}
		}
	})

	t.Run("bounded", func(t *testing.T) {
		t.Parallel()
		in := make([]int16, audio.FFTSize)
		for i := range in {
			in[i] = math.MaxInt16
			if i%2 == 1 {
				in[i] = math.MinInt16
			}
		}
		for i, v := range audio.Spectrum(in) {
			if v < 0 || v > 1 {
				t.Fatalf("bin %d = %f out of range", i, v)
			}
		}
	})

	t.Run("short input", func(t *testing.T) {
		t.Parallel()
		if got := len(audio.Spectrum([]int16{1, 2, 3})); got != audio.Bins {
			t.Fatalf("len = %d", got)
		}
	})
}

// sine returns n samples of a half-scale sine completing cycles periods per
// FFTSize samples.
func sine(cycles, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(16000 * math.Sin(2*math.Pi*float64(cycles)*float64(i)/audio.FFTSize))
	}
	return out
}
