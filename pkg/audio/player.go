package audio

import (
	"sync"
	"sync/atomic"
)

// Player is the ordered playback queue between the AI service and the output
// device.
//
// The device pulls samples with [Player.Read]; chunks are drained in arrival
// order and partial chunks are carried across reads. When the queue runs dry
// Read fills with silence so playback pauses and resumes cleanly.
//
// All methods are safe for concurrent use.
type Player struct {
	mu      sync.Mutex
	queue   [][]int16
	head    []int16 // remainder of the chunk currently being played
	queued  int     // total samples in head + queue
	window  [FFTSize]int16
	wpos    int
	wfilled bool

	underruns   atomic.Int64
	interrupts  atomic.Int64
	onUnderrun  func()
	wasStarving bool
}

// PlayerOption configures a [Player].
type PlayerOption func(*Player)

// WithUnderrunHook registers fn to be called once each time the device pulls
// from an empty queue after audio had been playing.
func WithUnderrunHook(fn func()) PlayerOption {
	return func(p *Player) { p.onUnderrun = fn }
}

// NewPlayer creates an empty Player.
func NewPlayer(opts ...PlayerOption) *Player {
	p := &Player{wasStarving: true}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Enqueue appends c to the playback queue. The Player takes ownership of
// c.Samples. Empty chunks are ignored.
func (p *Player) Enqueue(c Chunk) {
	if len(c.Samples) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, c.Samples)
	p.queued += len(c.Samples)
	p.mu.Unlock()
}

// Read fills buf with the next queued samples, padding with silence when the
// queue does not hold enough. It always returns len(buf) so it can back a
// pull-based device stream directly.
func (p *Player) Read(buf []int16) (int, error) {
	p.mu.Lock()
	n := 0
	for n < len(buf) {
		if len(p.head) == 0 {
			if len(p.queue) == 0 {
				break
			}
			p.head = p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
		}
		c := copy(buf[n:], p.head)
		p.head = p.head[c:]
		n += c
	}
	p.queued -= n
	p.record(buf[:n])

	starving := n < len(buf)
	notify := starving && !p.wasStarving
	p.wasStarving = starving
	hook := p.onUnderrun
	p.mu.Unlock()

	clear(buf[n:])
	if notify {
		p.underruns.Add(1)
		if hook != nil {
			hook()
		}
	}
	return len(buf), nil
}

// record copies played samples into the amplitude ring. Caller holds mu.
func (p *Player) record(samples []int16) {
	if len(samples) >= FFTSize {
		copy(p.window[:], samples[len(samples)-FFTSize:])
		p.wpos = 0
		p.wfilled = true
		return
	}
	for _, s := range samples {
		p.window[p.wpos] = s
		p.wpos++
		if p.wpos == FFTSize {
			p.wpos = 0
			p.wfilled = true
		}
	}
}

// Interrupt discards everything queued, including the remainder of the chunk
// being played. Subsequent reads produce silence until new chunks arrive.
func (p *Player) Interrupt() {
	p.mu.Lock()
	p.queue = nil
	p.head = nil
	p.queued = 0
	p.window = [FFTSize]int16{}
	p.wpos = 0
	p.wfilled = false
	p.mu.Unlock()
	p.interrupts.Add(1)
}

// Playing reports whether queued audio remains.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued > 0
}

// Queued returns the number of samples waiting to be played.
func (p *Player) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued
}

// Underruns returns how many times playback starved after audio had been
// flowing.
func (p *Player) Underruns() int64 { return p.underruns.Load() }

// Interrupts returns how many times the queue was flushed.
func (p *Player) Interrupts() int64 { return p.interrupts.Load() }

// Amplitude returns the magnitude spectrum of the most recently played
// [FFTSize] samples. See [Spectrum].
func (p *Player) Amplitude() []float64 {
	var win [FFTSize]int16
	p.mu.Lock()
	if p.wfilled {
		// Unroll the ring so the oldest sample comes first.
		n := copy(win[:], p.window[p.wpos:])
		copy(win[n:], p.window[:p.wpos])
	} else {
		copy(win[FFTSize-p.wpos:], p.window[:p.wpos])
	}
	p.mu.Unlock()
	return Spectrum(win[:])
}
