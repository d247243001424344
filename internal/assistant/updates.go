package assistant

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/jobvoice/internal/observe"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s"
)

// TranscriptEntry is one line of the conversation history.
type TranscriptEntry struct {
	Source  s2s.Speaker `json:"source"`
	Text    string      `json:"text"`
	IsFinal bool        `json:"isFinal"`
	At      time.Time   `json:"at"`
}

// UpdateKind discriminates [Update].
type UpdateKind string

const (
	UpdateState      UpdateKind = "state"
	UpdateTranscript UpdateKind = "transcript"
)

// Update is pushed to every subscriber when the state changes or the
// transcript grows.
type Update struct {
	Kind       UpdateKind       `json:"kind"`
	State      State            `json:"state,omitempty"`
	Error      string           `json:"error,omitempty"`
	Transcript *TranscriptEntry `json:"transcript,omitempty"`
}

// transcript accumulates the conversation. A speaker's latest partial entry is
// revised in place until its final version lands, even when the other speaker
// has been transcribed in between.
type transcript struct {
	mu      sync.RWMutex
	entries []TranscriptEntry
	max     int
}

func (t *transcript) add(e TranscriptEntry) TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		prev := &t.entries[i]
		if prev.Source != e.Source {
			continue
		}
		if !prev.IsFinal {
			*prev = e
			return e
		}
		break
	}
	t.entries = append(t.entries, e)
	if t.max > 0 && len(t.entries) > t.max {
		t.entries = append(t.entries[:0:0], t.entries[len(t.entries)-t.max:]...)
	}
	return e
}

func (t *transcript) snapshot() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]TranscriptEntry(nil), t.entries...)
}

// hub fans updates out to subscribers. A subscriber that falls behind loses
// updates rather than stalling the session.
type hub struct {
	mu      sync.Mutex
	subs    map[chan Update]struct{}
	buf     int
	metrics *observe.Metrics
}

func (h *hub) subscribe() (<-chan Update, func()) {
	ch := make(chan Update, h.buf)
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[chan Update]struct{})
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	h.metrics.EventSubscribers.Add(context.Background(), 1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
			h.metrics.EventSubscribers.Add(context.Background(), -1)
		})
	}
}

func (h *hub) publish(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
