package s2s

import "sync"

// Correlator tracks outstanding tool calls for one session and decides
// whether a result may still be delivered.
//
// A call belongs to the turn in which it arrived. Calls must be answered in
// arrival order; once a turn ends, its unanswered calls are stale. The zero
// value is ready to use.
type Correlator struct {
	mu      sync.Mutex
	turn    uint64
	calls   map[string]*pendingCall
	order   []string // outstanding ids of the current turn, arrival order
	dropped int
}

type pendingCall struct {
	name      string
	turn      uint64
	answered  bool
	cancelled bool
}

// Track registers a newly arrived call.
func (c *Correlator) Track(inv ToolInvocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]*pendingCall)
	}
	c.calls[inv.CorrelationID] = &pendingCall{name: inv.Name, turn: c.turn}
	c.order = append(c.order, inv.CorrelationID)
}

// Cancel marks calls withdrawn by the service.
func (c *Correlator) Cancel(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if p, ok := c.calls[id]; ok && !p.answered {
			p.cancelled = true
			c.removeLocked(id)
		}
	}
}

// EndTurn closes the current turn. Unanswered calls of that turn become stale.
func (c *Correlator) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped += len(c.order)
	c.order = nil
	c.turn++
}

// Resolve claims the right to answer id. On success it returns the tool name
// the call was made with; otherwise it returns a [*StaleCorrelationError].
func (c *Correlator) Resolve(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.calls[id]
	switch {
	case !ok:
		return "", &StaleCorrelationError{CorrelationID: id, Reason: "unknown call"}
	case p.answered:
		return "", &StaleCorrelationError{CorrelationID: id, Reason: "already answered"}
	case p.cancelled:
		return "", &StaleCorrelationError{CorrelationID: id, Reason: "cancelled by service"}
	case p.turn != c.turn:
		return "", &StaleCorrelationError{CorrelationID: id, Reason: "turn has ended"}
	case len(c.order) == 0 || c.order[0] != id:
		return "", &StaleCorrelationError{CorrelationID: id, Reason: "answered out of order"}
	}
	p.answered = true
	c.order = c.order[1:]
	return p.name, nil
}

// Pending returns the number of calls of the current turn still awaiting a
// result.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Dropped returns how many calls went unanswered because their turn ended or
// the correlator was reset.
func (c *Correlator) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Reset forgets every call. Used when the session closes.
func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped += len(c.order)
	c.order = nil
	c.calls = nil
	c.turn++
}

func (c *Correlator) removeLocked(id string) {
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
