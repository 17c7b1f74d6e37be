package notify

import "sync"

// tracker maps server-assigned notification ids to their handlers and
// enforces the at-most-once delivery contract of Handler.
type tracker struct {
	mu      sync.Mutex
	entries map[uint32]*trackedEntry
}

type trackedEntry struct {
	handler Handler
	acted   bool
}

func newTracker() *tracker {
	return &tracker{entries: make(map[uint32]*trackedEntry)}
}

func (t *tracker) add(id uint32, h Handler) {
	if h == nil {
		return
	}
	t.mu.Lock()
	t.entries[id] = &trackedEntry{handler: h}
	t.mu.Unlock()
}

// claim returns the handler for id if no action has been delivered yet.
func (t *tracker) claim(id uint32) Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.acted {
		return nil
	}
	e.acted = true
	return e.handler
}

func (t *tracker) action(id uint32, key string) {
	h := t.claim(id)
	if h == nil {
		return
	}
	if key == ActionDefault {
		h.Clicked()
		return
	}
	h.Pressed(key)
}

func (t *tracker) replied(id uint32, text string) {
	if h := t.claim(id); h != nil {
		h.Replied(text)
	}
}

func (t *tracker) closed(id uint32, reason CloseReason) {
	t.mu.Lock()
	e, ok := t.entries[id]
	delete(t.entries, id)
	t.mu.Unlock()
	if ok {
		e.handler.Closed(reason)
	}
}

// closeAll delivers Closed to every live entry, used on shutdown.
func (t *tracker) closeAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint32]*trackedEntry)
	t.mu.Unlock()
	for _, e := range entries {
		e.handler.Closed(ClosedUndefined)
	}
}

func (t *tracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Action keys understood by the freedesktop notification server.
const (
	ActionDefault     = "default"
	ActionInlineReply = "inline-reply"
)
