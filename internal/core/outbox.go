package core

import "sync"

// outbox is the bounded per-session queue between the router and the writer lane.
// push never blocks. When full, the oldest non-critical event makes room; a
// critical event that finds only critical events queued goes past capacity.
type outbox struct {
	mu       sync.Mutex
	items    []Event
	capacity int
	closed   bool
	dropped  int
	ready    chan struct{}
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{
		items:    make([]Event, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// push enqueues ev and reports whether the outbox still accepts events.
func (o *outbox) push(ev Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}

	if len(o.items) >= o.capacity {
		victim := -1
		for i, queued := range o.items {
			if !critical(queued) {
				victim = i
				break
			}
		}
		switch {
		case victim >= 0:
			o.items = append(o.items[:victim], o.items[victim+1:]...)
			o.dropped++
		case !critical(ev):
			o.dropped++
			return true
		}
	}

	o.items = append(o.items, ev)

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return true
}

// pop removes the oldest event.
func (o *outbox) pop() (Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.items) == 0 {
		return nil, false
	}
	ev := o.items[0]
	o.items[0] = nil
	o.items = o.items[1:]
	return ev, true
}

// close discards everything queued and rejects further pushes.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.items = nil
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func (o *outbox) droppedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
