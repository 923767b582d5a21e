package core

import "sync"

type topic struct {
	mu     sync.Mutex
	subs   map[*Session]struct{}
	closed bool
}

// Router fans room events out to subscribed sessions. Each room has its own
// topic lock; Publish holds it while enqueueing, so every subscriber observes
// events of a room in one total order. Enqueueing never blocks.
//
// Topics are created on first subscription and removed only by Drop, which
// leaves a closed tombstone so a late subscriber cannot revive a deleted room.
type Router struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{topics: make(map[string]*topic)}
}

func (r *Router) topic(room string, create bool) *topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[room]
	if !ok && create {
		t = &topic{subs: make(map[*Session]struct{})}
		r.topics[room] = t
	}
	return t
}

// Subscribe adds s to the room topic. It returns false if the room was dropped.
func (r *Router) Subscribe(room string, s *Session) bool {
	t := r.topic(room, true)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.subs[s] = struct{}{}
	return true
}

// Unsubscribe removes s from the room topic.
func (r *Router) Unsubscribe(room string, s *Session) {
	t := r.topic(room, false)
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.subs, s)
	t.mu.Unlock()
}

// Publish enqueues ev on every session subscribed to room at call time and
// returns how many sessions accepted it.
func (r *Router) Publish(room string, ev Event) int {
	t := r.topic(room, false)
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	delivered := 0
	for s := range t.subs {
		if s.enqueue(ev) {
			delivered++
		}
	}
	return delivered
}

// Evict unsubscribes every session of identityID from room and returns them.
func (r *Router) Evict(room string, identityID int64) []*Session {
	t := r.topic(room, false)
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []*Session
	for s := range t.subs {
		if s.Identity.ID == identityID {
			delete(t.subs, s)
			evicted = append(evicted, s)
		}
	}
	return evicted
}

// Drop closes the room topic and returns the sessions that were subscribed.
func (r *Router) Drop(room string) []*Session {
	t := r.topic(room, true)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	dropped := make([]*Session, 0, len(t.subs))
	for s := range t.subs {
		dropped = append(dropped, s)
	}
	t.subs = make(map[*Session]struct{})
	return dropped
}

// Subscribers returns the number of sessions subscribed to room.
func (r *Router) Subscribers(room string) int {
	t := r.topic(room, false)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
