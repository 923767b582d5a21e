package core

import (
	"sync"

	"github.com/samber/lo"
)

// Notifier routes pings to the personal notification sessions of identities.
type Notifier struct {
	mu   sync.RWMutex
	subs map[int64]map[*Session]struct{}
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int64]map[*Session]struct{})}
}

// Subscribe registers a notification session.
func (n *Notifier) Subscribe(s *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set, ok := n.subs[s.Identity.ID]
	if !ok {
		set = make(map[*Session]struct{})
		n.subs[s.Identity.ID] = set
	}
	set[s] = struct{}{}
}

// Unsubscribe removes a notification session.
func (n *Notifier) Unsubscribe(s *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set, ok := n.subs[s.Identity.ID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(n.subs, s.Identity.ID)
	}
}

// Ping enqueues ev on every notification session of identityID. An identity
// with no session is a no-op.
func (n *Notifier) Ping(identityID int64, ev Event) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	delivered := 0
	for s := range n.subs[identityID] {
		if s.enqueue(ev) {
			delivered++
		}
	}
	return delivered
}

// PingAll enqueues ev on every registered session.
func (n *Notifier) PingAll(ev Event) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	delivered := 0
	for _, set := range n.subs {
		for s := range set {
			if s.enqueue(ev) {
				delivered++
			}
		}
	}
	return delivered
}

// Notify pings every member of room except the author.
func (n *Notifier) Notify(room string, author int64, members []int64) int {
	delivered := 0
	for _, id := range lo.Without(members, author) {
		delivered += n.Ping(id, NotificationPing{Room: room, From: author})
	}
	return delivered
}
