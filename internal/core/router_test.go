package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func bareSession(room string, id int64) *Session {
	s := newSession(&Hub{opts: DefaultOptions()}, Identity{ID: id}, room, KindRoom)
	s.activate()
	return s
}

func nextID(t *testing.T, s *Session) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Next(ctx)
	require.NoError(t, err)
	return ev.(MessageCreated).Message.ID
}

func TestRouterPublishUsesSubscribersAtCallTime(t *testing.T) {
	r := NewRouter()
	a := bareSession("lobby", 1)
	b := bareSession("lobby", 2)

	require.Equal(t, 0, r.Publish("lobby", msgEvent(1)))

	require.True(t, r.Subscribe("lobby", a))
	require.Equal(t, 1, r.Publish("lobby", msgEvent(2)))

	require.True(t, r.Subscribe("lobby", b))
	require.Equal(t, 2, r.Publish("lobby", msgEvent(3)))

	require.Equal(t, int64(2), nextID(t, a))
	require.Equal(t, int64(3), nextID(t, a))
	require.Equal(t, int64(3), nextID(t, b))
}

func TestRouterTotalOrderPerRoom(t *testing.T) {
	r := NewRouter()
	opts := DefaultOptions()
	opts.QueueSize = 1000
	hub := &Hub{opts: opts}

	subs := make([]*Session, 4)
	for i := range subs {
		subs[i] = newSession(hub, Identity{ID: int64(i + 1)}, "lobby", KindRoom)
		subs[i].activate()
		r.Subscribe("lobby", subs[i])
	}

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Publish("lobby", msgEvent(int64(p*1000+i)))
			}
		}(p)
	}
	wg.Wait()

	want := popAll(subs[0].out)
	require.Len(t, want, 200)
	for _, s := range subs[1:] {
		require.Equal(t, want, popAll(s.out))
	}
}

func TestRouterEvict(t *testing.T) {
	r := NewRouter()
	a1 := bareSession("lobby", 1)
	a2 := bareSession("lobby", 1)
	b := bareSession("lobby", 2)
	for _, s := range []*Session{a1, a2, b} {
		r.Subscribe("lobby", s)
	}

	evicted := r.Evict("lobby", 1)
	require.ElementsMatch(t, []*Session{a1, a2}, evicted)
	require.Equal(t, 1, r.Subscribers("lobby"))
	require.Equal(t, 1, r.Publish("lobby", msgEvent(1)))
}

func TestRouterDropLeavesTombstone(t *testing.T) {
	r := NewRouter()
	a := bareSession("lobby", 1)
	r.Subscribe("lobby", a)

	dropped := r.Drop("lobby")
	require.Equal(t, []*Session{a}, dropped)
	require.Zero(t, r.Publish("lobby", msgEvent(1)))
	require.False(t, r.Subscribe("lobby", bareSession("lobby", 2)))
}

func TestNotifierExcludesAuthor(t *testing.T) {
	n := NewNotifier()
	author := bareSession("", 1)
	tab1 := bareSession("", 2)
	tab2 := bareSession("", 2)
	n.Subscribe(author)
	n.Subscribe(tab1)
	n.Subscribe(tab2)

	// Member 3 has no notification session.
	delivered := n.Notify("g", 1, []int64{1, 2, 3})
	require.Equal(t, 2, delivered)
	require.Zero(t, author.out.len())
	require.Equal(t, 1, tab1.out.len())
	require.Equal(t, 1, tab2.out.len())

	n.Unsubscribe(tab1)
	n.Unsubscribe(tab2)
	require.Zero(t, n.Ping(2, NotificationPing{}))
}
