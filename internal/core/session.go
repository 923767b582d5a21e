package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/rtchat-server/internal/proto"
)

// State is the lifecycle phase of a session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SessionKind tells what a session is attached to.
type SessionKind int

const (
	// KindRoom sessions are subscribed to one room and may post messages.
	KindRoom SessionKind = iota
	// KindOnline sessions receive OnlineStatus views of their identity.
	KindOnline
	// KindNotifications sessions receive unread summaries for their identity.
	KindNotifications
)

// Session is one live client connection. The router and the notifier push events
// into its outbox; the transport's writer lane drains it through Next or NextFrame
// while the reader lane feeds inbound frames through Receive.
type Session struct {
	ID       string
	Identity Identity
	Room     string
	Kind     SessionKind

	hub     *Hub
	state   atomic.Int32
	out     *outbox
	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
	reasonMu  sync.Mutex
	reason    error
}

func newSession(hub *Hub, identity Identity, room string, kind SessionKind) *Session {
	limit := rate.Inf
	if hub.opts.MessageRate > 0 {
		limit = rate.Limit(hub.opts.MessageRate)
	}
	s := &Session{
		ID:       uuid.NewString(),
		Identity: identity,
		Room:     room,
		Kind:     kind,
		hub:      hub,
		out:      newOutbox(hub.opts.QueueSize),
		limiter:  rate.NewLimiter(limit, max(hub.opts.MessageBurst, 1)),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is open.
func (s *Session) Err() error {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	return s.reason
}

func (s *Session) setReason(err error) {
	s.reasonMu.Lock()
	if s.reason == nil {
		s.reason = err
	}
	s.reasonMu.Unlock()
}

func (s *Session) activate() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
}

// enqueue is called by the router and the notifier. It never blocks.
func (s *Session) enqueue(ev Event) bool {
	if s.State() >= StateClosing {
		return false
	}
	return s.out.push(ev)
}

// Dropped returns how many events were discarded because the outbox was full.
func (s *Session) Dropped() int {
	return s.out.droppedCount()
}

// Next blocks until the next event is available. An event that ends the session,
// like a ban of its own identity, is returned once and closes the session; every
// later call returns the reason.
func (s *Session) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := s.out.pop(); ok {
			if end, reason := terminal(ev, s.Identity); end {
				s.setReason(reason)
				s.Close()
			}
			return ev, nil
		}

		if s.State() >= StateClosing {
			if err := s.Err(); err != nil {
				return nil, err
			}
			return nil, ErrSessionClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.out.ready:
		case <-s.done:
		}
	}
}

// NextFrame returns the next rendered outbound frame. Events the renderer
// chooses not to show to this session are skipped.
func (s *Session) NextFrame(ctx context.Context) ([]byte, error) {
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if s.Kind == KindOnline {
			// A queued event yields a fresher view; render only the last one.
			if s.out.len() > 0 {
				continue
			}
			status, err := s.hub.OnlineStatus(ctx, s.Identity)
			if err != nil {
				s.hub.log.Warn().Err(err).Str("session_id", s.ID).Msg("online status")
				continue
			}
			ev = status
		}
		frame, err := s.hub.renderer.Render(ctx, s.Identity, ev)
		if err != nil {
			s.hub.log.Warn().Err(err).Str("session_id", s.ID).Msg("render event")
			continue
		}
		if frame != nil {
			return frame, nil
		}
	}
}

// Receive decodes an inbound frame and posts its body to the room.
// Empty bodies are dropped without error.
func (s *Session) Receive(ctx context.Context, frame []byte) error {
	var in proto.Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	_, err := s.Send(ctx, in.Body)
	if errors.Is(err, ErrEmptyMessage) {
		return nil
	}
	return err
}

// Send posts a text message from this session's identity to its room.
func (s *Session) Send(ctx context.Context, body string) (*Message, error) {
	if s.State() != StateActive {
		return nil, ErrSessionClosed
	}
	if s.Kind != KindRoom {
		return nil, ErrBadRequest
	}
	body, err := s.hub.validateBody(body)
	if err != nil {
		return nil, err
	}
	if !s.limiter.Allow() {
		return nil, ErrRateLimited
	}
	return s.hub.PostMessage(ctx, s.Room, s.Identity, body)
}

// Close unregisters the session and discards its queued events. It is safe to
// call more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.out.close()
		s.setReason(ErrSessionClosed)
		s.hub.disconnect(s)
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}
