package membus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"github.com/illmade-knight/go-busrelay/pkg/types"
)

// OpenHandles returns the number of receivers, senders, browse handles and
// sessions that have been opened and not yet closed.
func (n *Namespace) OpenHandles() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.open
}

// leaseSet tracks the lock tokens an endpoint holds so they can be abandoned
// when it closes.
type leaseSet map[string]struct{}

func (n *Namespace) wrap(e *entity, set leaseSet, leases []lease) []*types.ReceivedMessage {
	out := make([]*types.ReceivedMessage, 0, len(leases))
	for _, l := range leases {
		token := l.token
		set[token] = struct{}{}
		out = append(out, &types.ReceivedMessage{
			PublishMessage: l.msg,
			Complete: func(_ context.Context) error {
				n.mu.Lock()
				defer n.mu.Unlock()
				if err := n.check(OpComplete, e.path); err != nil {
					return err
				}
				if _, ok := e.inflight[token]; !ok {
					return fmt.Errorf("complete on %s: %w", e.path, ErrLockLost)
				}
				delete(e.inflight, token)
				delete(set, token)
				return nil
			},
		})
	}
	return out
}

func (set leaseSet) tokens() []string {
	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	return tokens
}

// receiver is a peek-lock receiver on a queue or subscription. Receives never
// block: an entity with nothing available returns an empty batch at once.
type receiver struct {
	ns     *Namespace
	e      *entity
	path   string
	leases leaseSet
	closed bool
}

// newReceiver must be called with n.mu held.
func newReceiver(n *Namespace, e *entity, path string) *receiver {
	n.open++
	return &receiver{ns: n, e: e, path: path, leases: make(leaseSet)}
}

func (r *receiver) Path() string { return r.path }

func (r *receiver) ReceiveBatch(_ context.Context, maxCount int, _ time.Duration) ([]*types.ReceivedMessage, error) {
	r.ns.mu.Lock()
	defer r.ns.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if err := r.ns.check(OpReceive, r.path); err != nil {
		return nil, err
	}
	if r.e.requiresSession {
		return nil, fmt.Errorf("receive from %s: %w", r.path, ErrSessionRequired)
	}
	return r.ns.wrap(r.e, r.leases, r.e.take(maxCount, "", true)), nil
}

func (r *receiver) BrowseSessions(_ context.Context) ([]relay.SessionHandle, error) {
	r.ns.mu.Lock()
	defer r.ns.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if err := r.ns.check(OpBrowse, r.path); err != nil {
		return nil, err
	}
	if !r.e.requiresSession {
		return nil, fmt.Errorf("browse sessions on %s: %w", r.path, ErrSessionsDisabled)
	}

	ids := r.e.activeSessions()
	handles := make([]relay.SessionHandle, 0, len(ids))
	for _, id := range ids {
		if r.e.sessionLocks[id] {
			continue
		}
		r.e.sessionLocks[id] = true
		r.ns.open++
		handles = append(handles, &browseHandle{ns: r.ns, e: r.e, id: id})
	}
	return handles, nil
}

func (r *receiver) AcceptSession(_ context.Context, sessionID string, _ time.Duration) (relay.Session, error) {
	r.ns.mu.Lock()
	defer r.ns.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if err := r.ns.check(OpAccept, r.path); err != nil {
		return nil, err
	}
	if !r.e.requiresSession {
		return nil, fmt.Errorf("accept session on %s: %w", r.path, ErrSessionsDisabled)
	}
	if r.e.sessionLocks[sessionID] {
		return nil, fmt.Errorf("accept session %q on %s: %w", sessionID, r.path, ErrSessionLocked)
	}
	r.e.sessionLocks[sessionID] = true
	r.ns.open++
	return &session{ns: r.ns, e: r.e, path: r.path, id: sessionID, leases: make(leaseSet)}, nil
}

func (r *receiver) Close() error {
	r.ns.mu.Lock()
	defer r.ns.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.ns.open--
	r.e.abandon(r.leases.tokens())
	return nil
}

// browseHandle holds a session lock without receiving from it.
type browseHandle struct {
	ns     *Namespace
	e      *entity
	id     string
	closed bool
}

func (h *browseHandle) SessionID() string { return h.id }

func (h *browseHandle) Close() error {
	h.ns.mu.Lock()
	defer h.ns.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.ns.open--
	delete(h.e.sessionLocks, h.id)
	return nil
}

// session is an exclusive receiver on one session id.
type session struct {
	ns     *Namespace
	e      *entity
	path   string
	id     string
	leases leaseSet
	closed bool
}

func (s *session) SessionID() string { return s.id }

func (s *session) ReceiveBatch(_ context.Context, maxCount int, _ time.Duration) ([]*types.ReceivedMessage, error) {
	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.ns.check(OpReceive, s.path); err != nil {
		return nil, err
	}
	return s.ns.wrap(s.e, s.leases, s.e.take(maxCount, s.id, false)), nil
}

func (s *session) Close() error {
	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ns.open--
	s.e.abandon(s.leases.tokens())
	delete(s.e.sessionLocks, s.id)
	return nil
}

// sender publishes to a queue or a topic.
type sender struct {
	ns     *Namespace
	path   string
	closed bool
	once   sync.Once
}

// newSender must be called with n.mu held.
func newSender(n *Namespace, path string) *sender {
	n.open++
	return &sender{ns: n, path: path}
}

func (s *sender) Send(_ context.Context, msg types.PublishMessage) error {
	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.ns.check(OpSend, s.path); err != nil {
		return err
	}
	if q := s.ns.queue(s.path); q != nil {
		return q.enqueue(msg)
	}
	if t := s.ns.topic(s.path); t != nil {
		return s.ns.fanOut(t, msg)
	}
	return fmt.Errorf("entity %s: %w", s.path, ErrEntityNotFound)
}

func (s *sender) Close() error {
	s.once.Do(func() {
		s.ns.mu.Lock()
		defer s.ns.mu.Unlock()
		s.closed = true
		s.ns.open--
	})
	return nil
}
