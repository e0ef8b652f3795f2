// Package membus is an in-memory broker namespace with queues, topics,
// subscriptions and sessions. Received messages are peek-locked until they are
// completed; closing a receiver abandons its uncompleted messages back to the
// entity.
package membus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"github.com/illmade-knight/go-busrelay/pkg/types"
)

var (
	ErrEntityNotFound    = errors.New("entity not found")
	ErrEntityExists      = errors.New("entity already exists")
	ErrSessionLocked     = errors.New("session is locked by another receiver")
	ErrSessionRequired   = errors.New("entity requires a session")
	ErrSessionsDisabled  = errors.New("entity does not require sessions")
	ErrSessionIDRequired = errors.New("message must carry a session id")
	ErrClosed            = errors.New("endpoint is closed")
	ErrLockLost          = errors.New("message lock lost")
)

// Op names an operation that can be failed with SetFault.
type Op string

const (
	OpList     Op = "list"
	OpOpen     Op = "open"
	OpReceive  Op = "receive"
	OpBrowse   Op = "browse"
	OpAccept   Op = "accept"
	OpSend     Op = "send"
	OpComplete Op = "complete"
)

// FaultFunc is consulted before every operation; a non-nil error fails it.
type FaultFunc func(op Op, path string) error

type stored struct {
	seq int64
	msg types.PublishMessage
}

type entity struct {
	path            string
	requiresSession bool
	available       []*stored
	inflight        map[string]*stored
	sessionLocks    map[string]bool
	nextSeq         int64
}

func newEntity(path string, requiresSession bool) *entity {
	return &entity{
		path:            path,
		requiresSession: requiresSession,
		inflight:        make(map[string]*stored),
		sessionLocks:    make(map[string]bool),
	}
}

type topic struct {
	path      string
	subs      []*entity
	published []types.PublishMessage
}

func (t *topic) subscription(name string) *entity {
	for _, s := range t.subs {
		if s.path == name {
			return s
		}
	}
	return nil
}

// Namespace is an in-memory relay.Namespace. It is safe for concurrent use.
type Namespace struct {
	mu     sync.Mutex
	name   string
	queues []*entity
	topics []*topic
	fault  FaultFunc
	open   int
}

// New creates an empty namespace.
func New(name string) *Namespace {
	return &Namespace{name: name}
}

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.name }

// SetFault installs f to inject failures; nil removes it.
func (n *Namespace) SetFault(f FaultFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fault = f
}

// check must be called with n.mu held.
func (n *Namespace) check(op Op, path string) error {
	if n.fault == nil {
		return nil
	}
	return n.fault(op, path)
}

// --- Administration ---

// CreateQueue adds a queue.
func (n *Namespace) CreateQueue(path string, requiresSession bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.queue(path) != nil {
		return fmt.Errorf("queue %s: %w", path, ErrEntityExists)
	}
	n.queues = append(n.queues, newEntity(path, requiresSession))
	return nil
}

// DeleteQueue removes a queue and its messages.
func (n *Namespace) DeleteQueue(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, q := range n.queues {
		if q.path == path {
			n.queues = append(n.queues[:i], n.queues[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("queue %s: %w", path, ErrEntityNotFound)
}

// QueueExists reports whether the queue exists.
func (n *Namespace) QueueExists(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.queue(path) != nil
}

// CreateTopic adds a topic without subscriptions.
func (n *Namespace) CreateTopic(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.topic(path) != nil {
		return fmt.Errorf("topic %s: %w", path, ErrEntityExists)
	}
	n.topics = append(n.topics, &topic{path: path})
	return nil
}

// TopicExists reports whether the topic exists.
func (n *Namespace) TopicExists(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.topic(path) != nil
}

// CreateSubscription adds a subscription to an existing topic. Only messages
// published after this call are delivered to it.
func (n *Namespace) CreateSubscription(topicPath, name string, requiresSession bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := n.topic(topicPath)
	if t == nil {
		return fmt.Errorf("topic %s: %w", topicPath, ErrEntityNotFound)
	}
	if t.subscription(name) != nil {
		return fmt.Errorf("subscription %s/%s: %w", topicPath, name, ErrEntityExists)
	}
	t.subs = append(t.subs, newEntity(name, requiresSession))
	return nil
}

// Publish sends msg to the queue or topic at path. Topic messages are copied to
// every subscription. An empty ID is replaced by a generated one, which is returned.
func (n *Namespace) Publish(path string, msg types.PublishMessage) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if q := n.queue(path); q != nil {
		return msg.ID, q.enqueue(msg)
	}
	if t := n.topic(path); t != nil {
		return msg.ID, n.fanOut(t, msg)
	}
	return "", fmt.Errorf("entity %s: %w", path, ErrEntityNotFound)
}

// --- Inspection ---

// PeekQueue returns copies of the messages available on a queue.
func (n *Namespace) PeekQueue(path string) []types.PublishMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	q := n.queue(path)
	if q == nil {
		return nil
	}
	return q.peek()
}

// PeekQueueSession returns the available messages of one session of a queue.
func (n *Namespace) PeekQueueSession(path, sessionID string) []types.PublishMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	q := n.queue(path)
	if q == nil {
		return nil
	}
	return q.peekSession(sessionID)
}

// PeekSubscription returns the available messages of a subscription.
func (n *Namespace) PeekSubscription(topicPath, name string) []types.PublishMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := n.topic(topicPath)
	if t == nil {
		return nil
	}
	s := t.subscription(name)
	if s == nil {
		return nil
	}
	return s.peek()
}

// Published returns every message accepted by a topic, whether or not it had
// subscriptions at the time.
func (n *Namespace) Published(topicPath string) []types.PublishMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := n.topic(topicPath)
	if t == nil {
		return nil
	}
	out := make([]types.PublishMessage, len(t.published))
	copy(out, t.published)
	return out
}

// --- relay.Namespace ---

// ListQueues lists queues in creation order.
func (n *Namespace) ListQueues(_ context.Context) ([]types.EntityDescriptor, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(OpList, ""); err != nil {
		return nil, err
	}
	out := make([]types.EntityDescriptor, 0, len(n.queues))
	for _, q := range n.queues {
		out = append(out, types.EntityDescriptor{Path: q.path, Kind: types.KindQueue, RequiresSession: q.requiresSession})
	}
	return out, nil
}

// ListTopics lists topics in creation order.
func (n *Namespace) ListTopics(_ context.Context) ([]types.EntityDescriptor, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(OpList, ""); err != nil {
		return nil, err
	}
	out := make([]types.EntityDescriptor, 0, len(n.topics))
	for _, t := range n.topics {
		out = append(out, types.EntityDescriptor{Path: t.path, Kind: types.KindTopic})
	}
	return out, nil
}

// ListSubscriptions lists a topic's subscriptions in creation order.
func (n *Namespace) ListSubscriptions(_ context.Context, topicPath string) ([]types.EntityDescriptor, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(OpList, topicPath); err != nil {
		return nil, err
	}
	t := n.topic(topicPath)
	if t == nil {
		return nil, fmt.Errorf("topic %s: %w", topicPath, ErrEntityNotFound)
	}
	out := make([]types.EntityDescriptor, 0, len(t.subs))
	for _, s := range t.subs {
		out = append(out, types.EntityDescriptor{
			Path:            s.path,
			Kind:            types.KindSubscription,
			RequiresSession: s.requiresSession,
			ParentPath:      topicPath,
		})
	}
	return out, nil
}

// OpenQueueReceiver opens a receiver on a queue.
func (n *Namespace) OpenQueueReceiver(_ context.Context, path string) (relay.Receiver, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(OpOpen, path); err != nil {
		return nil, err
	}
	q := n.queue(path)
	if q == nil {
		return nil, fmt.Errorf("queue %s: %w", path, ErrEntityNotFound)
	}
	return newReceiver(n, q, path), nil
}

// OpenSubscriptionReceiver opens a receiver on a topic subscription.
func (n *Namespace) OpenSubscriptionReceiver(_ context.Context, topicPath, name string) (relay.Receiver, error) {
	path := topicPath + "/subscriptions/" + name
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(OpOpen, path); err != nil {
		return nil, err
	}
	t := n.topic(topicPath)
	if t == nil {
		return nil, fmt.Errorf("topic %s: %w", topicPath, ErrEntityNotFound)
	}
	s := t.subscription(name)
	if s == nil {
		return nil, fmt.Errorf("subscription %s: %w", path, ErrEntityNotFound)
	}
	return newReceiver(n, s, path), nil
}

// OpenQueueSender opens a sender on a queue.
func (n *Namespace) OpenQueueSender(_ context.Context, path string) (relay.Sender, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(OpOpen, path); err != nil {
		return nil, err
	}
	if n.queue(path) == nil {
		return nil, fmt.Errorf("queue %s: %w", path, ErrEntityNotFound)
	}
	return newSender(n, path), nil
}

// OpenTopicSender opens a sender on a topic.
func (n *Namespace) OpenTopicSender(_ context.Context, path string) (relay.Sender, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(OpOpen, path); err != nil {
		return nil, err
	}
	if n.topic(path) == nil {
		return nil, fmt.Errorf("topic %s: %w", path, ErrEntityNotFound)
	}
	return newSender(n, path), nil
}

// --- internals; all called with n.mu held ---

func (n *Namespace) queue(path string) *entity {
	for _, q := range n.queues {
		if q.path == path {
			return q
		}
	}
	return nil
}

func (n *Namespace) topic(path string) *topic {
	for _, t := range n.topics {
		if t.path == path {
			return t
		}
	}
	return nil
}

func (n *Namespace) fanOut(t *topic, msg types.PublishMessage) error {
	for _, s := range t.subs {
		if s.requiresSession && msg.SessionID == "" {
			return fmt.Errorf("subscription %s/%s: %w", t.path, s.path, ErrSessionIDRequired)
		}
	}
	t.published = append(t.published, copyMessage(msg))
	for _, s := range t.subs {
		_ = s.enqueue(msg)
	}
	return nil
}

func (e *entity) enqueue(msg types.PublishMessage) error {
	if e.requiresSession && msg.SessionID == "" {
		return fmt.Errorf("entity %s: %w", e.path, ErrSessionIDRequired)
	}
	e.nextSeq++
	e.available = append(e.available, &stored{seq: e.nextSeq, msg: copyMessage(msg)})
	return nil
}

func (e *entity) peek() []types.PublishMessage {
	out := make([]types.PublishMessage, 0, len(e.available))
	for _, s := range e.available {
		out = append(out, copyMessage(s.msg))
	}
	return out
}

func (e *entity) peekSession(sessionID string) []types.PublishMessage {
	var out []types.PublishMessage
	for _, s := range e.available {
		if s.msg.SessionID == sessionID {
			out = append(out, copyMessage(s.msg))
		}
	}
	return out
}

// lease is a message taken into flight under a lock token.
type lease struct {
	token string
	msg   types.PublishMessage
}

// take moves up to max available messages into flight. When anySession is
// false only messages of sessionID are taken.
func (e *entity) take(max int, sessionID string, anySession bool) []lease {
	var (
		taken []lease
		kept  []*stored
	)
	for _, s := range e.available {
		if len(taken) < max && (anySession || s.msg.SessionID == sessionID) {
			token := uuid.NewString()
			e.inflight[token] = s
			taken = append(taken, lease{token: token, msg: copyMessage(s.msg)})
			continue
		}
		kept = append(kept, s)
	}
	e.available = kept
	return taken
}

// activeSessions returns the distinct session ids of available messages in
// first-seen order.
func (e *entity) activeSessions() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range e.available {
		if !seen[s.msg.SessionID] {
			seen[s.msg.SessionID] = true
			ids = append(ids, s.msg.SessionID)
		}
	}
	return ids
}

// abandon returns in-flight messages to the front of the entity.
func (e *entity) abandon(tokens []string) {
	var back []*stored
	for _, token := range tokens {
		if s, ok := e.inflight[token]; ok {
			back = append(back, s)
			delete(e.inflight, token)
		}
	}
	sort.Slice(back, func(i, j int) bool { return back[i].seq < back[j].seq })
	e.available = append(back, e.available...)
}

func copyMessage(m types.PublishMessage) types.PublishMessage {
	rm := types.ReceivedMessage{PublishMessage: m}
	return rm.Clone()
}
