package pubsubbus_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-busrelay/pkg/logging"
	"github.com/illmade-knight/go-busrelay/pkg/pubsubbus"
	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespace_ListsQueuesTopicsAndSubscriptions(t *testing.T) {
	// Arrange
	ctx := context.Background()
	p := newFakeProject(t, "list-project")
	p.createQueue(t, "orders")
	p.createTopic(t, "events", "audit", "billing")

	// Act
	queues, err := p.ns.ListQueues(ctx)
	require.NoError(t, err)
	topics, err := p.ns.ListTopics(ctx)
	require.NoError(t, err)
	subs, err := p.ns.ListSubscriptions(ctx, "events")
	require.NoError(t, err)

	// Assert
	require.Len(t, queues, 1)
	assert.Equal(t, types.EntityDescriptor{Path: "orders", Kind: types.KindQueue}, queues[0])
	require.Len(t, topics, 1)
	assert.Equal(t, "events", topics[0].Path)
	assert.Equal(t, types.KindTopic, topics[0].Kind)

	var names []string
	for _, s := range subs {
		names = append(names, s.Path)
		assert.Equal(t, "events", s.ParentPath)
		assert.False(t, s.RequiresSession)
	}
	assert.ElementsMatch(t, []string{"audit", "billing"}, names)
	assert.Equal(t, "pubsub:list-project", p.ns.Name())
}

func TestNamespace_OpenMissingEntities(t *testing.T) {
	ctx := context.Background()
	p := newFakeProject(t, "missing-project")

	_, err := p.ns.OpenQueueReceiver(ctx, "nope")
	assert.ErrorContains(t, err, "does not exist")
	_, err = p.ns.OpenTopicSender(ctx, "nope")
	assert.ErrorContains(t, err, "does not exist")
}

func TestReceiver_ReceiveBatchAndComplete(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	p := newFakeProject(t, "recv-project")
	p.createQueue(t, "orders")
	firstID := p.publish(t, "orders", &pubsub.Message{Data: []byte("one"), Attributes: map[string]string{"k": "v"}})
	p.publish(t, "orders", &pubsub.Message{
		Data:       []byte("two"),
		Attributes: map[string]string{pubsubbus.SourceMessageIDAttribute: "origin-42"},
	})

	rcv, err := p.ns.OpenQueueReceiver(ctx, "orders")
	require.NoError(t, err)
	defer rcv.Close()

	// Act
	var batch []*types.ReceivedMessage
	deadline := time.Now().Add(5 * time.Second)
	for len(batch) < 2 && time.Now().Before(deadline) {
		more, err := rcv.ReceiveBatch(ctx, 10, 200*time.Millisecond)
		require.NoError(t, err)
		batch = append(batch, more...)
	}
	require.Len(t, batch, 2)

	// Assert
	byBody := map[string]*types.ReceivedMessage{}
	for _, m := range batch {
		byBody[string(m.Payload)] = m
	}
	assert.Equal(t, firstID, byBody["one"].ID)
	assert.Equal(t, "v", byBody["one"].Attributes["k"])
	assert.Equal(t, "origin-42", byBody["two"].ID, "the origin id survives a second hop")
	assert.Nil(t, byBody["two"].Attributes)

	for _, m := range batch {
		require.NoError(t, m.Complete(ctx))
	}
	for _, m := range p.messagesOn("orders") {
		assert.Equal(t, 1, m.Acks)
	}

	empty, err := rcv.ReceiveBatch(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, empty, "a pull that times out is an empty batch")
}

func TestReceiver_EmptyReceiveHonoursWait(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	p := newFakeProject(t, "wait-project")
	p.createQueue(t, "idle")

	cfg := pubsubbus.NewConfigDefaults(p.id)
	cfg.PullTimeout = 5 * time.Second
	ns := pubsubbus.NewNamespaceFromClients(cfg, p.client, p.subscriber, zerolog.Nop())
	rcv, err := ns.OpenQueueReceiver(ctx, "idle")
	require.NoError(t, err)
	defer rcv.Close()

	// Act
	start := time.Now()
	batch, err := rcv.ReceiveBatch(ctx, 10, 100*time.Millisecond)
	elapsed := time.Since(start)

	// Assert
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.Less(t, elapsed, 2*time.Second, "an empty receive must not outlast the requested wait by the pull timeout")
}

func TestReceiver_SessionsUnsupported(t *testing.T) {
	ctx := context.Background()
	p := newFakeProject(t, "session-project")
	p.createQueue(t, "orders")
	rcv, err := p.ns.OpenQueueReceiver(ctx, "orders")
	require.NoError(t, err)

	_, err = rcv.BrowseSessions(ctx)
	assert.ErrorIs(t, err, relay.ErrSessionsUnsupported)
	_, err = rcv.AcceptSession(ctx, "s1", time.Millisecond)
	assert.ErrorIs(t, err, relay.ErrSessionsUnsupported)
}

func TestSender_Send(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	p := newFakeProject(t, "send-project")
	p.createTopic(t, "events", "mirror")

	snd, err := p.ns.OpenTopicSender(ctx, "events")
	require.NoError(t, err)
	err = snd.Send(ctx, types.PublishMessage{
		ID:         "m-1",
		SessionID:  "device-7",
		Payload:    []byte("payload"),
		Attributes: map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	require.NoError(t, snd.Close())

	msgs := p.messagesOn("events")
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("payload"), msgs[0].Data)
	assert.Equal(t, "device-7", msgs[0].OrderingKey)
	assert.Equal(t, "v", msgs[0].Attributes["k"])
	assert.Equal(t, "m-1", msgs[0].Attributes[pubsubbus.SourceMessageIDAttribute])
}

func TestRelay_BetweenProjects(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	src := newFakeProject(t, "source-project")
	dst := newFakeProject(t, "destination-project")
	src.createQueue(t, "orders")
	src.createTopic(t, "events", "audit", "billing")
	src.createTopic(t, "unmatched", "all")
	dst.createQueue(t, "orders")
	dst.createTopic(t, "events", "mirror")

	orderIDs := []string{
		src.publish(t, "orders", &pubsub.Message{Data: []byte("o1")}),
		src.publish(t, "orders", &pubsub.Message{Data: []byte("o2")}),
	}
	eventID := src.publish(t, "events", &pubsub.Message{Data: []byte("e1")})
	src.publish(t, "unmatched", &pubsub.Message{Data: []byte("u1")})

	cfg := relay.NewConfigDefaults()
	cfg.WaitTimeout = 100 * time.Millisecond
	r, err := relay.New(cfg, src.ns, dst.ns, logging.Nop{}, relay.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	// Act
	r.Run(ctx)

	// Assert
	summary := r.LastSummary()
	require.NotNil(t, summary)
	assert.Empty(t, summary.Error)
	assert.Equal(t, 3, summary.MessagesForwarded)
	assert.Equal(t, 1, summary.DuplicatesSuppressed)
	assert.Equal(t, 1, summary.TopicsSkipped)

	var relayedOrders []string
	for _, m := range dst.messagesOn("orders") {
		relayedOrders = append(relayedOrders, m.Attributes[pubsubbus.SourceMessageIDAttribute])
	}
	assert.ElementsMatch(t, orderIDs, relayedOrders)

	events := dst.messagesOn("events")
	require.Len(t, events, 1, "the fan-out copy is published once")
	assert.Equal(t, eventID, events[0].Attributes[pubsubbus.SourceMessageIDAttribute])

	for _, m := range src.messagesOn("orders") {
		assert.Equal(t, 1, m.Acks)
	}
	assert.Equal(t, 2, src.messagesOn("events")[0].Acks, "both subscriptions acknowledge their copy")
	assert.Equal(t, 0, src.messagesOn("unmatched")[0].Acks)
}
