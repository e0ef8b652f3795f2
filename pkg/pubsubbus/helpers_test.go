package pubsubbus_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	vkit "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-busrelay/pkg/pubsubbus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// fakeProject is a Pub/Sub project served by an in-process pstest server.
type fakeProject struct {
	id     string
	srv        *pstest.Server
	client     *pubsub.Client
	subscriber *vkit.SubscriberClient
	ns         *pubsubbus.Namespace
}

func newFakeProject(t *testing.T, projectID string) *fakeProject {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	opts := []option.ClientOption{option.WithGRPCConn(conn)}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	subscriber, err := vkit.NewSubscriberClient(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = subscriber.Close() })

	cfg := pubsubbus.NewConfigDefaults(projectID)
	cfg.PullTimeout = 0
	cfg.PublishTimeout = 5 * time.Second

	return &fakeProject{
		id:         projectID,
		srv:        srv,
		client:     client,
		subscriber: subscriber,
		ns:         pubsubbus.NewNamespaceFromClients(cfg, client, subscriber, zerolog.Nop()),
	}
}

// createQueue creates a labelled queue topic and its paired subscription.
func (p *fakeProject) createQueue(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	topic, err := p.client.CreateTopicWithConfig(ctx, id, &pubsub.TopicConfig{
		Labels: map[string]string{pubsubbus.DefaultQueueLabel: pubsubbus.QueueLabelValue},
	})
	require.NoError(t, err)
	_, err = p.client.CreateSubscription(ctx, id, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
}

func (p *fakeProject) createTopic(t *testing.T, id string, subs ...string) {
	t.Helper()
	ctx := context.Background()
	topic, err := p.client.CreateTopic(ctx, id)
	require.NoError(t, err)
	for _, s := range subs {
		_, err = p.client.CreateSubscription(ctx, s, pubsub.SubscriptionConfig{Topic: topic})
		require.NoError(t, err)
	}
}

// publish sends one message directly and returns the server-assigned id.
func (p *fakeProject) publish(t *testing.T, topicID string, msg *pubsub.Message) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	topic := p.client.Topic(topicID)
	topic.EnableMessageOrdering = msg.OrderingKey != ""
	defer topic.Stop()
	id, err := topic.Publish(ctx, msg).Get(ctx)
	require.NoError(t, err)
	return id
}

// messagesOn returns every message the server accepted on topicID.
func (p *fakeProject) messagesOn(topicID string) []*pstest.Message {
	var out []*pstest.Message
	for _, m := range p.srv.Messages() {
		if strings.HasSuffix(m.Topic, "/topics/"+topicID) {
			out = append(out, m)
		}
	}
	return out
}
