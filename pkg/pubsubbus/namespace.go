// Package pubsubbus exposes a Google Cloud Pub/Sub project as a relay namespace.
//
// Pub/Sub has no queues, so a topic carrying the queue label (relay-kind=queue by
// default) is treated as a queue and read through the subscription with the same
// id. All other topics are topics and their subscriptions are relayed to the
// destination topic of the same id. Pub/Sub cannot lock sessions, so every entity
// is reported as not requiring one.
package pubsubbus

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	vkit "cloud.google.com/go/pubsub/apiv1"
	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Namespace is a relay.Namespace backed by one Pub/Sub project.
type Namespace struct {
	cfg        *Config
	client     *pubsub.Client
	subscriber *vkit.SubscriberClient
	owned      bool
	logger     zerolog.Logger
}

// NewNamespace connects to the project in cfg. The returned namespace owns its
// clients and must be closed.
func NewNamespace(ctx context.Context, cfg *Config, logger zerolog.Logger, opts ...option.ClientOption) (*Namespace, error) {
	if cfg == nil || cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if cfg.CredentialsFile != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, opts...)
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client for project %s: %w", cfg.ProjectID, err)
	}
	subscriber, err := vkit.NewSubscriberClient(ctx, opts...)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create pubsub subscriber client for project %s: %w", cfg.ProjectID, err)
	}

	ns := NewNamespaceFromClients(cfg, client, subscriber, logger)
	ns.owned = true
	return ns, nil
}

// NewNamespaceFromClients wraps existing clients. The caller keeps ownership of them.
func NewNamespaceFromClients(cfg *Config, client *pubsub.Client, subscriber *vkit.SubscriberClient, logger zerolog.Logger) *Namespace {
	if cfg.QueueLabel == "" {
		cfg.QueueLabel = DefaultQueueLabel
	}
	return &Namespace{
		cfg:        cfg,
		client:     client,
		subscriber: subscriber,
		logger:     logger.With().Str("component", "PubsubNamespace").Str("project_id", cfg.ProjectID).Logger(),
	}
}

// Name identifies the namespace in logs.
func (n *Namespace) Name() string {
	return "pubsub:" + n.cfg.ProjectID
}

// Close releases the clients when the namespace created them.
func (n *Namespace) Close() error {
	if !n.owned {
		return nil
	}
	return errors.Join(n.subscriber.Close(), n.client.Close())
}

// ListQueues returns the topics carrying the queue label.
func (n *Namespace) ListQueues(ctx context.Context) ([]types.EntityDescriptor, error) {
	return n.listTopics(ctx, true)
}

// ListTopics returns the topics without the queue label.
func (n *Namespace) ListTopics(ctx context.Context) ([]types.EntityDescriptor, error) {
	return n.listTopics(ctx, false)
}

func (n *Namespace) listTopics(ctx context.Context, queues bool) ([]types.EntityDescriptor, error) {
	kind := types.KindTopic
	if queues {
		kind = types.KindQueue
	}

	var out []types.EntityDescriptor
	it := n.client.Topics(ctx)
	for {
		cfg, err := it.NextConfig()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list topics in project %s: %w", n.cfg.ProjectID, err)
		}
		if n.isQueue(cfg) != queues {
			continue
		}
		out = append(out, types.EntityDescriptor{Path: cfg.ID(), Kind: kind})
	}
	return out, nil
}

func (n *Namespace) isQueue(cfg *pubsub.TopicConfig) bool {
	return cfg.Labels[n.cfg.QueueLabel] == QueueLabelValue
}

// ListSubscriptions returns the subscriptions attached to topicPath.
func (n *Namespace) ListSubscriptions(ctx context.Context, topicPath string) ([]types.EntityDescriptor, error) {
	var out []types.EntityDescriptor
	it := n.client.Topic(topicPath).Subscriptions(ctx)
	for {
		sub, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions of topic %s: %w", topicPath, err)
		}
		out = append(out, types.EntityDescriptor{
			Path:       sub.ID(),
			Kind:       types.KindSubscription,
			ParentPath: topicPath,
		})
	}
	return out, nil
}

// OpenQueueReceiver opens the subscription paired with the queue topic path.
func (n *Namespace) OpenQueueReceiver(ctx context.Context, path string) (relay.Receiver, error) {
	return n.openReceiver(ctx, path, path)
}

// OpenSubscriptionReceiver opens subscription name of topicPath.
func (n *Namespace) OpenSubscriptionReceiver(ctx context.Context, topicPath, name string) (relay.Receiver, error) {
	return n.openReceiver(ctx, topicPath+"/"+name, name)
}

func (n *Namespace) openReceiver(ctx context.Context, path, subscriptionID string) (relay.Receiver, error) {
	sub := n.client.Subscription(subscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %s: %w", subscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", subscriptionID)
	}
	return &receiver{
		ns:           n,
		path:         path,
		subscription: sub.String(),
		logger:       n.logger.With().Str("subscription_id", subscriptionID).Logger(),
	}, nil
}

// OpenQueueSender opens a sender on the queue topic path.
func (n *Namespace) OpenQueueSender(ctx context.Context, path string) (relay.Sender, error) {
	return n.openSender(ctx, path)
}

// OpenTopicSender opens a sender on topic path.
func (n *Namespace) OpenTopicSender(ctx context.Context, path string) (relay.Sender, error) {
	return n.openSender(ctx, path)
}

func (n *Namespace) openSender(ctx context.Context, topicID string) (relay.Sender, error) {
	topic := n.client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("topic %s does not exist", topicID)
	}
	// Session ids travel as ordering keys.
	topic.EnableMessageOrdering = true
	return &sender{
		topic:   topic,
		timeout: n.cfg.PublishTimeout,
		logger:  n.logger.With().Str("topic_id", topicID).Logger(),
	}, nil
}
