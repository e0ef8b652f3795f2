package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-busrelay/pkg/cache"
	"github.com/illmade-knight/go-busrelay/pkg/logging"
	"github.com/illmade-knight/go-busrelay/pkg/messagelog"
	"github.com/illmade-knight/go-busrelay/pkg/types"
	"github.com/rs/zerolog"
)

// RunSummary counts the outcome of one run.
type RunSummary struct {
	RunID                  string        `json:"runId"`
	StartedAt              time.Time     `json:"startedAt"`
	Duration               time.Duration `json:"duration"`
	QueuesForwarded        int           `json:"queuesForwarded"`
	QueuesSkipped          int           `json:"queuesSkipped"`
	QueuesFailed           int           `json:"queuesFailed"`
	TopicsSkipped          int           `json:"topicsSkipped"`
	SubscriptionsForwarded int           `json:"subscriptionsForwarded"`
	SubscriptionsSkipped   int           `json:"subscriptionsSkipped"`
	SubscriptionsFailed    int           `json:"subscriptionsFailed"`
	MessagesForwarded      int           `json:"messagesForwarded"`
	DuplicatesSuppressed   int           `json:"duplicatesSuppressed"`
	// Error is set when the run ended early.
	Error string `json:"error,omitempty"`
}

// Option configures a Relay.
type Option func(*Relay)

// WithMessageLogger records every forwarded message with l.
func WithMessageLogger(l messagelog.Logger) Option {
	return func(r *Relay) { r.messages = l }
}

// WithIDSetFactory sets how the per-run forwarded-id set is created. The default
// is an in-memory set.
func WithIDSetFactory(f cache.IDSetFactory) Option {
	return func(r *Relay) { r.newIDSet = f }
}

// WithLogger sets the structured logger used for diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// Relay forwards every queue and subscription of a source namespace to the
// matching entity of a destination namespace. It holds no state between runs
// except the summary of the last one.
type Relay struct {
	source      Namespace
	destination Namespace

	ignoreQueues        PatternSet
	ignoreTopics        PatternSet
	ignoreSubscriptions PatternSet

	batchSize   int
	waitTimeout time.Duration

	activity logging.ActivityLogger
	messages messagelog.Logger
	newIDSet cache.IDSetFactory
	logger   zerolog.Logger

	runMu       sync.Mutex
	summaryMu   sync.RWMutex
	lastSummary *RunSummary
}

// New creates a Relay. Ignore patterns are compiled here, so an invalid pattern
// is reported before any run starts.
func New(cfg *Config, source, destination Namespace, activity logging.ActivityLogger, opts ...Option) (*Relay, error) {
	if cfg == nil {
		cfg = NewConfigDefaults()
	}
	if source == nil || destination == nil {
		return nil, errors.New("source and destination namespaces are required")
	}
	if activity == nil {
		activity = logging.Nop{}
	}

	ignoreQueues, err := ParsePatterns(cfg.IgnoreQueues)
	if err != nil {
		return nil, fmt.Errorf("ignore queues: %w", err)
	}
	ignoreTopics, err := ParsePatterns(cfg.IgnoreTopics)
	if err != nil {
		return nil, fmt.Errorf("ignore topics: %w", err)
	}
	ignoreSubscriptions, err := ParsePatterns(cfg.IgnoreSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("ignore subscriptions: %w", err)
	}

	r := &Relay{
		source:              source,
		destination:         destination,
		ignoreQueues:        ignoreQueues,
		ignoreTopics:        ignoreTopics,
		ignoreSubscriptions: ignoreSubscriptions,
		batchSize:           cfg.BatchSize,
		waitTimeout:         cfg.WaitTimeout,
		activity:            activity,
		messages:            messagelog.Nop{},
		newIDSet:            cache.NewInMemoryIDSetFactory(),
		logger:              zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "Relay").
		Str("source", source.Name()).Str("destination", destination.Name()).Logger()
	return r, nil
}

// LastSummary returns the summary of the most recent completed run, or nil.
func (r *Relay) LastSummary() *RunSummary {
	r.summaryMu.RLock()
	defer r.summaryMu.RUnlock()
	if r.lastSummary == nil {
		return nil
	}
	s := *r.lastSummary
	return &s
}

// Run performs one relay pass: all queues, then all topics. It never returns an
// error; every failure is logged and the caller is expected to run again later.
// Overlapping calls are serialized.
func (r *Relay) Run(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	logger := r.logger.With().Str("run_id", summary.RunID).Logger()

	defer func() {
		if p := recover(); p != nil {
			summary.Error = fmt.Sprintf("panic: %v", p)
			logger.Error().Str("stack", string(debug.Stack())).Msgf("Relay run panicked: %v", p)
			r.activity.Log(fmt.Sprintf("! Exception: %v\n\n", p), 0, 2)
		}
		summary.Duration = time.Since(summary.StartedAt)
		r.summaryMu.Lock()
		r.lastSummary = summary
		r.summaryMu.Unlock()
		logger.Info().
			Int("messages_forwarded", summary.MessagesForwarded).
			Int("duplicates_suppressed", summary.DuplicatesSuppressed).
			Int("queues_failed", summary.QueuesFailed).
			Int("subscriptions_failed", summary.SubscriptionsFailed).
			Dur("duration", summary.Duration).
			Msg("Relay run finished.")
	}()

	if err := r.run(ctx, summary, logger); err != nil {
		summary.Error = err.Error()
		logger.Error().Err(err).Msg("Relay run ended early.")
		r.activity.Log(fmt.Sprintf("! Exception: %v\n\n", err), 0, 2)
	}
}

func (r *Relay) run(ctx context.Context, summary *RunSummary, logger zerolog.Logger) error {
	r.activity.Log("Running", 0, 0)

	forwarded, err := r.newIDSet(ctx, summary.RunID)
	if err != nil {
		return fmt.Errorf("create forwarded-id set: %w", err)
	}
	defer func() {
		if closeErr := forwarded.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("Failed to close forwarded-id set.")
		}
	}()

	drainer := NewDrainer(r.batchSize, r.waitTimeout, r.activity, r.messages, logger)

	if err := r.processQueues(ctx, NewQueueForwarder(drainer), summary, logger); err != nil {
		return err
	}
	if err := r.processTopics(ctx, NewSubscriptionForwarder(drainer), forwarded, summary, logger); err != nil {
		return err
	}

	r.activity.Log("Finished running", 0, 0)
	return nil
}

func (r *Relay) processQueues(ctx context.Context, forwarder *QueueForwarder, summary *RunSummary, logger zerolog.Logger) error {
	queues, err := r.source.ListQueues(ctx)
	if err != nil {
		return fmt.Errorf("list source queues: %w", err)
	}
	destinationQueues, err := r.destination.ListQueues(ctx)
	if err != nil {
		return fmt.Errorf("list destination queues: %w", err)
	}
	existing := pathSet(destinationQueues)

	r.activity.Log(fmt.Sprintf("%d queue(s) found", len(queues)), 0, 0)

	for _, queue := range queues {
		switch {
		case IsIgnored(queue.Path, r.ignoreQueues):
			r.activity.Log(fmt.Sprintf("Ignoring queue: [%s]", queue.Path), 0, 0)
			summary.QueuesSkipped++
		case !existing[queue.Path]:
			r.activity.Log(fmt.Sprintf("Skipping queue, which does not exist in destination: [%s]", queue.Path), 0, 0)
			summary.QueuesSkipped++
		default:
			result, err := r.processQueue(ctx, forwarder, queue)
			summary.MessagesForwarded += result.Forwarded
			if err != nil {
				summary.QueuesFailed++
				logger.Error().Err(err).Str("entity", queue.Path).Msg("Failed to process queue.")
				r.activity.Log(fmt.Sprintf("! Exception processing [%s] queue: %v\n\n", queue.Path, err), 0, 2)
				continue
			}
			summary.QueuesForwarded++
		}
	}
	return nil
}

func (r *Relay) processQueue(ctx context.Context, forwarder *QueueForwarder, queue types.EntityDescriptor) (DrainResult, error) {
	src, err := r.source.OpenQueueReceiver(ctx, queue.Path)
	if err != nil {
		return DrainResult{}, fmt.Errorf("open source queue: %w", err)
	}
	defer r.closeEndpoint(src, "source queue", queue.Path)

	dst, err := r.destination.OpenQueueSender(ctx, queue.Path)
	if err != nil {
		return DrainResult{}, fmt.Errorf("open destination queue: %w", err)
	}
	defer r.closeEndpoint(dst, "destination queue", queue.Path)

	return forwarder.forward(ctx, src, dst, queue.RequiresSession)
}

func (r *Relay) processTopics(ctx context.Context, forwarder *SubscriptionForwarder, forwarded cache.IDSet, summary *RunSummary, logger zerolog.Logger) error {
	topics, err := r.source.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list source topics: %w", err)
	}
	destinationTopics, err := r.destination.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list destination topics: %w", err)
	}
	existing := pathSet(destinationTopics)

	r.activity.Log(fmt.Sprintf("%d topic(s) found", len(topics)), 0, 0)

	for _, topic := range topics {
		switch {
		case IsIgnored(topic.Path, r.ignoreTopics):
			r.activity.Log(fmt.Sprintf("Ignoring topic: [%s]", topic.Path), 0, 0)
			summary.TopicsSkipped++
		case !existing[topic.Path]:
			r.activity.Log(fmt.Sprintf("Skipping topic, which does not exist in destination: [%s]", topic.Path), 0, 0)
			summary.TopicsSkipped++
		default:
			if err := r.processTopic(ctx, forwarder, topic, forwarded, summary, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Relay) processTopic(ctx context.Context, forwarder *SubscriptionForwarder, topic types.EntityDescriptor, forwarded cache.IDSet, summary *RunSummary, logger zerolog.Logger) error {
	r.activity.Log(fmt.Sprintf("[%s] - Processing topic", topic.Path), 0, 1)

	subscriptions, err := r.source.ListSubscriptions(ctx, topic.Path)
	if err != nil {
		return fmt.Errorf("list subscriptions of %s: %w", topic.Path, err)
	}
	r.activity.Log(fmt.Sprintf("[%s] - %d subscription(s) found", topic.Path, len(subscriptions)), 0, 0)

	for _, subscription := range subscriptions {
		if IsIgnored(subscription.Path, r.ignoreSubscriptions) {
			r.activity.Log(fmt.Sprintf("Ignoring subscription: [%s].[%s]", topic.Path, subscription.Path), 0, 0)
			summary.SubscriptionsSkipped++
			continue
		}

		result, err := r.processSubscription(ctx, forwarder, topic.Path, subscription, forwarded)
		summary.MessagesForwarded += result.Forwarded
		summary.DuplicatesSuppressed += result.Duplicates()
		if err != nil {
			summary.SubscriptionsFailed++
			logger.Error().Err(err).Str("entity", topic.Path).Str("subscription", subscription.Path).Msg("Failed to process subscription.")
			r.activity.Log(fmt.Sprintf("! Exception processing [%s].[%s] subscription: %v\n\n", topic.Path, subscription.Path, err), 0, 2)
			continue
		}
		summary.SubscriptionsForwarded++
	}

	r.activity.Log(fmt.Sprintf("[%s] - Completed processing topic", topic.Path), 0, 0)
	return nil
}

func (r *Relay) processSubscription(ctx context.Context, forwarder *SubscriptionForwarder, topicPath string, subscription types.EntityDescriptor, forwarded cache.IDSet) (DrainResult, error) {
	src, err := r.source.OpenSubscriptionReceiver(ctx, topicPath, subscription.Path)
	if err != nil {
		return DrainResult{}, fmt.Errorf("open source subscription: %w", err)
	}
	defer r.closeEndpoint(src, "source subscription", topicPath+"/"+subscription.Path)

	dst, err := r.destination.OpenTopicSender(ctx, topicPath)
	if err != nil {
		return DrainResult{}, fmt.Errorf("open destination topic: %w", err)
	}
	defer r.closeEndpoint(dst, "destination topic", topicPath)

	return forwarder.forward(ctx, src, dst, subscription.RequiresSession, forwarded)
}

type closer interface {
	Close() error
}

func (r *Relay) closeEndpoint(c closer, kind, path string) {
	if err := c.Close(); err != nil {
		r.logger.Warn().Err(err).Str("entity", path).Str("endpoint", kind).Msg("Failed to close endpoint.")
	}
}

func pathSet(entities []types.EntityDescriptor) map[string]bool {
	set := make(map[string]bool, len(entities))
	for _, e := range entities {
		set[e.Path] = true
	}
	return set
}
