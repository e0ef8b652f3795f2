package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-busrelay/pkg/cache"
	"github.com/illmade-knight/go-busrelay/pkg/config"
	"github.com/illmade-knight/go-busrelay/pkg/logging"
	"github.com/illmade-knight/go-busrelay/pkg/messagelog"
	"github.com/illmade-knight/go-busrelay/pkg/pubsubbus"
	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"github.com/rs/zerolog"
)

const (
	activityLogPrefix = "RELAY_ACTIVITY_LOG"
	messageLogPrefix  = "RELAY_MESSAGE_LOG"
)

// app is a fully wired relay and the resources it holds.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	activity logging.ActivityLogger
	relay    *relay.Relay
	messages messagelog.Logger
	closers  []func() error
}

func newApp(ctx context.Context, opts *RootOptions) (a *app, err error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	now := time.Now()
	activityFile, err := logging.OpenDailyLogFile(cfg.LogDir, activityLogPrefix, now)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, activityFile.Close)

	logger, raw := logging.NewLogger(cfg.LogLevel, os.Stdout, activityFile)
	a.logger = logger.With().Str("service_name", cfg.ServiceName).Logger()
	a.activity = logging.NewZerologActivityLogger(a.logger, raw)

	source, err := pubsubbus.NewNamespace(ctx, cfg.SourcePubsub(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	a.closers = append(a.closers, source.Close)

	destination, err := pubsubbus.NewNamespace(ctx, cfg.DestinationPubsub(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	a.closers = append(a.closers, destination.Close)

	a.messages, err = a.messageLoggers(ctx, now)
	if err != nil {
		return nil, err
	}

	relayOpts := []relay.Option{
		relay.WithLogger(a.logger),
		relay.WithMessageLogger(a.messages),
	}
	if redisCfg := cfg.RedisOptions(); redisCfg != nil {
		relayOpts = append(relayOpts, relay.WithIDSetFactory(cache.NewRedisIDSetFactory(redisCfg, a.logger)))
	}

	a.relay, err = relay.New(cfg.RelayOptions(), source, destination, a.activity, relayOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// messageLoggers builds the configured message log sinks.
func (a *app) messageLoggers(ctx context.Context, now time.Time) (messagelog.Logger, error) {
	var sinks messagelog.Multi

	if a.cfg.LogMessages {
		f, err := logging.OpenDailyLogFile(a.cfg.LogDir, messageLogPrefix, now)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, f.Close)
		fileLogger := zerolog.New(f).With().Timestamp().Logger()
		sinks = append(sinks, messagelog.NewZerologLogger(fileLogger))
	}

	if archiveCfg := a.cfg.ArchiveOptions(); archiveCfg != nil {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		archiver, err := messagelog.NewGCSArchiver(messagelog.NewGCSClientAdapter(client), *archiveCfg, a.logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, archiver)
	}

	if projectID, auditCfg := a.cfg.AuditOptions(); auditCfg != nil {
		client, err := messagelog.NewProductionBigQueryClient(ctx, projectID, a.cfg.Destination.CredentialsFile, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		inserter, err := messagelog.NewBigQueryInserter(ctx, client, auditCfg, a.logger)
		if err != nil {
			return nil, err
		}
		auditor, err := messagelog.NewBigQueryAuditor(inserter, a.cfg.Audit.BatchSize, a.logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, auditor)
	}

	switch len(sinks) {
	case 0:
		return messagelog.Nop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// close flushes the message loggers, then releases clients and files in
// reverse order of creation.
func (a *app) close(ctx context.Context) {
	if a.messages != nil {
		if err := a.messages.Close(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Failed to flush message log.")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to release resource.")
		}
	}
}
