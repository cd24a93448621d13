package bot

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nounsdev/nouners-farcaster/internal/chain"
	"github.com/nounsdev/nouners-farcaster/internal/directcasts"
	"github.com/nounsdev/nouners-farcaster/internal/dispatch"
	"github.com/nounsdev/nouners-farcaster/internal/engagement"
	"github.com/nounsdev/nouners-farcaster/internal/identity"
	"github.com/nounsdev/nouners-farcaster/internal/neynar"
	"github.com/nounsdev/nouners-farcaster/internal/proposals"
	"github.com/nounsdev/nouners-farcaster/internal/scheduler"
	"github.com/nounsdev/nouners-farcaster/internal/starterpack"
	"github.com/nounsdev/nouners-farcaster/internal/subgraph"
	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
	"github.com/nounsdev/nouners-farcaster/pkg/clients"
	"github.com/nounsdev/nouners-farcaster/pkg/kv"
	"github.com/nounsdev/nouners-farcaster/pkg/monitoring"
	"github.com/nounsdev/nouners-farcaster/pkg/queue"
	"github.com/nounsdev/nouners-farcaster/pkg/redis"
	"github.com/nounsdev/nouners-farcaster/pkg/version"
)

// Deps is built once per process and handed to every job.
type Deps struct {
	Config Config
	Logger *logrus.Logger

	Store kv.Store
	Redis goredis.UniversalClient

	Warpcast *warpcast.Client
	Neynar   *neynar.Client
	Subgraph *subgraph.Client
	Chain    *chain.Client

	Sender   queue.Sender
	Producer *queue.Producer
	Memory   *queue.MemoryQueue
	Enqueuer *dispatch.Enqueuer
	Identity *identity.Engine

	Health          *monitoring.HealthChecker
	Metrics         *monitoring.MetricsCollector
	DispatchMetrics *dispatch.Metrics

	closers []func()
}

// NewDeps connects every backend named by cfg. On error, whatever was
// already opened is closed.
func NewDeps(ctx context.Context, cfg Config, logger *logrus.Logger) (_ *Deps, err error) {
	d := &Deps{
		Config:  cfg,
		Logger:  logger,
		Health:  monitoring.NewHealthChecker(ServiceName, version.Version),
		Metrics: monitoring.NewMetricsCollector(ServiceName, version.Version, version.GitCommit),
	}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.Health.AddCheck("configuration", monitoring.ConfigurationHealthCheck(cfg.Required()))

	switch cfg.KVBackend {
	case BackendMemory:
		d.Store = kv.NewMemoryStore(0)
		logger.Warn("Using in-memory key-value store; cached sets do not survive restarts")
	default:
		client, err := redis.NewClient(ctx, redis.Config{URL: cfg.RedisURL, Addrs: cfg.RedisAddrs})
		if err != nil {
			return nil, err
		}
		d.Redis = client
		d.closers = append(d.closers, func() { _ = client.Close() })
		store := kv.NewRedisStore(client, cfg.KVPrefix)
		d.Store = store
		d.Health.AddCheck("redis", monitoring.PingHealthCheck("redis", store))
	}

	d.Warpcast = warpcast.NewClient(cfg.WarpcastBaseURL, cfg.WarpcastAccessToken, cfg.WarpcastAPIKey,
		warpcast.WithHTTPExecutorConfig(cfg.httpExecutor("warpcast", logger)))
	d.Neynar = neynar.NewClient(cfg.NeynarBaseURL, cfg.NeynarAPIKey,
		neynar.WithHTTPExecutorConfig(cfg.httpExecutor("neynar", logger)))
	d.Subgraph = subgraph.NewClient(cfg.SubgraphURL,
		subgraph.WithHTTPExecutorConfig(cfg.httpExecutor("subgraph", logger)))

	d.Chain, err = chain.Dial(ctx, cfg.EthRPCURL)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, d.Chain.Close)
	d.Health.AddCheck("ethereum", monitoring.PingHealthCheck("ethereum", d.Chain))

	switch cfg.QueueBackend {
	case BackendMemory:
		d.Memory = queue.NewMemoryQueue(cfg.QueueMaxAttempts)
		d.Sender = d.Memory
	default:
		producer, err := queue.NewProducer(queue.ProducerConfig{
			Brokers:  cfg.KafkaBrokers,
			ClientID: cfg.KafkaClientID,
			Topic:    cfg.KafkaTopic,
		}, logger)
		if err != nil {
			return nil, err
		}
		d.Producer = producer
		d.Sender = producer
		d.closers = append(d.closers, func() { _ = producer.Close() })
		d.Health.AddCheck("kafka", monitoring.ErrorHealthCheck("kafka", producer.HealthCheck))
	}

	d.DispatchMetrics = dispatch.NewMetrics(d.Metrics)
	d.Enqueuer = dispatch.NewEnqueuer(d.Sender, logger, d.DispatchMetrics)
	d.Identity = identity.NewEngine(d.Store, d.Subgraph, d.Chain, d.Warpcast, logger, cfg.CacheTTL, identity.NewMetrics(d.Metrics))
	return d, nil
}

func (c Config) httpExecutor(api string, logger *logrus.Logger) clients.HTTPExecutorConfig {
	cfg := clients.DefaultHTTPExecutorConfig()
	cfg.MaxRetries = c.HTTPMaxRetries
	if c.HTTPCircuitBreaker {
		cfg = cfg.WithBreaker(api, logger)
	}
	return cfg
}

// Close releases backends in reverse order of opening.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *Deps) ChannelJob() *engagement.ChannelJob {
	job := &engagement.ChannelJob{
		Store:    d.Store,
		Viewer:   d.Warpcast,
		Enqueuer: d.Enqueuer,
		Options:  engagement.Options{Threshold: d.Config.LikeThreshold, MaxItems: d.Config.FeedMaxItems},
		Logger:   d.Logger,
	}
	if d.Config.FeedSource == FeedWarpcast {
		job.NewFeed = func() engagement.Pager {
			return engagement.NewWarpcastPager(d.Warpcast, d.Config.WarpcastFeedKey, d.Config.WarpcastFeedType)
		}
		job.Engagers = engagement.NewWarpcastEngagers(d.Warpcast)
	} else {
		job.NewFeed = func() engagement.Pager {
			return engagement.NewNeynarPager(d.Neynar, d.Config.ChannelID)
		}
		job.Engagers = engagement.NewNeynarEngagers(d.Neynar)
	}
	return job
}

func (d *Deps) DirectCastsJob() *directcasts.Job {
	return &directcasts.Job{Store: d.Store, Inbox: d.Warpcast, Enqueuer: d.Enqueuer, Logger: d.Logger}
}

func (d *Deps) ProposalNotifier() *proposals.Notifier {
	return &proposals.Notifier{
		Store:           d.Store,
		Proposals:       d.Subgraph,
		Chain:           d.Chain,
		Account:         d.Warpcast,
		Enqueuer:        d.Enqueuer,
		Logger:          d.Logger,
		RecipientsKey:   d.Config.ProposalRecipientsKey(),
		RequireFollower: d.Config.RequireFollower,
	}
}

func (d *Deps) StarterPackCurator() *starterpack.Curator {
	return &starterpack.Curator{
		Store:    d.Store,
		Packs:    d.Warpcast,
		Logger:   d.Logger,
		Prefix:   d.Config.StarterPackPrefix,
		Capacity: d.Config.StarterPackCapacity,
	}
}

// Table is the cron dispatch table.
func (d *Deps) Table() scheduler.Table {
	return BuildTable(d.Config.Schedules, Jobs{
		Identity:    d.Identity.Populate,
		Channel:     d.ChannelJob().Run,
		DirectCasts: d.DirectCastsJob().Run,
		Proposals:   d.ProposalNotifier().Run,
		StarterPack: d.StarterPackCurator().Run,
	})
}

// Jobs are the entry points the schedules run.
type Jobs struct {
	Identity    func(context.Context) error
	Channel     func(context.Context) error
	DirectCasts func(context.Context) error
	Proposals   func(context.Context) error
	StarterPack func(context.Context) error
}

// BuildTable assigns jobs to schedules. Schedules sharing a pattern run
// their steps one after another.
func BuildTable(s Schedules, jobs Jobs) scheduler.Table {
	table := scheduler.Table{}
	add := func(pattern string, steps ...scheduler.Step) {
		table[pattern] = append(table[pattern], steps...)
	}
	add(s.Engagement,
		scheduler.Step{Name: "identity", Run: jobs.Identity},
		scheduler.Step{Name: "channel", Run: jobs.Channel},
	)
	add(s.DirectCasts, scheduler.Step{Name: "direct-casts", Run: jobs.DirectCasts})
	add(s.Proposals, scheduler.Step{Name: "proposals", Run: jobs.Proposals})
	add(s.StarterPack, scheduler.Step{Name: "starter-pack", Run: jobs.StarterPack})
	return table
}

// TaskHandler executes queued tasks against Warpcast.
func (d *Deps) TaskHandler() *dispatch.Handler {
	return dispatch.NewHandler(d.Warpcast, d.Logger, d.DispatchMetrics)
}

// RunConsumer handles queued tasks until ctx is cancelled.
func (d *Deps) RunConsumer(ctx context.Context) error {
	handler := d.TaskHandler()
	if d.Memory != nil {
		err := d.Memory.Run(ctx, handler)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	if d.Redis == nil || d.Producer == nil {
		return fmt.Errorf("kafka consumer needs redis and a producer")
	}

	retries := queue.NewDelayedSet(d.Redis, d.Config.RetrySetKey)
	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		Brokers:         d.Config.KafkaBrokers,
		Topic:           d.Config.KafkaTopic,
		GroupID:         d.Config.KafkaGroupID,
		ClientID:        d.Config.KafkaClientID + "-consumer",
		DeadLetterTopic: d.Config.DeadLetterTopic,
		MaxAttempts:     d.Config.QueueMaxAttempts,
	}, handler, retries, d.Logger)
	if err != nil {
		return err
	}
	defer consumer.Close()
	consumer.WithRedelivery(retries, d.Producer, d.Config.RedeliveryInterval)
	d.Health.AddCheck("kafka_consumer", monitoring.ErrorHealthCheck("kafka_consumer", consumer.HealthCheck))

	err = consumer.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ReplayDeadLetters moves up to limit dead-lettered tasks back onto the task
// topic. Only the Kafka backend keeps dead letters.
func (d *Deps) ReplayDeadLetters(ctx context.Context, limit int) (int, error) {
	if d.Producer == nil {
		return 0, fmt.Errorf("dead-letter replay needs QUEUE_BACKEND=%q", BackendKafka)
	}
	replayer, err := queue.NewReplayer(queue.ConsumerConfig{
		Brokers:         d.Config.KafkaBrokers,
		Topic:           d.Config.KafkaTopic,
		GroupID:         d.Config.KafkaGroupID,
		ClientID:        d.Config.KafkaClientID + "-replay",
		DeadLetterTopic: d.Config.DeadLetterTopic,
	}, d.Producer, d.Logger)
	if err != nil {
		return 0, err
	}
	defer replayer.Close()
	return replayer.Replay(ctx, limit)
}
