// Package bot loads configuration and builds the dependencies shared by
// every job, once per process.
package bot

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/nounsdev/nouners-farcaster/internal/identity"
	"github.com/nounsdev/nouners-farcaster/internal/neynar"
	"github.com/nounsdev/nouners-farcaster/internal/scheduler"
	"github.com/nounsdev/nouners-farcaster/internal/starterpack"
	"github.com/nounsdev/nouners-farcaster/internal/warpcast"
	"github.com/nounsdev/nouners-farcaster/pkg/config"
)

const ServiceName = "nouns-radar"

const (
	FeedNeynar   = "neynar"
	FeedWarpcast = "warpcast"

	BackendRedis  = "redis"
	BackendKafka  = "kafka"
	BackendMemory = "memory"
)

type Config struct {
	WarpcastBaseURL     string
	WarpcastAccessToken string
	WarpcastAPIKey      string

	NeynarBaseURL string
	NeynarAPIKey  string

	SubgraphURL string
	EthRPCURL   string

	FeedSource       string
	ChannelID        string
	WarpcastFeedKey  string
	WarpcastFeedType string
	FeedMaxItems     int
	LikeThreshold    int

	KVBackend  string
	RedisURL   string
	RedisAddrs []string
	KVPrefix   string
	CacheTTL   time.Duration

	QueueBackend       string
	KafkaBrokers       []string
	KafkaTopic         string
	KafkaGroupID       string
	KafkaClientID      string
	DeadLetterTopic    string
	QueueMaxAttempts   int
	RetrySetKey        string
	RedeliveryInterval time.Duration

	ProposalRecipients string
	RequireFollower    bool

	StarterPackPrefix   string
	StarterPackCapacity int

	HTTPMaxRetries     int
	HTTPCircuitBreaker bool
	JobTimeout         time.Duration
	TriggerToken       string

	Schedules Schedules
}

// Schedules holds the cron pattern of each job group.
type Schedules struct {
	Engagement  string
	DirectCasts string
	Proposals   string
	StarterPack string
}

// LoadConfig reads the process environment. Call config.LoadEnv first to
// overlay .env files.
func LoadConfig() (Config, error) {
	cfg := Config{
		WarpcastBaseURL:     config.GetEnv("WARPCAST_BASE_URL", warpcast.DefaultBaseURL),
		WarpcastAccessToken: os.Getenv("WARPCAST_ACCESS_TOKEN"),
		WarpcastAPIKey:      os.Getenv("WARPCAST_API_KEY"),

		NeynarBaseURL: config.GetEnv("NEYNAR_API_URL", neynar.DefaultBaseURL),
		NeynarAPIKey:  os.Getenv("NEYNAR_API_KEY"),

		SubgraphURL: os.Getenv("NOUNS_SUBGRAPH_URL"),
		EthRPCURL:   os.Getenv("ETH_RPC_URL"),

		FeedSource:       strings.ToLower(config.GetEnv("FEED_SOURCE", FeedNeynar)),
		ChannelID:        config.GetEnv("CHANNEL_ID", "nouns"),
		WarpcastFeedKey:  config.GetEnv("WARPCAST_FEED_KEY", "nouns"),
		WarpcastFeedType: config.GetEnv("WARPCAST_FEED_TYPE", "default"),
		LikeThreshold:    config.GetEnvInt("LIKE_THRESHOLD", 2),

		KVBackend:  strings.ToLower(config.GetEnv("KV_BACKEND", BackendRedis)),
		RedisURL:   os.Getenv("REDIS_URL"),
		RedisAddrs: config.GetEnvList("REDIS_ADDRS", nil),
		KVPrefix:   config.GetEnv("KV_PREFIX", ""),
		CacheTTL:   config.GetEnvDuration("CACHE_TTL", identity.DefaultTTL),

		QueueBackend:       strings.ToLower(config.GetEnv("QUEUE_BACKEND", BackendKafka)),
		KafkaBrokers:       config.GetEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:         config.GetEnv("KAFKA_TOPIC", "nouns-radar-tasks"),
		KafkaGroupID:       config.GetEnv("KAFKA_GROUP_ID", ServiceName),
		KafkaClientID:      config.GetEnv("KAFKA_CLIENT_ID", ServiceName),
		DeadLetterTopic:    os.Getenv("KAFKA_DLQ_TOPIC"),
		QueueMaxAttempts:   config.GetEnvInt("QUEUE_MAX_ATTEMPTS", 0),
		RetrySetKey:        config.GetEnv("QUEUE_RETRY_KEY", "nouns-radar-retries"),
		RedeliveryInterval: config.GetEnvDuration("QUEUE_REDELIVERY_INTERVAL", time.Second),

		ProposalRecipients: strings.ToLower(config.GetEnv("PROPOSAL_RECIPIENTS", "voters")),
		RequireFollower:    config.GetEnvBool("PROPOSAL_REQUIRE_FOLLOWER", true),

		StarterPackPrefix:   config.GetEnv("STARTER_PACK_PREFIX", starterpack.DefaultPrefix),
		StarterPackCapacity: config.GetEnvInt("STARTER_PACK_CAPACITY", starterpack.DefaultCapacity),

		HTTPMaxRetries:     config.GetEnvInt("HTTP_MAX_RETRIES", 3),
		HTTPCircuitBreaker: config.GetEnvBool("HTTP_CIRCUIT_BREAKER", true),
		JobTimeout:         config.GetEnvDuration("JOB_TIMEOUT", 30*time.Minute),
		TriggerToken:       os.Getenv("TRIGGER_TOKEN"),

		Schedules: Schedules{
			Engagement:  config.GetEnv("CRON_ENGAGEMENT", scheduler.Hourly),
			DirectCasts: config.GetEnv("CRON_DIRECT_CASTS", scheduler.TwiceDaily),
			Proposals:   config.GetEnv("CRON_PROPOSALS", scheduler.DailyAt14),
			StarterPack: config.GetEnv("CRON_STARTER_PACK", scheduler.DailyAt15),
		},
	}

	defaultMax := 150
	if cfg.FeedSource == FeedWarpcast {
		defaultMax = 1000
	}
	cfg.FeedMaxItems = config.GetEnvInt("FEED_MAX_ITEMS", defaultMax)

	return cfg, cfg.Validate()
}

// Required lists the settings that must be non-empty for cfg.
func (c Config) Required() map[string]string {
	req := map[string]string{
		"WARPCAST_ACCESS_TOKEN": c.WarpcastAccessToken,
		"WARPCAST_API_KEY":      c.WarpcastAPIKey,
		"NOUNS_SUBGRAPH_URL":    c.SubgraphURL,
		"ETH_RPC_URL":           c.EthRPCURL,
	}
	if c.FeedSource == FeedNeynar {
		req["NEYNAR_API_KEY"] = c.NeynarAPIKey
	}
	if c.KVBackend == BackendRedis && len(c.RedisAddrs) == 0 {
		req["REDIS_URL"] = c.RedisURL
	}
	return req
}

func (c Config) Validate() error {
	var missing []string
	for key, value := range c.Required() {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.FeedSource {
	case FeedNeynar, FeedWarpcast:
	default:
		return fmt.Errorf("FEED_SOURCE must be %q or %q, got %q", FeedNeynar, FeedWarpcast, c.FeedSource)
	}
	switch c.KVBackend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("KV_BACKEND must be %q or %q, got %q", BackendRedis, BackendMemory, c.KVBackend)
	}
	switch c.QueueBackend {
	case BackendKafka:
		if c.KVBackend != BackendRedis {
			return fmt.Errorf("QUEUE_BACKEND %q parks retries in redis and needs KV_BACKEND=%q", BackendKafka, BackendRedis)
		}
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for QUEUE_BACKEND %q", BackendKafka)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", BackendKafka, BackendMemory, c.QueueBackend)
	}
	if c.ProposalRecipientsKey() == "" {
		return fmt.Errorf("PROPOSAL_RECIPIENTS must be voters or subscribers, got %q", c.ProposalRecipients)
	}
	if c.QueueMaxAttempts < 0 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must not be negative")
	}
	return nil
}

// ProposalRecipientsKey maps PROPOSAL_RECIPIENTS to its cache key.
func (c Config) ProposalRecipientsKey() string {
	switch c.ProposalRecipients {
	case "voters":
		return identity.KeyVoters
	case "subscribers":
		return identity.KeySubscribers
	default:
		return ""
	}
}
