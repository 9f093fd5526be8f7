package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/dbconfig"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/logging"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Config is the auction server configuration.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Log logging.Config
	DB  dbconfig.Config

	// TournamentStore is postgres or memory. The memory store is filled from
	// FixturePath.
	TournamentStore string `env:"TOURNAMENT_STORE" envDefault:"postgres"`
	FixturePath     string `env:"AUCTION_FIXTURE"`

	CheckpointStore      string        `env:"CHECKPOINT_STORE" envDefault:"postgres"`
	MongoURI             string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase        string        `env:"MONGO_DATABASE" envDefault:"auction"`
	CheckpointRetries    int           `env:"CHECKPOINT_MAX_RETRIES" envDefault:"5"`
	CheckpointRetryDelay time.Duration `env:"CHECKPOINT_RETRY_DELAY" envDefault:"200ms"`

	AutoResume       bool          `env:"AUCTION_AUTO_RESUME" envDefault:"false"`
	QueueSize        int           `env:"AUCTION_QUEUE_SIZE" envDefault:"64"`
	SummaryCacheSize int           `env:"AUCTION_SUMMARY_CACHE_SIZE" envDefault:"128"`
	RetireAfter      time.Duration `env:"AUCTION_RETIRE_AFTER" envDefault:"10m"`

	NATSEnabled bool   `env:"NATS_ENABLED" envDefault:"false"`
	NATSURL     string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSStream  string `env:"NATS_STREAM" envDefault:"AUCTION_EVENTS"`
}

// GatewayConfig configures the standalone websocket gateway.
type GatewayConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8081"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	ServerURL       string        `env:"AUCTION_SERVER_URL" envDefault:"http://localhost:8080"`

	Log logging.Config

	NATSURL      string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSStream   string `env:"NATS_STREAM" envDefault:"AUCTION_EVENTS"`
	ConsumerName string `env:"GATEWAY_CONSUMER" envDefault:"auction-gateway"`
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
}

// Load reads .env, if any, and then the environment.
func Load() (Config, error) {
	loadDotEnv()
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.TournamentStore {
	case StorePostgres:
	case StoreMemory:
		if c.FixturePath == "" {
			return errors.New("AUCTION_FIXTURE is required with the memory tournament store")
		}
	default:
		return fmt.Errorf("unknown TOURNAMENT_STORE %q", c.TournamentStore)
	}
	switch c.CheckpointStore {
	case StorePostgres, StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required with the mongo checkpoint store")
		}
	default:
		return fmt.Errorf("unknown CHECKPOINT_STORE %q", c.CheckpointStore)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("AUCTION_QUEUE_SIZE must be positive, got %d", c.QueueSize)
	}
	return nil
}

// NeedsPostgres reports whether any store lives in Postgres.
func (c Config) NeedsPostgres() bool {
	return c.TournamentStore == StorePostgres || c.CheckpointStore == StorePostgres
}

func LoadGateway() (GatewayConfig, error) {
	loadDotEnv()
	cfg, err := env.ParseAs[GatewayConfig]()
	if err != nil {
		return cfg, fmt.Errorf("parse gateway config: %w", err)
	}
	return cfg, nil
}
