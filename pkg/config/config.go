package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MustLoad loads the configuration from environment variables and .env file.
func MustLoad[T any](cfg T) {
	_ = godotenv.Load() // Load environment variables from .env file

	env.Must(cfg, env.Parse(cfg))
}

// Load loads the configuration from environment variables and .env file.
func Load[T any](cfg T) error {
	_ = godotenv.Load() // .env file is optional

	if err := env.Parse(cfg); err != nil {
		return err // Return error if environment variable parsing fails
	}

	return nil
}

// Config holds the configuration for the exchange process.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":3030"`
	BlockDBPath string `env:"BLOCK_DB_PATH" envDefault:"block_db"`

	BlockConfig `envPrefix:"BLOCK_"`
	KafkaConfig `envPrefix:"KAFKA_"`
}

// BlockConfig holds the block production parameters.
type BlockConfig struct {
	// MaxTxns is the trade count that forces a flush before the interval elapses.
	MaxTxns int `env:"MAX_TXNS" envDefault:"100"`
	// Interval is the maximum time between two flushes while trades are pending.
	Interval time.Duration `env:"INTERVAL" envDefault:"10s"`
	// PollInterval is how often the builder re-checks its triggers.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"100ms"`
	// CheckpointRatio is the number of exchange blocks per VM checkpoint.
	CheckpointRatio int `env:"CHECKPOINT_RATIO" envDefault:"10"`
}

// KafkaConfig holds the configuration for the block event publisher.
// Publishing is disabled when no brokers are configured.
type KafkaConfig struct {
	Topic   string   `env:"TOPIC" envDefault:"blocks"`
	Brokers []string `env:"BROKER"`
}
