package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

type MessagingConfig struct {
	Backend             string        `yaml:"backend"` // "kafka" or "mqtt"
	Kafka               KafkaConfig   `yaml:"kafka"`
	MQTT                MQTTConfig    `yaml:"mqtt"`
	EventsTopic         string        `yaml:"events_topic"`
	TelemetryTopic      string        `yaml:"telemetry_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	NodeID              string        `yaml:"node_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// LifecycleConfig bounds the identifier allocator and state machine.
type LifecycleConfig struct {
	StoreTimeout  time.Duration `yaml:"store_timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	QuoteValidity time.Duration `yaml:"quote_validity"`
}

func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "ubcore.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "ubcore",
				User:     "ubcore",
				Password: "",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			Password: "",
			DB:       0,
			Enabled:  true,
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8090,
			SessionSecret: "change-me-in-production",
		},
		Messaging: MessagingConfig{
			Backend: "kafka",
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "ubcore",
			},
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "ubcore",
			},
			EventsTopic:         "ubcore.events",
			TelemetryTopic:      "ubcore.printfarm",
			OutboxDrainInterval: 5 * time.Second,
			NodeID:              "core",
		},
		Lifecycle: LifecycleConfig{
			StoreTimeout:  5 * time.Second,
			MaxAttempts:   5,
			RetryDelay:    10 * time.Millisecond,
			QuoteValidity: 30 * 24 * time.Hour,
		},
	}
}

// Load reads the YAML file at path on top of Defaults, then applies a .env
// file (if present next to the working directory) and UBCORE_* overrides.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	// godotenv never overrides variables already set in the environment.
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("UBCORE_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("UBCORE_SQLITE_PATH"); v != "" {
		c.Database.SQLite.Path = v
	}
	if v := os.Getenv("UBCORE_POSTGRES_HOST"); v != "" {
		c.Database.Postgres.Host = v
	}
	if v := os.Getenv("UBCORE_POSTGRES_PASSWORD"); v != "" {
		c.Database.Postgres.Password = v
	}
	if v := os.Getenv("UBCORE_REDIS_ADDR"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv("UBCORE_WEB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &EnvError{Name: "UBCORE_WEB_PORT", Value: v}
		}
		c.Web.Port = port
	}
	if v := os.Getenv("UBCORE_SESSION_SECRET"); v != "" {
		c.Web.SessionSecret = v
	}
	if v := os.Getenv("UBCORE_MESSAGING_BACKEND"); v != "" {
		c.Messaging.Backend = v
	}
	if v := os.Getenv("UBCORE_KAFKA_BROKERS"); v != "" {
		c.Messaging.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("UBCORE_MQTT_BROKER"); v != "" {
		c.Messaging.MQTT.Broker = v
	}
	return nil
}

// EnvError reports an environment override that could not be parsed.
type EnvError struct {
	Name  string
	Value string
}

func (e *EnvError) Error() string {
	return "config: invalid " + e.Name + " value " + strconv.Quote(e.Value)
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Lock()   { c.mu.Lock() }
func (c *Config) Unlock() { c.mu.Unlock() }
