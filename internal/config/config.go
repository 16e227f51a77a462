// Package config provides configuration management for chaindist.
// Values come from an optional TOML file named by CONFIG_FILE, then from
// environment variables, then from defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// MinLivenessInterval is the lower bound on how often liveness may be rewritten
const MinLivenessInterval = 600 * time.Second

// Config holds the configuration of a chaindistd process
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Coordination loop
	ProcessDelay     time.Duration
	SleepPeriod      time.Duration
	CallTimeout      time.Duration
	LivenessInterval time.Duration
	LivenessHKey     string
	RewardWindowMax  int
	ClosureWindowMax int
	StateRetention   time.Duration
	SupervisorNode   bool
	RunsOnSupervisor bool

	// Shared store
	RedisURL   string
	StoreDebug bool

	// Ledger
	LedgerRPCURL        string
	LedgerContract      string
	OraclePrivateKey    string
	LedgerSubmitTimeout time.Duration

	// Epochs
	EpochGenesis time.Time
	EpochLength  time.Duration

	// Kafka
	KafkaBrokers   []string
	KafkaGroupID   string
	HeartbeatTopic string
	EventsTopic    string
	NodeTTL        time.Duration

	// Audit and metrics
	PostgresURL  string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	StatusAddr   string

	// Logging
	LogLevel  string
	LogFormat string
}

// fileConfig mirrors the TOML overlay layout. Every field is optional.
type fileConfig struct {
	Service struct {
		Name        string `toml:"name"`
		Environment string `toml:"environment"`
		LogLevel    string `toml:"log_level"`
		LogFormat   string `toml:"log_format"`
		StatusAddr  string `toml:"status_addr"`
	} `toml:"service"`
	Oracle struct {
		ProcessDelay     string `toml:"process_delay"`
		SleepPeriod      string `toml:"sleep_period"`
		CallTimeout      string `toml:"call_timeout"`
		LivenessInterval string `toml:"liveness_interval"`
		LivenessHKey     string `toml:"liveness_hkey"`
		RewardWindowMax  int    `toml:"reward_window_max"`
		ClosureWindowMax int    `toml:"closure_window_max"`
		StateRetention   string `toml:"state_retention"`
		SupervisorNode   *bool  `toml:"supervisor_node"`
		RunsOnSupervisor *bool  `toml:"runs_only_on_supervisor"`
	} `toml:"oracle"`
	Store struct {
		RedisURL string `toml:"redis_url"`
		Debug    *bool  `toml:"debug"`
	} `toml:"store"`
	Ledger struct {
		RPCURL        string `toml:"rpc_url"`
		Contract      string `toml:"contract"`
		SubmitTimeout string `toml:"submit_timeout"`
	} `toml:"ledger"`
	Epoch struct {
		Genesis string `toml:"genesis"`
		Length  string `toml:"length"`
	} `toml:"epoch"`
	Kafka struct {
		Brokers        []string `toml:"brokers"`
		GroupID        string   `toml:"group_id"`
		HeartbeatTopic string   `toml:"heartbeat_topic"`
		EventsTopic    string   `toml:"events_topic"`
		NodeTTL        string   `toml:"node_ttl"`
	} `toml:"kafka"`
	Audit struct {
		PostgresURL  string `toml:"postgres_url"`
		InfluxURL    string `toml:"influx_url"`
		InfluxOrg    string `toml:"influx_org"`
		InfluxBucket string `toml:"influx_bucket"`
	} `toml:"audit"`
}

// defaults seeds lookups before the environment is consulted
type defaults map[string]string

// Load reads CONFIG_FILE (if set), then the environment, and validates the result
func Load() (*Config, error) {
	d := defaults{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := d.overlay(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	genesis, err := time.Parse(time.RFC3339, d.get("EPOCH_GENESIS", "2025-02-05T16:00:00Z"))
	if err != nil {
		return nil, fmt.Errorf("EPOCH_GENESIS must be RFC3339: %w", err)
	}

	cfg := &Config{
		ServiceName: d.get("SERVICE_NAME", "chaindistd"),
		Version:     d.get("VERSION", "dev"),
		Environment: d.get("ENVIRONMENT", "development"),

		ProcessDelay:     d.getDuration("PROCESS_DELAY", 10*time.Second),
		SleepPeriod:      d.getDuration("SLEEP_PERIOD", 100*time.Millisecond),
		CallTimeout:      d.getDuration("CALL_TIMEOUT", 5*time.Second),
		LivenessInterval: d.getDuration("LIVENESS_INTERVAL", MinLivenessInterval),
		LivenessHKey:     d.get("LIVENESS_HKEY", "chain_dist_monitor"),
		RewardWindowMax:  d.getInt("REWARD_WINDOW_MAX", 10),
		ClosureWindowMax: d.getInt("CLOSURE_WINDOW_MAX", 25),
		StateRetention:   d.getDuration("STATE_RETENTION", 24*time.Hour),
		SupervisorNode:   d.getBool("SUPERVISOR_NODE", false),
		RunsOnSupervisor: d.getBool("RUNS_ONLY_ON_SUPERVISOR", true),

		RedisURL:   d.get("REDIS_URL", "redis://localhost:6379/0"),
		StoreDebug: d.getBool("STORE_DEBUG", false),

		LedgerRPCURL:        d.get("LEDGER_RPC_URL", "http://localhost:8545"),
		LedgerContract:      d.get("LEDGER_CONTRACT", ""),
		OraclePrivateKey:    d.get("ORACLE_PRIVATE_KEY", ""),
		LedgerSubmitTimeout: d.getDuration("LEDGER_SUBMIT_TIMEOUT", 60*time.Second),

		EpochGenesis: genesis,
		EpochLength:  d.getDuration("EPOCH_LENGTH", 24*time.Hour),

		KafkaBrokers:   d.getSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:   d.get("KAFKA_GROUP_ID", "chaindist"),
		HeartbeatTopic: d.get("HEARTBEAT_TOPIC", "node.heartbeats"),
		EventsTopic:    d.get("EVENTS_TOPIC", "oracle.submissions"),
		NodeTTL:        d.getDuration("NODE_TTL", 10*time.Minute),

		PostgresURL:  d.get("POSTGRES_URL", ""),
		InfluxURL:    d.get("INFLUX_URL", ""),
		InfluxToken:  d.get("INFLUX_TOKEN", ""),
		InfluxOrg:    d.get("INFLUX_ORG", "chaindist"),
		InfluxBucket: d.get("INFLUX_BUCKET", "oracle"),
		StatusAddr:   d.get("STATUS_ADDR", ":9464"),

		LogLevel:  d.get("LOG_LEVEL", "info"),
		LogFormat: d.get("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if c.ProcessDelay <= 0 {
		return fmt.Errorf("PROCESS_DELAY must be positive")
	}

	if c.SleepPeriod < 0 {
		return fmt.Errorf("SLEEP_PERIOD cannot be negative")
	}

	if c.CallTimeout <= 0 {
		return fmt.Errorf("CALL_TIMEOUT must be positive")
	}

	if c.LivenessInterval < MinLivenessInterval {
		return fmt.Errorf("LIVENESS_INTERVAL must be at least %s", MinLivenessInterval)
	}

	if c.LivenessHKey == "" {
		return fmt.Errorf("LIVENESS_HKEY cannot be empty")
	}

	if c.RewardWindowMax <= 1 {
		return fmt.Errorf("REWARD_WINDOW_MAX must be greater than 1")
	}

	if c.ClosureWindowMax <= 1 {
		return fmt.Errorf("CLOSURE_WINDOW_MAX must be greater than 1")
	}

	if c.StateRetention <= 0 {
		return fmt.Errorf("STATE_RETENTION must be positive")
	}

	if c.EpochLength <= 0 {
		return fmt.Errorf("EPOCH_LENGTH must be positive")
	}

	if c.NodeTTL <= 0 {
		return fmt.Errorf("NODE_TTL must be positive")
	}

	return nil
}

// Gated reports whether this process must not run the coordination loop
func (c *Config) Gated() bool {
	return c.RunsOnSupervisor && !c.SupervisorNode
}

// overlay copies values present in a TOML document into d, keyed by the
// environment variable they stand for.
func (d defaults) overlay(data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return err
	}

	set := func(key, value string) {
		if value != "" {
			d[key] = value
		}
	}
	setBool := func(key string, value *bool) {
		if value != nil {
			d[key] = strconv.FormatBool(*value)
		}
	}
	setInt := func(key string, value int) {
		if value != 0 {
			d[key] = strconv.Itoa(value)
		}
	}

	set("SERVICE_NAME", fc.Service.Name)
	set("ENVIRONMENT", fc.Service.Environment)
	set("LOG_LEVEL", fc.Service.LogLevel)
	set("LOG_FORMAT", fc.Service.LogFormat)
	set("STATUS_ADDR", fc.Service.StatusAddr)

	set("PROCESS_DELAY", fc.Oracle.ProcessDelay)
	set("SLEEP_PERIOD", fc.Oracle.SleepPeriod)
	set("CALL_TIMEOUT", fc.Oracle.CallTimeout)
	set("LIVENESS_INTERVAL", fc.Oracle.LivenessInterval)
	set("LIVENESS_HKEY", fc.Oracle.LivenessHKey)
	setInt("REWARD_WINDOW_MAX", fc.Oracle.RewardWindowMax)
	setInt("CLOSURE_WINDOW_MAX", fc.Oracle.ClosureWindowMax)
	set("STATE_RETENTION", fc.Oracle.StateRetention)
	setBool("SUPERVISOR_NODE", fc.Oracle.SupervisorNode)
	setBool("RUNS_ONLY_ON_SUPERVISOR", fc.Oracle.RunsOnSupervisor)

	set("REDIS_URL", fc.Store.RedisURL)
	setBool("STORE_DEBUG", fc.Store.Debug)

	set("LEDGER_RPC_URL", fc.Ledger.RPCURL)
	set("LEDGER_CONTRACT", fc.Ledger.Contract)
	set("LEDGER_SUBMIT_TIMEOUT", fc.Ledger.SubmitTimeout)

	set("EPOCH_GENESIS", fc.Epoch.Genesis)
	set("EPOCH_LENGTH", fc.Epoch.Length)

	if len(fc.Kafka.Brokers) > 0 {
		d["KAFKA_BROKERS"] = strings.Join(fc.Kafka.Brokers, ",")
	}
	set("KAFKA_GROUP_ID", fc.Kafka.GroupID)
	set("HEARTBEAT_TOPIC", fc.Kafka.HeartbeatTopic)
	set("EVENTS_TOPIC", fc.Kafka.EventsTopic)
	set("NODE_TTL", fc.Kafka.NodeTTL)

	set("POSTGRES_URL", fc.Audit.PostgresURL)
	set("INFLUX_URL", fc.Audit.InfluxURL)
	set("INFLUX_ORG", fc.Audit.InfluxOrg)
	set("INFLUX_BUCKET", fc.Audit.InfluxBucket)

	return nil
}

// Helper functions for layered lookups: environment, then file, then default

func (d defaults) get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value, ok := d[key]; ok {
		return value
	}
	return defaultValue
}

func (d defaults) getInt(key string, defaultValue int) int {
	if parsed, err := strconv.Atoi(d.get(key, "")); err == nil {
		return parsed
	}
	return defaultValue
}

func (d defaults) getBool(key string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(d.get(key, "")); err == nil {
		return parsed
	}
	return defaultValue
}

func (d defaults) getDuration(key string, defaultValue time.Duration) time.Duration {
	if parsed, err := time.ParseDuration(d.get(key, "")); err == nil {
		return parsed
	}
	return defaultValue
}

func (d defaults) getSlice(key string, defaultValue []string) []string {
	value := d.get(key, "")
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
