// Package config loads the beehive server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath     string            `yaml:"db_path" validate:"required"`
	ServerHost string            `yaml:"server_host"`
	NATS       NATSConfig        `yaml:"nats"`
	Sessions   SessionsConfig    `yaml:"sessions"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	DNS        DNSConfig         `yaml:"dns"`
	Kafka      KafkaConfig       `yaml:"kafka"`
	BaitUsers  map[string]string `yaml:"bait_users"`
}

type NATSConfig struct {
	URL                      string        `yaml:"url" validate:"required"`
	RawSessionsSubject       string        `yaml:"raw_sessions_subject" validate:"required"`
	ProcessedSessionsSubject string        `yaml:"processed_sessions_subject" validate:"required"`
	CommandsSubject          string        `yaml:"commands_subject" validate:"required"`
	DroneCommandsPrefix      string        `yaml:"drone_commands_prefix" validate:"required"`
	RequestTimeout           time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// SessionsConfig controls ingestion, correlation and retention.
type SessionsConfig struct {
	// MaxSessions caps the store. -1 means unlimited, 0 disables ingestion.
	MaxSessions             int           `yaml:"max_sessions" validate:"gte=-1"`
	DelaySeconds            int           `yaml:"delay_seconds" validate:"gt=1"`
	CorrelationWindow       int           `yaml:"correlation_window" validate:"gte=0"`
	BaitSessionRetain       int           `yaml:"bait_session_retain" validate:"gte=1"`
	MaliciousSessionRetain  int           `yaml:"malicious_session_retain" validate:"gte=1"`
	IgnoreFailedBaitSession bool          `yaml:"ignore_failed_bait_session"`
	ClearSessions           bool          `yaml:"clear_sessions"`
	MaxClockSkew            time.Duration `yaml:"max_clock_skew" validate:"gte=0"`
	MaintenanceInterval     time.Duration `yaml:"maintenance_interval" validate:"gt=0"`
	RecentIDCache           int           `yaml:"recent_id_cache" validate:"gte=1"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" validate:"gte=0,lte=65535"`
}

type DNSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"gte=0,lte=65535"`
	Domain  string `yaml:"domain" validate:"required_if=Enabled true"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" validate:"required_with=Brokers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath: "beehive.db",
		NATS: NATSConfig{
			URL:                      "nats://127.0.0.1:4222",
			RawSessionsSubject:       "beehive.sessions.raw",
			ProcessedSessionsSubject: "beehive.sessions.processed",
			CommandsSubject:          "beehive.commands",
			DroneCommandsPrefix:      "beehive.drones",
			RequestTimeout:           5 * time.Second,
		},
		Sessions: SessionsConfig{
			MaxSessions:            -1,
			DelaySeconds:           30,
			CorrelationWindow:      5,
			BaitSessionRetain:      2,
			MaliciousSessionRetain: 100,
			MaxClockSkew:           24 * time.Hour,
			MaintenanceInterval:    time.Hour,
			RecentIDCache:          4096,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9464,
		},
		DNS: DNSConfig{
			Port:   5353,
			Domain: "drones.beehive.local",
		},
		Kafka: KafkaConfig{
			Topic: "beehive.sessions",
		},
	}
}

// Load builds a configuration from defaults, the optional YAML file at path
// and BEEHIVE_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	for user := range c.BaitUsers {
		if strings.ContainsAny(user, " \t\n") {
			return fmt.Errorf("invalid config: bait user %q contains whitespace", user)
		}
	}
	return nil
}

// Delay is the classification delay as a duration.
func (s SessionsConfig) Delay() time.Duration {
	return time.Duration(s.DelaySeconds) * time.Second
}

func applyEnv(cfg *Config) error {
	cfg.DBPath = getEnv("BEEHIVE_DB", cfg.DBPath)
	cfg.ServerHost = getEnv("BEEHIVE_SERVER_HOST", cfg.ServerHost)
	cfg.NATS.URL = getEnv("BEEHIVE_NATS_URL", cfg.NATS.URL)
	cfg.DNS.Domain = getEnv("BEEHIVE_DNS_DOMAIN", cfg.DNS.Domain)
	cfg.Kafka.Topic = getEnv("BEEHIVE_KAFKA_TOPIC", cfg.Kafka.Topic)
	if brokers := os.Getenv("BEEHIVE_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	ints := []struct {
		key  string
		dest *int
	}{
		{"BEEHIVE_MAX_SESSIONS", &cfg.Sessions.MaxSessions},
		{"BEEHIVE_DELAY_SECONDS", &cfg.Sessions.DelaySeconds},
		{"BEEHIVE_BAIT_SESSION_RETAIN", &cfg.Sessions.BaitSessionRetain},
		{"BEEHIVE_MALICIOUS_SESSION_RETAIN", &cfg.Sessions.MaliciousSessionRetain},
		{"BEEHIVE_METRICS_PORT", &cfg.Metrics.Port},
		{"BEEHIVE_DNS_PORT", &cfg.DNS.Port},
	}
	for _, e := range ints {
		v, err := getEnvInt(e.key, *e.dest)
		if err != nil {
			return err
		}
		*e.dest = v
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
