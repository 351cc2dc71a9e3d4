package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the ingest service. It is built
// once at startup and passed into constructors; business logic never reads
// the environment directly.
type Config struct {
	// HTTP listen address
	ListenAddr string `yaml:"listen_addr"`
	// Optional shared token for the webhook endpoint; empty disables auth
	APIToken string `yaml:"api_token"`
	// Log level (zerolog level string)
	LogLevel string `yaml:"log_level"`

	// Alerting
	Alert AlertConfig `yaml:"alert"`
	// Outbound mail
	Mail MailConfig `yaml:"mail"`
	// Record archive
	Storage StorageConfig `yaml:"storage"`
	// Optional Kafka mirror of archived records
	Kafka KafkaConfig `yaml:"kafka"`
}

// AlertConfig tunes the alert decision engine.
type AlertConfig struct {
	// Minutes a dispatched reason suppresses repeats for the same device
	ExpirationMinutes int `yaml:"expiration_minutes"`
	// Transmission latency above this many minutes raises a latency alert
	MaxLatencyMinutes int `yaml:"max_latency_minutes"`
	// Recipient for deploy-track alerts (invalid data, device errors, latency)
	RecipientDeploy string `yaml:"recipient_deploy"`
	// Recipient for develop-track alerts (unknown formats, malformed payloads)
	RecipientDevelop string `yaml:"recipient_develop"`
}

// MailConfig carries SMTP transport settings.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Sender   string `yaml:"sender"`
	Password string `yaml:"password"`
}

// StorageConfig points the archive at its object store.
type StorageConfig struct {
	// Root directory for the file-backed store
	Dir string `yaml:"dir"`
}

// KafkaConfig enables the record mirror when brokers are set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Alert: AlertConfig{
			ExpirationMinutes: 360,
			MaxLatencyMinutes: 30,
		},
		Mail: MailConfig{
			Port: 587,
		},
		Storage: StorageConfig{
			Dir: "data",
		},
		Kafka: KafkaConfig{
			Topic: "sensor-records",
		},
	}
}

// Load builds the config from defaults, an optional YAML file, and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the deployment environment variables. Names match the
// original deployment so existing app settings keep working.
func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.APIToken, "API_TOKEN")
	setString(&c.LogLevel, "LOG_LEVEL")

	setInt(&c.Alert.ExpirationMinutes, "ALERT_EXPIRATION_MINUTES")
	setInt(&c.Alert.MaxLatencyMinutes, "MAX_LATENCY_MINUTES")
	setString(&c.Alert.RecipientDeploy, "EMAIL_RECIPIENT_DEPLOY")
	setString(&c.Alert.RecipientDevelop, "EMAIL_RECIPIENT_DEVELOP")

	setString(&c.Mail.Host, "EMAIL_HOST")
	setInt(&c.Mail.Port, "EMAIL_PORT")
	setString(&c.Mail.Sender, "EMAIL_SENDER")
	setString(&c.Mail.Password, "EMAIL_PASSWORD")

	setString(&c.Storage.Dir, "BLOB_DIR")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitCSV(v)
	}
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
}

func (c *Config) validate() error {
	if c.Alert.ExpirationMinutes <= 0 {
		return fmt.Errorf("alert expiration must be positive, got %d", c.Alert.ExpirationMinutes)
	}
	if c.Alert.MaxLatencyMinutes <= 0 {
		return fmt.Errorf("latency threshold must be positive, got %d", c.Alert.MaxLatencyMinutes)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
