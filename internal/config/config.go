// Package config provides configuration types and loading for zaplink.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Gateway, Server, Webhook, Poller, ReplyCache,
// Hub, Kafka, Slack.
type Config struct {
	Paths      PathsConfig      `json:"paths"`
	Gateway    GatewayConfig    `json:"gateway"`
	Server     ServerConfig     `json:"server"`
	Webhook    WebhookConfig    `json:"webhook"`
	Poller     PollerConfig     `json:"poller"`
	ReplyCache ReplyCacheConfig `json:"replyCache"`
	Hub        HubConfig        `json:"hub"`
	Kafka      KafkaConfig      `json:"kafka"`
	Slack      SlackConfig      `json:"slack"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// GatewayConfig points at the external WhatsApp HTTP gateway.
type GatewayConfig struct {
	BaseURL string `json:"baseUrl" envconfig:"BASE_URL"`
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
}

// ServerConfig contains the local HTTP server settings.
type ServerConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
}

// WebhookConfig tunes inbound event handling.
type WebhookConfig struct {
	DedupTTL time.Duration `json:"dedupTtl" envconfig:"DEDUP_TTL"`
}

// PollerConfig tunes status reconciliation.
type PollerConfig struct {
	Interval      time.Duration `json:"interval" envconfig:"INTERVAL"`
	MaxUnattended time.Duration `json:"maxUnattended" envconfig:"MAX_UNATTENDED"`
}

// ReplyCacheConfig tunes the short-lived reply cache.
type ReplyCacheConfig struct {
	TTL      time.Duration `json:"ttl" envconfig:"TTL"`
	Capacity int           `json:"capacity" envconfig:"CAPACITY"`
}

// HubConfig tunes observer sessions.
type HubConfig struct {
	LivenessTTL time.Duration `json:"livenessTtl" envconfig:"LIVENESS_TTL"`
}

// KafkaConfig enables the transition audit relay.
type KafkaConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers string `json:"brokers" envconfig:"BROKERS"`
	Topic   string `json:"topic" envconfig:"TOPIC"`
}

// SlackConfig enables error alerting.
type SlackConfig struct {
	Token   string `json:"token" envconfig:"TOKEN"`
	Channel string `json:"channel" envconfig:"CHANNEL"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.zaplink",
		},
		Gateway: GatewayConfig{
			BaseURL: "http://localhost:8080",
		},
		Server: ServerConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18890,
		},
		Webhook: WebhookConfig{
			DedupTTL: 10 * time.Minute,
		},
		Poller: PollerConfig{
			Interval:      5 * time.Second,
			MaxUnattended: 3 * time.Minute,
		},
		ReplyCache: ReplyCacheConfig{
			TTL:      5 * time.Minute,
			Capacity: 256,
		},
		Hub: HubConfig{
			LivenessTTL: 90 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: "localhost:9092",
			Topic:   "zaplink.instance.transitions",
		},
	}
}
