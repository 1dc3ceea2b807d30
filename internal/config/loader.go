package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".zaplink"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("ZAPLINK_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("ZAPLINK_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.config/zaplink/env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	// If file doesn't exist, continue with defaults

	// Override with environment variables for each group
	envconfig.Process("ZAPLINK_PATHS", &cfg.Paths)
	envconfig.Process("ZAPLINK_GATEWAY", &cfg.Gateway)
	envconfig.Process("ZAPLINK_SERVER", &cfg.Server)
	envconfig.Process("ZAPLINK_WEBHOOK", &cfg.Webhook)
	envconfig.Process("ZAPLINK_POLLER", &cfg.Poller)
	envconfig.Process("ZAPLINK_REPLY_CACHE", &cfg.ReplyCache)
	envconfig.Process("ZAPLINK_HUB", &cfg.Hub)
	envconfig.Process("ZAPLINK_KAFKA", &cfg.Kafka)
	envconfig.Process("ZAPLINK_SLACK", &cfg.Slack)

	// Fallback for the gateway API key
	if cfg.Gateway.APIKey == "" {
		if key := os.Getenv("WHATSAPP_GATEWAY_API_KEY"); key != "" {
			cfg.Gateway.APIKey = key
		}
	}

	// Expand ~ in paths
	if strings.HasPrefix(cfg.Paths.DataDir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Paths.DataDir = filepath.Join(home, cfg.Paths.DataDir[1:])
		}
	}

	if cfg.Poller.Interval <= 0 {
		cfg.Poller.Interval = DefaultConfig().Poller.Interval
	}
	if cfg.Poller.MaxUnattended <= 0 {
		cfg.Poller.MaxUnattended = DefaultConfig().Poller.MaxUnattended
	}
	if cfg.ReplyCache.Capacity <= 0 {
		cfg.ReplyCache.Capacity = DefaultConfig().ReplyCache.Capacity
	}

	return cfg, nil
}

// DatabasePath returns the sqlite file holding instance state.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "instances.db")
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
