// Package config loads the hubchat settings file. Flags on the CLI override
// anything found here.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// HubURL is the websocket endpoint of the chat hub.
	HubURL string `yaml:"hub_url"`
	// TypingSpeedMS is the reveal pacing tick in milliseconds.
	TypingSpeedMS int `yaml:"typing_speed_ms"`
	// DefaultMode is the agent mode used for new conversations.
	DefaultMode string `yaml:"mode"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
}

func Default() Config {
	return Config{
		HubURL:        "ws://localhost:5038/chathub",
		TypingSpeedMS: 30,
		DefaultMode:   "AzureOnly",
		LogLevel:      "info",
	}
}

// DefaultPath is ~/.config/hubchat/config.yaml, or empty when the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hubchat", "config.yaml")
}

// Load reads the config at path, falling back to defaults when the file does
// not exist. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if cfg.HubURL == "" {
		cfg.HubURL = Default().HubURL
	}
	if cfg.TypingSpeedMS <= 0 {
		cfg.TypingSpeedMS = Default().TypingSpeedMS
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = Default().DefaultMode
	}
	return cfg, nil
}

func (c Config) TypingSpeed() time.Duration {
	return time.Duration(c.TypingSpeedMS) * time.Millisecond
}
