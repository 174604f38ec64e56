// Package config holds the two configuration layers: the server config.yaml
// (operator-tunable, never required) and the user settings file at
// ~/.jacques/config.json whose schema is fixed by the client protocol.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Socket      SocketConfig      `yaml:"socket"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Registry    RegistryConfig    `yaml:"registry"`
	Models      map[string]int    `yaml:"models"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	APIPort int    `yaml:"api_port"`
	WSPort  int    `yaml:"ws_port"`
	Host    string `yaml:"host"`
}

type SocketConfig struct {
	Path string `yaml:"path"`
}

type TranscriptsConfig struct {
	// Root overrides the AI tool data directory (~/.claude when empty).
	Root string `yaml:"root"`
	// ProcessNames are the executables startup discovery scans for.
	ProcessNames []string `yaml:"process_names"`
}

type RegistryConfig struct {
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	DiscoveryWindow time.Duration `yaml:"discovery_window"`
	SubscriberQueue int           `yaml:"subscriber_queue"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config.yaml at path, overlaying it onto defaults. A missing
// file yields pure defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			APIPort: 4777,
			WSPort:  4778,
			Host:    "127.0.0.1",
		},
		Socket: SocketConfig{
			Path: "/tmp/jacques.sock",
		},
		Transcripts: TranscriptsConfig{
			ProcessNames: []string{"claude", "cursor-agent"},
		},
		Registry: RegistryConfig{
			JanitorInterval: 30 * time.Second,
			DiscoveryWindow: 60 * time.Second,
			SubscriberQueue: 1024,
		},
		Models: map[string]int{
			"default": 200000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// WindowSize returns the context window for a model. Entries act as
// prefixes, so a dated release name matches its undated entry; unknown
// models fall back to "default".
func (c *Config) WindowSize(model string) int {
	if n, ok := c.Models[model]; ok {
		return n
	}
	best := ""
	for name := range c.Models {
		if name != "default" && strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return c.Models[best]
	}
	if n, ok := c.Models["default"]; ok {
		return n
	}
	return 200000
}
