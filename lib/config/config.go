// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/meshbridge/channelmap"
)

// EnvironmentVariable names the variable Load reads the path from.
const EnvironmentVariable = "MESHBRIDGE_CONFIG"

// Config is the complete bridge configuration.
type Config struct {
	MeshCore MeshCoreConfig `yaml:"meshcore"`
	Discord  DiscordConfig  `yaml:"discord"`
	Logging  LoggingConfig  `yaml:"logging"`
	Control  ControlConfig  `yaml:"control"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

// MeshCoreConfig describes the companion radio's TCP endpoint.
type MeshCoreConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Channels maps a topic to the mesh channel index whose text it
	// carries. A topic listed here must also have a Discord channel.
	Channels map[string]int `yaml:"channels"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	// SyncInterval is the period of the unsolicited message sync.
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// ReconnectConfig is the backoff policy for one link.
type ReconnectConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
	// Jitter is the fractional spread applied to each delay (0.2 is
	// plus or minus 20%).
	Jitter float64 `yaml:"jitter"`
}

// DiscordConfig holds the bot credential, channel table, and send
// budget.
type DiscordConfig struct {
	// Token is the bot token inline. Mutually exclusive with TokenFile.
	Token string `yaml:"token"`

	// TokenFile holds the token, in plain text or age-encrypted.
	TokenFile string `yaml:"token_file"`

	// IdentityFile is the age identity that decrypts TokenFile.
	IdentityFile string `yaml:"identity_file"`

	// Channels maps a topic to a Discord channel snowflake.
	Channels map[string]string `yaml:"channels"`

	// Compress selects gateway transport compression: "" (none),
	// "zlib-stream", or "zstd-stream".
	Compress string `yaml:"compress"`

	Rate RateConfig `yaml:"rate"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	// APIBase overrides https://discord.com/api/v10.
	APIBase string `yaml:"api_base"`
}

// RateConfig is the per-channel token bucket for outbound sends.
type RateConfig struct {
	Capacity       int           `yaml:"capacity"`
	RefillInterval time.Duration `yaml:"refill_interval"`
	MaxWait        time.Duration `yaml:"max_wait"`
}

// LoggingConfig selects the log level and an optional JSON log file.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ControlConfig enables the local control socket when SocketPath is set.
type ControlConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// BridgeConfig tunes the coordinator.
type BridgeConfig struct {
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	// StatsInterval of zero disables the periodic statistics log.
	StatsInterval time.Duration `yaml:"stats_interval"`
	QueueSize     int           `yaml:"queue_size"`
	// RelayToMesh forwards Discord messages onto the mesh.
	RelayToMesh bool `yaml:"relay_to_mesh"`
}

// Compression modes accepted by DiscordConfig.Compress.
const (
	CompressNone = ""
	CompressZlib = "zlib-stream"
	CompressZstd = "zstd-stream"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Default returns the configuration every file is decoded on top of.
// Host, credentials, and channels have no defaults.
func Default() *Config {
	return &Config{
		MeshCore: MeshCoreConfig{
			Port:         4000,
			SyncInterval: 30 * time.Second,
			Reconnect: ReconnectConfig{
				Initial: time.Second,
				Max:     30 * time.Second,
				Jitter:  0.2,
			},
		},
		Discord: DiscordConfig{
			Rate: RateConfig{
				Capacity:       5,
				RefillInterval: time.Second,
				MaxWait:        30 * time.Second,
			},
			Reconnect: ReconnectConfig{
				Initial: time.Second,
				Max:     60 * time.Second,
				Jitter:  0.2,
			},
		},
		Logging: LoggingConfig{Level: "info"},
		Bridge: BridgeConfig{
			ShutdownGrace: 3 * time.Second,
			StatsInterval: 5 * time.Minute,
			QueueSize:     256,
			RelayToMesh:   true,
		},
	}
}

// Load reads the file named by MESHBRIDGE_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your meshbridge config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads path over Default() and expands variables. It does
// not validate; call Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so one decoder and one set of
		// struct tags serve both once comments are stripped.
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Discord.Token = expandVars(c.Discord.Token)
	c.Discord.TokenFile = expandVars(c.Discord.TokenFile)
	c.Discord.IdentityFile = expandVars(c.Discord.IdentityFile)
	c.MeshCore.Host = expandVars(c.MeshCore.Host)
	c.Logging.File = expandVars(c.Logging.File)
	c.Control.SocketPath = expandVars(c.Control.SocketPath)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} from the environment.
func expandVars(value string) string {
	return varPattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if environmentValue := os.Getenv(parts[1]); environmentValue != "" {
			return environmentValue
		}
		return parts[2]
	})
}

// Validate checks the configuration and returns every problem found,
// joined.
func (c *Config) Validate() error {
	var errs []error

	if c.MeshCore.Host == "" {
		errs = append(errs, fmt.Errorf("meshcore.host is required"))
	}
	if c.MeshCore.Port < 1 || c.MeshCore.Port > 65535 {
		errs = append(errs, fmt.Errorf("meshcore.port must be 1-65535, got %d", c.MeshCore.Port))
	}
	if c.MeshCore.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("meshcore.sync_interval must be positive"))
	}
	errs = append(errs, c.MeshCore.Reconnect.validate("meshcore.reconnect")...)
	errs = append(errs, c.Discord.Reconnect.validate("discord.reconnect")...)

	switch {
	case c.Discord.Token == "" && c.Discord.TokenFile == "":
		errs = append(errs, fmt.Errorf("one of discord.token or discord.token_file is required"))
	case c.Discord.Token != "" && c.Discord.TokenFile != "":
		errs = append(errs, fmt.Errorf("discord.token and discord.token_file are mutually exclusive"))
	}
	if c.Discord.IdentityFile != "" && c.Discord.TokenFile == "" {
		errs = append(errs, fmt.Errorf("discord.identity_file requires discord.token_file"))
	}
	if !slices.Contains([]string{CompressNone, CompressZlib, CompressZstd}, c.Discord.Compress) {
		errs = append(errs, fmt.Errorf("discord.compress must be one of %q, %q, %q; got %q",
			CompressNone, CompressZlib, CompressZstd, c.Discord.Compress))
	}
	if c.Discord.Rate.Capacity < 1 {
		errs = append(errs, fmt.Errorf("discord.rate.capacity must be at least 1"))
	}
	if c.Discord.Rate.RefillInterval <= 0 {
		errs = append(errs, fmt.Errorf("discord.rate.refill_interval must be positive"))
	}
	if c.Discord.Rate.MaxWait < 0 {
		errs = append(errs, fmt.Errorf("discord.rate.max_wait must not be negative"))
	}

	if len(c.Discord.Channels) == 0 {
		errs = append(errs, fmt.Errorf("discord.channels must map at least one topic"))
	} else if _, err := c.ChannelMap(); err != nil {
		errs = append(errs, err)
	}

	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of %v, got %q", logLevels, c.Logging.Level))
	}
	if c.Bridge.ShutdownGrace <= 0 {
		errs = append(errs, fmt.Errorf("bridge.shutdown_grace must be positive"))
	}
	if c.Bridge.StatsInterval < 0 {
		errs = append(errs, fmt.Errorf("bridge.stats_interval must not be negative"))
	}
	if c.Bridge.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("bridge.queue_size must be at least 1"))
	}

	return errors.Join(errs...)
}

func (r ReconnectConfig) validate(prefix string) []error {
	var errs []error
	if r.Initial <= 0 {
		errs = append(errs, fmt.Errorf("%s.initial must be positive", prefix))
	}
	if r.Max < r.Initial {
		errs = append(errs, fmt.Errorf("%s.max must be at least %s.initial", prefix, prefix))
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("%s.jitter must be in [0, 1), got %v", prefix, r.Jitter))
	}
	return errs
}

// ChannelMap builds the topic table from discord.channels and
// meshcore.channels.
func (c *Config) ChannelMap() (*channelmap.Map, error) {
	routes := make(map[channelmap.Topic]channelmap.Route, len(c.Discord.Channels))
	for topic, value := range c.Discord.Channels {
		id, err := channelmap.ParseChannelID(value)
		if err != nil {
			return nil, fmt.Errorf("discord.channels.%s: %w", topic, err)
		}
		routes[channelmap.Topic(topic)] = channelmap.Route{ChatChannel: id}
	}
	for topic, index := range c.MeshCore.Channels {
		route, ok := routes[channelmap.Topic(topic)]
		if !ok {
			return nil, fmt.Errorf("meshcore.channels.%s has no matching discord.channels entry", topic)
		}
		if index < 0 || index > 255 {
			return nil, fmt.Errorf("meshcore.channels.%s must be 0-255, got %d", topic, index)
		}
		route.MeshChannel = uint8(index)
		route.HasMeshChannel = true
		routes[channelmap.Topic(topic)] = route
	}
	return channelmap.New(routes)
}
