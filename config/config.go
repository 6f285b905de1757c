package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Duration is a time.Duration written as a string ("10s") in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config struct to hold configuration from toml file
type Config struct {
	Controller ControllerConfig `toml:"controller"`
	Rules      RulesConfig      `toml:"rules"`
	Routing    RoutingConfig    `toml:"routing"`
	PacketIn   PacketInConfig   `toml:"packet_in"`
	Southbound SouthboundConfig `toml:"southbound"`
	Etcd       EtcdConfig       `toml:"etcd"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Health     HealthConfig     `toml:"health"`
	Log        LogConfig        `toml:"log"`
}

type ControllerConfig struct {
	PollPeriod Duration `toml:"poll_period"`
}

type RulesConfig struct {
	Priority    uint16 `toml:"priority"`
	IdleTimeout uint16 `toml:"idle_timeout"`
	HardTimeout uint16 `toml:"hard_timeout"`
}

type RoutingConfig struct {
	Selector string `toml:"selector"`
	Workers  int    `toml:"workers"`
}

type PacketInConfig struct {
	LearningTTL Duration `toml:"learning_ttl"`
}

type SouthboundConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type EtcdConfig struct {
	Endpoints   []string `toml:"endpoints"`
	DialTimeout Duration `toml:"dial_timeout"`
	Prefix      string   `toml:"prefix"`
}

type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type HealthConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Dir        string `toml:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Default returns the configuration used for every key the file leaves out
func Default() *Config {
	return &Config{
		Controller: ControllerConfig{PollPeriod: Duration{10 * time.Second}},
		Rules: RulesConfig{
			Priority:    0x8000,
			IdleTimeout: 1000,
			HardTimeout: 0,
		},
		Routing: RoutingConfig{
			Selector: "first",
			Workers:  16,
		},
		Southbound: SouthboundConfig{ListenAddr: ":6653"},
		Etcd: EtcdConfig{
			Endpoints:   []string{"localhost:2379"},
			DialTimeout: Duration{5 * time.Second},
			Prefix:      "/topology",
		},
		Metrics: MetricsConfig{ListenAddr: ":9100"},
		Health:  HealthConfig{ListenAddr: ":50051"},
		Log: LogConfig{
			Level:      "info",
			Dir:        "./logs",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		log.Warningf("Load, unknown config key %q in %s", key.String(), path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Controller.PollPeriod.Duration <= 0 {
		return errors.New("controller.poll_period must be positive")
	}
	if c.PacketIn.LearningTTL.Duration < 0 {
		return errors.New("packet_in.learning_ttl must not be negative")
	}
	if c.Routing.Workers < 0 {
		return errors.New("routing.workers must not be negative")
	}
	return nil
}
