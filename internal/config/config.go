package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	yaml "github.com/goccy/go-yaml"

	"tickrt/internal/job"
	"tickrt/internal/sched"
)

// Config mirrors config.yml.
type Config struct {
	TickMS           int    `yaml:"tick_ms"`       // 1 (by default): host period of one tick
	TicksPerSec      uint32 `yaml:"ticks_per_sec"` // 1000 (by default)
	StartTick        uint32 `yaml:"start_tick"`
	EventBuffer      int    `yaml:"event_buffer"` // 256 (by default)
	FaultOnQueueFull bool   `yaml:"fault_on_queue_full"`
	PoolSlots        int    `yaml:"pool_slots"`    // 10 (by default)
	PublishEvery     uint32 `yaml:"publish_every"` // 0 (by default): no external events

	LogLevel    string `yaml:"log_level"`  // info (by default)
	LogFormat   string `yaml:"log_format"` // console or json
	TraceCSV    string `yaml:"trace_csv"`
	MetricsAddr string `yaml:"metrics_addr"`

	Demo job.Config `yaml:"demo"`
}

// timingKeys records which demo timings the YAML sets explicitly.
type timingKeys struct {
	Demo struct {
		ConsumerWait  *sched.Timeout `yaml:"consumer_wait"`
		ConsumerDelay *sched.Timeout `yaml:"consumer_delay"`
		SignalerWait  *sched.Timeout `yaml:"signaler_wait"`
		SignalerDelay *sched.Timeout `yaml:"signaler_delay"`
	} `yaml:"demo"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		TickMS:      1,
		TicksPerSec: 1000,
		EventBuffer: 256,
		PoolSlots:   10,
		LogLevel:    "info",
		LogFormat:   "console",
		Demo:        job.DefaultConfig(1000),
	}
}

// Load reads YAML over the defaults; an empty path or a missing file means
// defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies the sanity clamps and rejects
// demo settings the kernel would refuse at run time.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config: %w", err)
	}

	var set timingKeys
	if err := yaml.Unmarshal(data, &set); err != nil {
		return Default(), fmt.Errorf("parse config: %w", err)
	}

	// a changed tick rate rescales every timing the file leaves out
	stock := job.DefaultConfig(1000)
	if cfg.TicksPerSec == 0 {
		cfg.TicksPerSec = 1000
	}
	if cfg.TicksPerSec != 1000 {
		scaled := job.DefaultConfig(cfg.TicksPerSec)
		if set.Demo.ConsumerWait == nil {
			cfg.Demo.ConsumerWait = scaled.ConsumerWait
		}
		if set.Demo.ConsumerDelay == nil {
			cfg.Demo.ConsumerDelay = scaled.ConsumerDelay
		}
		if set.Demo.SignalerWait == nil {
			cfg.Demo.SignalerWait = scaled.SignalerWait
		}
		if set.Demo.SignalerDelay == nil {
			cfg.Demo.SignalerDelay = scaled.SignalerDelay
		}
	}

	// sanity clamps
	if cfg.TickMS <= 0 {
		cfg.TickMS = 1
	}
	if cfg.EventBuffer < 0 {
		cfg.EventBuffer = 0
	}
	if cfg.PoolSlots <= 0 {
		cfg.PoolSlots = 10
	}
	if cfg.Demo.QueueCap <= 0 {
		cfg.Demo.QueueCap = stock.QueueCap
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.Demo.Validate(); err != nil {
		return Default(), fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
