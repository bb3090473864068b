package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

type (
	Config struct {
		Gateway   GatewayConfig            `yaml:"gateway"`
		Logging   LoggingConfig            `yaml:"logging"`
		Audit     AuditConfig              `yaml:"audit"`
		Scheduler SchedulerConfig          `yaml:"scheduler"`
		LoopGuard LoopGuardConfig          `yaml:"loop_guard"`
		Executor  ExecutorConfig           `yaml:"executor"`
		Metrics   MetricsConfig            `yaml:"metrics"`
		Channels  map[string]ChannelConfig `yaml:"channels"`
	}

	GatewayConfig struct {
		Bind           string `yaml:"bind"`
		RequestTimeout int    `yaml:"request_timeout"` // seconds
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
		Compress   bool   `yaml:"compress"`
	}

	// AuditConfig locates the event log and the journal. Relative paths are
	// resolved against the strix home.
	AuditConfig struct {
		EventsFile  string `yaml:"events_file"`
		JournalFile string `yaml:"journal_file"`
		MaxSizeMB   int    `yaml:"max_size_mb"`
		MaxBackups  int    `yaml:"max_backups"`
		Compress    bool   `yaml:"compress"`
	}

	SchedulerConfig struct {
		Enabled      *bool  `yaml:"enabled"`
		File         string `yaml:"file"`
		TickInterval string `yaml:"tick_interval"`
		Watch        *bool  `yaml:"watch"`
	}

	LoopGuardConfig struct {
		SoftLimit           int     `yaml:"soft_limit"`
		HardLimit           int     `yaml:"hard_limit"`
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
	}

	ExecutorConfig struct {
		Type    string            `yaml:"type"` // echo, webhook
		URL     string            `yaml:"url,omitempty"`
		Timeout int               `yaml:"timeout,omitempty"` // seconds, 0 waits forever
		Headers map[string]string `yaml:"headers,omitempty"`
	}

	MetricsConfig struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
	}

	ChannelConfig struct {
		ID      string                 `yaml:"-"`
		Type    string                 `yaml:"type"` // telegram, http
		Enabled bool                   `yaml:"enabled"`
		Config  map[string]interface{} `yaml:"config,omitempty"`
	}
)

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }
func (s SchedulerConfig) IsWatched() bool { return s.Watch == nil || *s.Watch }
func (m MetricsConfig) IsEnabled() bool   { return m.Enabled == nil || *m.Enabled }

// Tick returns the parsed tick interval. Validate guarantees it parses.
func (s SchedulerConfig) Tick() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s.TickInterval))
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// Default returns a validated configuration with every default filled in.
func Default() *Config {
	cfg := &Config{
		Channels: map[string]ChannelConfig{
			"http": {Type: "http", Enabled: true},
			"tg": {
				Type:    "telegram",
				Enabled: false,
				Config:  map[string]interface{}{"token": ""},
			},
		},
	}
	_ = cfg.Validate()
	return cfg
}

// Clone .
func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("config is nil")
	}

	raw, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var cloned Config
	if err := sonic.Unmarshal(raw, &cloned); err != nil {
		return nil, fmt.Errorf("unmarshal config clone: %w", err)
	}

	return &cloned, nil
}
