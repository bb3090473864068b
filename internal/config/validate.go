package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tgifai/strix/internal/consts"
)

const (
	defaultBind           = "127.0.0.1:8080"
	defaultRequestTimeout = 60
	defaultAuditMaxSizeMB = 1
	defaultTickInterval   = "1s"
	defaultSoftLimit      = 3
	defaultHardLimit      = 10
	defaultSimilarity     = 0.98
	defaultMetricsPath    = "/metrics"

	ExecutorEcho    = "echo"
	ExecutorWebhook = "webhook"
)

var channelTypes = map[string]struct{}{
	"telegram": {},
	"http":     {},
	"stdin":    {},
}

// Validate fills defaults and rejects settings the runtime cannot use.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	c.Gateway.Bind = strings.TrimSpace(c.Gateway.Bind)
	if c.Gateway.Bind == "" {
		c.Gateway.Bind = defaultBind
	}
	if c.Gateway.RequestTimeout <= 0 {
		c.Gateway.RequestTimeout = defaultRequestTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Logging.Output != "stdout" && strings.TrimSpace(c.Logging.File) == "" {
		c.Logging.File = filepath.Join(consts.LogsDirName, "strix.log")
	}

	c.Audit.EventsFile = strings.TrimSpace(c.Audit.EventsFile)
	if c.Audit.EventsFile == "" {
		c.Audit.EventsFile = filepath.Join(consts.LogsDirName, consts.EventsFileName)
	}
	c.Audit.JournalFile = strings.TrimSpace(c.Audit.JournalFile)
	if c.Audit.JournalFile == "" {
		c.Audit.JournalFile = filepath.Join(consts.LogsDirName, consts.JournalFileName)
	}
	if c.Audit.MaxSizeMB <= 0 {
		c.Audit.MaxSizeMB = defaultAuditMaxSizeMB
	}
	if c.Audit.MaxBackups < 0 {
		return errors.New("audit.max_backups cannot be negative")
	}

	if c.Scheduler.Enabled == nil {
		enabled := true
		c.Scheduler.Enabled = &enabled
	}
	if c.Scheduler.Watch == nil {
		watch := true
		c.Scheduler.Watch = &watch
	}
	c.Scheduler.File = strings.TrimSpace(c.Scheduler.File)
	if c.Scheduler.File == "" {
		c.Scheduler.File = consts.SchedulerFileName
	}
	c.Scheduler.TickInterval = strings.TrimSpace(c.Scheduler.TickInterval)
	if c.Scheduler.TickInterval == "" {
		c.Scheduler.TickInterval = defaultTickInterval
	}
	if d, err := time.ParseDuration(c.Scheduler.TickInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid scheduler.tick_interval: %q", c.Scheduler.TickInterval)
	}

	if c.LoopGuard.SoftLimit <= 0 {
		c.LoopGuard.SoftLimit = defaultSoftLimit
	}
	if c.LoopGuard.HardLimit <= 0 {
		c.LoopGuard.HardLimit = defaultHardLimit
	}
	if c.LoopGuard.SimilarityThreshold == 0 {
		c.LoopGuard.SimilarityThreshold = defaultSimilarity
	}
	if c.LoopGuard.HardLimit <= c.LoopGuard.SoftLimit {
		return fmt.Errorf("loop_guard.hard_limit (%d) must be greater than soft_limit (%d)",
			c.LoopGuard.HardLimit, c.LoopGuard.SoftLimit)
	}
	if c.LoopGuard.SimilarityThreshold < 0 || c.LoopGuard.SimilarityThreshold > 1 {
		return fmt.Errorf("loop_guard.similarity_threshold must be within [0, 1], got %v",
			c.LoopGuard.SimilarityThreshold)
	}

	c.Executor.Type = strings.ToLower(strings.TrimSpace(c.Executor.Type))
	if c.Executor.Type == "" {
		c.Executor.Type = ExecutorEcho
	}
	switch c.Executor.Type {
	case ExecutorEcho:
	case ExecutorWebhook:
		c.Executor.URL = strings.TrimSpace(c.Executor.URL)
		if c.Executor.URL == "" {
			return errors.New("executor.url is required when executor.type=webhook")
		}
		if c.Executor.Timeout < 0 {
			return errors.New("executor.timeout cannot be negative")
		}
	default:
		return fmt.Errorf("invalid executor.type: %s", c.Executor.Type)
	}

	if c.Metrics.Enabled == nil {
		enabled := true
		c.Metrics.Enabled = &enabled
	}
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %s", c.Metrics.Path)
	}

	normalizedChannels := make(map[string]ChannelConfig, len(c.Channels))
	for key, one := range c.Channels {
		channelID := strings.TrimSpace(key)
		if channelID == "" {
			return errors.New("channel id cannot be empty")
		}
		if strings.Contains(channelID, ":") {
			return fmt.Errorf("channel id cannot contain ':', got %s", channelID)
		}
		one.ID = channelID

		if err := one.Validate(); err != nil {
			return fmt.Errorf("channels[%s] validation failed: %w", channelID, err)
		}
		normalizedChannels[channelID] = one
	}
	c.Channels = normalizedChannels
	return nil
}

func (c *ChannelConfig) Validate() error {
	if c == nil {
		return errors.New("channel config cannot be nil")
	}

	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if _, ok := channelTypes[c.Type]; !ok {
		return fmt.Errorf("unsupported channel type: %q", c.Type)
	}
	if !c.Enabled {
		return nil
	}

	if c.Type == "telegram" {
		token, _ := c.Config["token"].(string)
		if strings.TrimSpace(token) == "" {
			return errors.New("config.token is required for telegram channels")
		}
	}
	return nil
}
