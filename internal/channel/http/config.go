package http

import (
	"errors"
	"fmt"

	"github.com/bytedance/gg/gconv"

	"github.com/tgifai/strix/internal/channel"
)

const defaultOutboxSize = 100

type Config struct {
	// APIKey is an optional bearer token for authenticating incoming requests.
	// When set, requests must include "Authorization: Bearer <api_key>".
	APIKey string
	// OutboxSize caps undelivered messages kept per chat; the oldest are
	// dropped first.
	OutboxSize int
}

func (c *Config) Validate() error {
	if c.OutboxSize < 0 {
		return errors.New("outbox_size cannot be negative")
	}
	if c.OutboxSize == 0 {
		c.OutboxSize = defaultOutboxSize
	}
	return nil
}

func (c *Config) GetType() channel.Type {
	return channel.HTTP
}

func ParseConfig(configMap map[string]interface{}) (*Config, error) {
	cfg := &Config{}
	cfg.APIKey = gconv.To[string](configMap["api_key"])
	cfg.OutboxSize = gconv.To[int](configMap["outbox_size"])

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid http config: %w", err)
	}
	return cfg, nil
}
