package telegram

import (
	"errors"
	"fmt"

	"github.com/bytedance/gg/gconv"
	"github.com/bytedance/gg/gslice"

	"github.com/tgifai/strix/internal/channel"
)

type Config struct {
	Token string // Telegram Bot Token
	// AllowedChats restricts inbound messages to these chat ids. Empty
	// accepts every chat.
	AllowedChats []int64
	// RequireMention drops group messages that do not mention the bot.
	RequireMention bool
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("telegram bot token cannot be empty")
	}
	return nil
}

func (c *Config) GetType() channel.Type {
	return channel.Telegram
}

func (c *Config) chatAllowed(chatID int64) bool {
	return len(c.AllowedChats) == 0 || gslice.Contains(c.AllowedChats, chatID)
}

func ParseConfig(configMap map[string]interface{}) (*Config, error) {
	config := &Config{RequireMention: true}

	token := gconv.To[string](configMap["token"])
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	config.Token = token

	if v, ok := configMap["require_mention"]; ok {
		config.RequireMention = gconv.To[bool](v)
	}

	if allowedRaw, ok := configMap["allowed_chats"].([]interface{}); ok && len(allowedRaw) > 0 {
		config.AllowedChats = make([]int64, 0, len(allowedRaw))
		for _, one := range allowedRaw {
			chatID := gconv.To[int64](one)
			if chatID == 0 {
				return nil, fmt.Errorf("invalid chat ID: %v", one)
			}
			config.AllowedChats = append(config.AllowedChats, chatID)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telegram config: %w", err)
	}

	return config, nil
}
