package stdin

import (
	"github.com/bytedance/gg/gconv"

	"github.com/tgifai/strix/internal/channel"
)

const defaultPrompt = "strix> "

type Config struct {
	// Prompt is printed before each line is read.
	Prompt string
}

func (c *Config) GetType() channel.Type {
	return channel.Stdin
}

func ParseConfig(configMap map[string]interface{}) (*Config, error) {
	cfg := &Config{Prompt: defaultPrompt}
	if v, ok := configMap["prompt"]; ok {
		cfg.Prompt = gconv.To[string](v)
	}
	return cfg, nil
}
