// Package executor holds the built-in turn executors: echo for local runs
// and webhook for agents living in another process.
package executor

import (
	"fmt"
	"time"

	"github.com/tgifai/strix/internal/config"
	"github.com/tgifai/strix/internal/turn"
)

// New builds the executor named by cfg.Type.
func New(cfg config.ExecutorConfig, controlURL string) (turn.Executor, error) {
	switch cfg.Type {
	case "", config.ExecutorEcho:
		return NewEcho(), nil
	case config.ExecutorWebhook:
		return NewWebhook(WebhookOptions{
			URL:        cfg.URL,
			Headers:    cfg.Headers,
			Timeout:    time.Duration(cfg.Timeout) * time.Second,
			ControlURL: controlURL,
		})
	default:
		return nil, fmt.Errorf("unknown executor type: %s", cfg.Type)
	}
}
