package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/strix/internal/channel"
	"github.com/tgifai/strix/internal/config"
	"github.com/tgifai/strix/internal/consts"
	"github.com/tgifai/strix/internal/gateway"
	"github.com/tgifai/strix/internal/pkg/logs"
)

var runHwd = &RunRunner{}

type RunRunner struct{}

func (r *RunRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the agent with its configured channels, scheduler and control API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "stdin",
				Usage: "read chat messages from the terminal",
			},
		},
		Action: r.run,
	}
}

func (r *RunRunner) run(ctx context.Context, cmd *cli.Command) error {
	cfgPath := configPath(cmd)

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		fmt.Println("Strix is not configured yet. Run \"strix init\" to get started.")
		return nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}
	home := config.Home()

	if err = r.initLogger(home, cfg.Logging); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}

	logs.CtxInfo(ctx, "booting strix, home %s, config %s", home, cfgPath)

	if withStdinChannel(cfg, cmd.Bool("stdin"), isatty.IsTerminal(os.Stdin.Fd())) {
		logs.CtxInfo(ctx, "stdin channel enabled")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gw, err := gateway.NewGateway(ctx, cfg, home)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	if err = gw.Start(ctx); err != nil {
		cancel()
		_ = gw.Stop(context.Background())
		return fmt.Errorf("start gateway: %w", err)
	}

	logs.CtxInfo(ctx, "strix is running on %s. Press Ctrl+C to stop.", cfg.Gateway.Bind)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "Received shutdown signal (%s). Stopping...", sig.String())
	case <-ctx.Done():
		logs.CtxInfo(ctx, "Context canceled. Stopping...")
	}

	if err = gw.Stop(context.Background()); err != nil {
		logs.CtxError(ctx, "stop gateway error: %v", err)
	}

	logs.CtxInfo(ctx, "all stopped, good bye!")
	return nil
}

// withStdinChannel adds a stdin channel when forced, or when stdin is a
// terminal and no chat platform is enabled. It reports whether one is active.
func withStdinChannel(cfg *config.Config, force, tty bool) bool {
	chat := false
	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		switch strings.ToLower(ch.Type) {
		case string(channel.Stdin):
			return true
		case string(channel.Telegram):
			chat = true
		}
	}
	if !force && (chat || !tty) {
		return false
	}
	if cfg.Channels == nil {
		cfg.Channels = make(map[string]config.ChannelConfig)
	}
	cfg.Channels[string(channel.Stdin)] = config.ChannelConfig{
		Type:    string(channel.Stdin),
		Enabled: true,
	}
	return true
}

func (r *RunRunner) initLogger(home string, cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       consts.ResolvePath(home, cfg.File),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}
