package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/strix/internal/config"
	"github.com/tgifai/strix/internal/consts"
	"github.com/tgifai/strix/internal/schedule"
)

// ── style helpers ──────────────────────────────────────────────────

var (
	cBanner  = color.New(color.FgCyan, color.Bold)
	cWarn    = color.New(color.FgYellow)
	cSuccess = color.New(color.FgGreen)
	cError   = color.New(color.FgRed)
	cDim     = color.New(color.FgHiBlack)
)

var initHwd = &InitRunner{}

type InitRunner struct{}

func (r *InitRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create the home directory with a default config and schedule",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing config (a backup is kept)",
			},
			&cli.StringFlag{
				Name:  "telegram-token",
				Usage: "Enable the telegram channel with this bot token",
			},
			&cli.StringFlag{
				Name:  "webhook",
				Usage: "Hand turns to this webhook instead of the echo executor",
			},
		},
		Action: r.run,
	}
}

// ── main flow ──────────────────────────────────────────────────────

func (r *InitRunner) run(_ context.Context, cmd *cli.Command) error {
	home := homeDir(cmd)
	cfgPath := filepath.Join(home, consts.ConfigFileName)

	cBanner.Printf("Initializing strix home at %s\n\n", home)

	cfg := config.Default()
	if token := strings.TrimSpace(cmd.String("telegram-token")); token != "" {
		cfg.Channels["tg"] = config.ChannelConfig{
			Type:    "telegram",
			Enabled: true,
			Config:  map[string]interface{}{"token": token},
		}
	}
	if url := strings.TrimSpace(cmd.String("webhook")); url != "" {
		cfg.Executor.Type = config.ExecutorWebhook
		cfg.Executor.URL = url
	}

	err := config.Init(cfgPath, cfg, cmd.Bool("force"))
	switch {
	case errors.Is(err, config.ErrConfigExists):
		cWarn.Printf("  Config already exists at %s, keeping it (use --force to overwrite)\n", cfgPath)
		if cfg, err = config.Load(cfgPath); err != nil {
			cError.Printf("  Existing config is invalid: %v\n", err)
			return err
		}
	case err != nil:
		cError.Printf("  Failed to write config: %v\n", err)
		return err
	default:
		cSuccess.Printf("  ✓ Config written to %s\n", cfgPath)
	}

	if err = os.MkdirAll(filepath.Join(home, consts.LogsDirName), 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	schedPath := consts.ResolvePath(home, cfg.Scheduler.File)
	if _, err = os.Stat(schedPath); err == nil {
		cWarn.Printf("  Schedule already exists at %s, keeping it\n", schedPath)
	} else {
		if _, err = schedule.NewStore(schedPath).Save(schedule.DefaultJobs()); err != nil {
			cError.Printf("  Failed to write schedule: %v\n", err)
			return err
		}
		cSuccess.Printf("  ✓ Schedule written to %s\n", schedPath)
	}

	for _, p := range []string{
		consts.ResolvePath(home, cfg.Audit.EventsFile),
		consts.ResolvePath(home, cfg.Audit.JournalFile),
	} {
		if err = touch(p); err != nil {
			return err
		}
	}

	fmt.Println()
	cDim.Println("  Start the agent with: strix run")
	return nil
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return f.Close()
}
